package catalog

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
	"github.com/StricklySoft/catalog-edge/pkg/server"
)

const (
	defaultPageNumber = 1
	defaultPageSize   = 10
)

// Handler exposes a [Service] over HTTP.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler returns a Handler. A nil logger uses slog.Default().
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Mount registers, for every kind,
//
//	GET /{kind}/          first page of the whole kind
//	GET /{kind}/search    ?query=&page_number=&page_size=
//	GET /{kind}/{id}
func (h *Handler) Mount(r chi.Router) {
	for _, kind := range Kinds() {
		r.Route("/"+string(kind), func(r chi.Router) {
			r.Get("/", h.search(kind))
			r.Get("/search", h.search(kind))
			r.Get("/{id}", h.get(kind))
		})
	}
}

func (h *Handler) get(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := h.svc.Get(r.Context(), kind, chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, kind, err)
			return
		}
		server.WriteJSON(w, http.StatusOK, item)
	}
}

func (h *Handler) search(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, detail := parseQuery(r)
		if detail == "" {
			detail = h.svc.Validate(q)
		}
		if detail != "" {
			server.WriteDetail(w, http.StatusUnprocessableEntity, detail)
			return
		}
		page, err := h.svc.Search(r.Context(), kind, q)
		if err != nil {
			h.fail(w, r, kind, err)
			return
		}
		server.WriteJSON(w, http.StatusOK, page)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, kind Kind, err error) {
	switch {
	case sserr.IsNotFound(err):
		server.WriteDetail(w, http.StatusNotFound, kind.label()+" not found")
	case sserr.IsValidation(err):
		server.WriteDetail(w, http.StatusUnprocessableEntity, "invalid query parameters")
	default:
		h.logger.ErrorContext(r.Context(), "catalog: search store failed",
			"kind", string(kind),
			"path", r.URL.Path,
			"error", err,
		)
		server.WriteDetail(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
	}
}

// parseQuery reads the search parameters, applying defaults for absent
// ones. The detail is non-empty when a number does not parse.
func parseQuery(r *http.Request) (Query, string) {
	v := r.URL.Query()
	q := Query{Text: v.Get("query"), PageNumber: defaultPageNumber, PageSize: defaultPageSize}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"page_number", &q.PageNumber},
		{"page_size", &q.PageSize},
	} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Sprintf("%s must be an integer", p.name)
		}
		*p.dst = n
	}
	return q, ""
}
