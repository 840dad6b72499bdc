package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
)

// Detail is the error body every edge endpoint returns.
type Detail struct {
	Detail string `json:"detail"`
}

// WriteJSON writes v as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: failed to encode response", "error", err)
	}
}

// WriteDetail writes {"detail": detail} with status.
func WriteDetail(w http.ResponseWriter, status int, detail string) {
	WriteJSON(w, status, Detail{Detail: detail})
}

// WriteError maps err to its HTTP status with the status text as detail.
// Handlers that owe the client a specific message use WriteDetail.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if e, ok := sserr.AsError(err); ok {
		status = e.HTTPStatus()
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "server: request failed",
			"error", err,
			"path", r.URL.Path,
			"status", status,
		)
	}
	WriteDetail(w, status, http.StatusText(status))
}

// Recoverer converts panics into a logged 500 {"detail":"Internal Server
// Error"}. http.ErrAbortHandler is re-panicked.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "server: panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				WriteDetail(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
