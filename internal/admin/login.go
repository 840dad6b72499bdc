package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/StricklySoft/catalog-edge/pkg/auth"
	"github.com/StricklySoft/catalog-edge/pkg/metrics"
	"github.com/StricklySoft/catalog-edge/pkg/ratelimit"
	"github.com/StricklySoft/catalog-edge/pkg/server"
)

// LoginPath serves both GET and POST.
const LoginPath = "/admin/sso/login"

// Client-facing details.
const (
	DetailMissingToken = "Missing Bearer token"
	DetailForbidden    = "Forbidden (email not allowed)"
)

// Config holds the admin allow-lists. Nest it under a field tagged
// env:"ADMIN".
type Config struct {
	AllowedEmails auth.AllowList `env:"ALLOWED_EMAILS" yaml:"allowed_emails" json:"allowed_emails"`
	Superusers    auth.AllowList `env:"SUPERUSERS" yaml:"superusers" json:"superusers"`
}

type loginForm struct {
	Token string `validate:"required,jwt"`
}

// LoginHandler signs staff in with an auth-service access token.
type LoginHandler struct {
	resolver *auth.Resolver
	staff    StaffStore
	cfg      Config
	logger   *slog.Logger
	validate *validator.Validate
}

// NewLoginHandler returns a handler verifying tokens with v. The provider
// being unreachable is reported as 503, never as a guest.
func NewLoginHandler(v auth.TokenVerifier, staff StaffStore, cfg Config, logger *slog.Logger, m *metrics.Metrics) *LoginHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginHandler{
		resolver: auth.NewResolver(v,
			auth.WithMode(auth.Strict),
			auth.WithResolverLogger(logger),
			auth.WithResolverMetrics(m),
		),
		staff:    staff,
		cfg:      cfg,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Mount registers GET and POST on [LoginPath].
func (h *LoginHandler) Mount(r chi.Router) {
	r.Get(LoginPath, h.ServeHTTP)
	r.Post(LoginPath, h.ServeHTTP)
}

// ServeHTTP exchanges the presented access token for a staff session.
//
// The token is read from the Authorization header, falling back to the
// token form or query field. A missing token is 401 with a Bearer
// challenge. A token that fails verification is 401 carrying the
// verifier's error code. A verified identity outside the allow list is
// 403. An unreachable identity provider is 503, since this endpoint has no
// guest fallback. On success the login is recorded and the staff record is
// returned as JSON.
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	form := loginForm{Token: loginToken(r)}
	if err := h.validate.Struct(form); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && ve[0].Tag() == "required" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			server.WriteDetail(w, http.StatusUnauthorized, DetailMissingToken)
			return
		}
		auth.WriteError(w, err)
		return
	}

	p, err := h.resolver.Resolve(ctx, form.Token)
	if err != nil {
		auth.WriteError(w, err)
		return
	}

	email := p.Email()
	if !h.cfg.AllowedEmails.Contains(email) {
		h.logger.WarnContext(ctx, "admin: email not allowed", "user_id", p.UserID())
		server.WriteDetail(w, http.StatusForbidden, DetailForbidden)
		return
	}

	acc, err := h.staff.RecordLogin(ctx, Login{
		Username:  strings.ToLower(email),
		Email:     email,
		Superuser: h.cfg.Superusers.Contains(email),
		UserAgent: r.UserAgent(),
		IPAddress: ratelimit.ClientIP(r),
	})
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "admin: staff signed in",
		"user_id", acc.ID,
		"created", acc.Created,
		"superuser", acc.IsSuperuser,
	)
	server.WriteJSON(w, http.StatusOK, acc)
}

// loginToken takes the bearer header first, then the token query or form
// field.
func loginToken(r *http.Request) string {
	if t := auth.ExtractBearerToken(r.Header.Get(auth.HeaderAuthorization)); t != "" {
		return t
	}
	return strings.TrimSpace(r.FormValue("token"))
}
