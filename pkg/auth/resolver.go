package auth

import (
	"context"
	"log/slog"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
	"github.com/StricklySoft/catalog-edge/pkg/metrics"
)

// ---------------------------------------------------------------------------
// Degradation mode
// ---------------------------------------------------------------------------

// Mode selects how the resolver treats an unreachable identity provider.
//
// The mode only governs availability failures. A token that is present and
// rejected on its merits is never downgraded to a guest in either mode, so
// a client cannot escape a revocation by timing a request to coincide with
// a key set outage.
type Mode int

const (
	// DegradeToGuest resolves the request as a guest. Used by endpoints
	// that serve anonymous traffic.
	DegradeToGuest Mode = iota
	// Strict returns the UNAVAIL_004 error. Used by endpoints whose only
	// purpose is authentication.
	Strict
)

// String returns the lowercase mode name used in logs and configuration,
// "strict" or "degrade_to_guest".
func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "degrade_to_guest"
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

// TokenVerifier verifies one bearer token. [*Verifier] is the production
// implementation; tests substitute a stub to force specific error codes.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Resolver turns optional bearer credentials into a [Principal].
//
// No token is a guest. A credential failure (expired, forged, unknown kid,
// wrong type, revoked) is always returned as an error. Provider or cache
// unavailability is a guest in DegradeToGuest mode and an error in Strict.
type Resolver struct {
	verifier TokenVerifier
	mode     Mode
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// ResolverOption configures a [Resolver].
type ResolverOption func(*Resolver)

// WithMode sets the unavailability policy.
func WithMode(m Mode) ResolverOption {
	return func(r *Resolver) { r.mode = m }
}

// WithResolverLogger sets the logger used for degradation warnings and
// credential rejections. The default is slog.Default(). Token contents are
// never logged, only the error code and message.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// WithResolverMetrics counts each resolution outcome (guest,
// authenticated, degraded, unavailable, rejected) in m. A nil m disables
// recording.
func WithResolverMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver returns a DegradeToGuest resolver over v.
func NewResolver(v TokenVerifier, opts ...ResolverOption) *Resolver {
	r := &Resolver{verifier: v, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode returns the configured policy.
func (r *Resolver) Mode() Mode { return r.mode }

// Resolve returns the principal for token. On error the principal is the
// guest and must not be used.
func (r *Resolver) Resolve(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		r.metrics.Principal("guest")
		return Guest(), nil
	}
	claims, err := r.verifier.Verify(ctx, token)
	if err == nil {
		r.metrics.Principal("authenticated")
		return Authenticated(claims), nil
	}

	if sserr.IsUnavailable(err) {
		if r.mode == DegradeToGuest {
			r.logger.WarnContext(ctx, "auth: identity provider unavailable, resolving as guest", "error", err)
			r.metrics.Principal("degraded")
			return Guest(), nil
		}
		r.logger.ErrorContext(ctx, "auth: identity provider unavailable", "error", err)
		r.metrics.Principal("unavailable")
		return Guest(), err
	}

	r.logger.InfoContext(ctx, "auth: credential rejected",
		"code", string(sserr.GetCode(err)),
		"error", err,
	)
	r.metrics.Principal("rejected")
	return Guest(), err
}
