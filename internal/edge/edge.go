// Package edge assembles the pieces both binaries share: the logger, the
// admission middleware chain and the operational routes.
package edge

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/StricklySoft/catalog-edge/pkg/auth"
	"github.com/StricklySoft/catalog-edge/pkg/lifecycle"
	"github.com/StricklySoft/catalog-edge/pkg/metrics"
	"github.com/StricklySoft/catalog-edge/pkg/ratelimit"
	"github.com/StricklySoft/catalog-edge/pkg/requestid"
	"github.com/StricklySoft/catalog-edge/pkg/server"
	"github.com/StricklySoft/catalog-edge/pkg/store"
)

// Operational paths. Both are exempt from rate limiting by default.
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// LogConfig selects the log level and format. Nest it under a field tagged
// env:"LOG".
type LogConfig struct {
	Level  slog.Level `env:"LEVEL" envDefault:"INFO" yaml:"level" json:"level"`
	Format string     `env:"FORMAT" envDefault:"json" yaml:"format" json:"format"`
}

// NewLogger returns a logger writing to w that tags records with the
// request id.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(requestid.NewLogHandler(h))
}

// NewRateLimit builds the limiter middleware described by cfg.
//
// The limiter runs ahead of identity resolution, so requests are keyed by
// client IP. The user id hook only takes effect when a principal is
// already on the context, as in deployments where an upstream proxy
// authenticates the caller.
func NewRateLimit(cfg ratelimit.Config, cs store.CounterStore, logger *slog.Logger, m *metrics.Metrics) (*ratelimit.Middleware, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rules, err := cfg.RuleSet()
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.NewLimiter(cs,
		ratelimit.WithTimeout(cfg.Timeout),
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(m),
		ratelimit.WithAtomic(cfg.Atomic),
	)
	return ratelimit.NewMiddleware(limiter, rules,
		ratelimit.WithWhitelist(cfg.Whitelist...),
		ratelimit.WithTestBypass(cfg.AllowTestBypass),
		ratelimit.WithUserID(auth.UserID),
		ratelimit.WithMiddlewareMetrics(m),
	), nil
}

// Stack is the middleware chain in front of the routes.
type Stack struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	RateLimit *ratelimit.Middleware
	// Resolver attaches the principal to requests mounted through
	// [Stack.Group]. Nil skips it.
	Resolver *auth.Resolver
}

// Use installs the chain every route shares on r: request id, panic
// recovery, instrumentation, then admission. Identity is not part of it;
// see [Stack.Group].
func (s Stack) Use(r chi.Router) {
	r.Use(
		requestid.Middleware(s.Logger),
		server.Recoverer(s.Logger),
		server.Instrument(s.Metrics),
	)
	if s.RateLimit != nil {
		r.Use(s.RateLimit.Handler)
	}
}

// Group mounts the routes fn registers behind identity resolution. The
// operational routes stay outside it, so a health check carrying a stale
// bearer still reaches /health.
func (s Stack) Group(r chi.Router, fn func(r chi.Router)) {
	r.Group(func(r chi.Router) {
		if s.Resolver != nil {
			r.Use(auth.Middleware(s.Resolver))
		}
		fn(r)
	})
}

// Pinger is a dependency that reports its health.
type Pinger interface {
	Health(ctx context.Context) error
}

// MountOps registers /metrics over g and /health reporting the lifecycle
// state plus each named dependency.
func MountOps(r chi.Router, g prometheus.Gatherer, svc *lifecycle.Service, deps map[string]Pinger) {
	checks := map[string]server.HealthFunc{
		"service": func(ctx context.Context) (string, error) {
			return svc.State().String(), svc.Health(ctx)
		},
	}
	for name, dep := range deps {
		checks[name] = func(ctx context.Context) (string, error) {
			if err := dep.Health(ctx); err != nil {
				return "", err
			}
			return "ok", nil
		}
	}
	r.Get(HealthPath, server.HealthHandler(checks))
	r.Method(http.MethodGet, MetricsPath, metrics.Handler(g))
}
