package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/StricklySoft/catalog-edge/pkg/metrics"
	"github.com/StricklySoft/catalog-edge/pkg/server"
)

// HeaderTestBypass skips the limiter when set to "1" and the bypass is
// enabled in [Config].
const HeaderTestBypass = "X-Test-Bypass-Ratelimit"

// Config is the environment-driven limiter configuration. Nest it under a
// struct field tagged env:"RATELIMIT" to read RATELIMIT_* variables.
type Config struct {
	DefaultLimit  int           `env:"DEFAULT_LIMIT" envDefault:"5" yaml:"default_limit" json:"default_limit"`
	DefaultWindow time.Duration `env:"DEFAULT_WINDOW" envDefault:"10s" yaml:"default_window" json:"default_window"`
	Rules         Rules         `env:"RULES" yaml:"rules" json:"rules"`
	Whitelist     []string      `env:"WHITELIST" envDefault:"/health,/metrics" yaml:"whitelist" json:"whitelist"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"1s" yaml:"timeout" json:"timeout"`
	// Atomic tightens admission with a server-side script.
	Atomic bool `env:"ATOMIC" yaml:"atomic" json:"atomic"`
	// AllowTestBypass honors X-Test-Bypass-Ratelimit: 1. Never enable in
	// production.
	AllowTestBypass bool `env:"ALLOW_TEST_BYPASS" yaml:"allow_test_bypass" json:"allow_test_bypass"`
}

// Validate checks the default rule.
func (c *Config) Validate() error {
	if c.DefaultLimit <= 0 {
		return fmt.Errorf("ratelimit: default limit must be positive, got %d", c.DefaultLimit)
	}
	if c.DefaultWindow < time.Second || c.DefaultWindow%time.Second != 0 {
		return fmt.Errorf("ratelimit: default window must be a positive whole number of seconds, got %v", c.DefaultWindow)
	}
	return nil
}

// RuleSet builds the matcher for c.
func (c Config) RuleSet() (*RuleSet, error) {
	return NewRuleSet(c.Rules, c.DefaultLimit, c.DefaultWindow)
}

// Middleware guards next with the limiter.
//
// Whitelisted paths pass untouched and without headers. Admitted requests
// get X-RateLimit-* headers; rejected ones get 429
// {"detail":"Too Many Requests"} plus Retry-After. Degraded decisions pass
// without headers.
type Middleware struct {
	limiter   *Limiter
	rules     *RuleSet
	whitelist map[string]struct{}
	bypass    bool
	userID    UserIDFunc
	metrics   *metrics.Metrics
}

// MiddlewareOption configures a [Middleware].
type MiddlewareOption func(*Middleware)

// WithWhitelist exempts exact paths from limiting.
func WithWhitelist(paths ...string) MiddlewareOption {
	return func(m *Middleware) {
		for _, p := range paths {
			m.whitelist[p] = struct{}{}
		}
	}
}

// WithTestBypass enables the X-Test-Bypass-Ratelimit header.
func WithTestBypass(enabled bool) MiddlewareOption {
	return func(m *Middleware) { m.bypass = enabled }
}

// WithUserID lets upstream-authenticated requests be keyed by user id.
func WithUserID(fn UserIDFunc) MiddlewareOption {
	return func(m *Middleware) { m.userID = fn }
}

// WithMiddlewareMetrics counts bypassed requests in m.
func WithMiddlewareMetrics(mt *metrics.Metrics) MiddlewareOption {
	return func(m *Middleware) { m.metrics = mt }
}

// NewMiddleware returns a Middleware over limiter and rules.
func NewMiddleware(limiter *Limiter, rules *RuleSet, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		limiter:   limiter,
		rules:     rules,
		whitelist: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if _, ok := m.whitelist[path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		rule := m.rules.Pick(path)
		if m.bypass && r.Header.Get(HeaderTestBypass) == "1" {
			m.metrics.RateLimitDecision(rule.Pattern, metrics.OutcomeBypassed)
			next.ServeHTTP(w, r)
			return
		}

		d := m.limiter.CheckAndRecord(r.Context(), IdentityFromRequest(r, m.userID), path, rule)
		d.SetHeaders(w.Header())
		if !d.Admitted {
			server.WriteDetail(w, http.StatusTooManyRequests, "Too Many Requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
