// Package auth verifies bearer JWTs against an identity provider's JWKS
// and resolves them into a request [Principal].
//
// The pipeline has four parts:
//   - [JWKSCache] keeps the provider's key set in a shared [store.KeyValueCache]
//     and refetches it on miss, on unknown kid and on a fixed interval.
//   - [Verifier] checks one token: header, key selection, signature, expiry,
//     token type and revocation.
//   - [Resolver] turns the verifier's outcome into a Principal. Identity
//     provider outages resolve to [Guest] in [DegradeToGuest] mode; credential
//     failures are always returned as errors.
//   - [Middleware] and the gRPC interceptors apply the resolver at the edge.
//
// The audience claim is not validated.
package auth

import (
	"fmt"
	"time"
)

// Config is the environment-driven auth configuration. Nest it under a
// struct field tagged env:"AUTH" to read AUTH_* variables.
type Config struct {
	// JWKSURL is the provider's key set endpoint. When empty it is
	// discovered from IssuerURL.
	JWKSURL   string `env:"JWKS_URL" yaml:"jwks_url" json:"jwks_url"`
	IssuerURL string `env:"ISSUER_URL" yaml:"issuer_url" json:"issuer_url"`

	JWKSCacheTTL    time.Duration `env:"JWKS_CACHE_TTL" envDefault:"600s" yaml:"jwks_cache_ttl" json:"jwks_cache_ttl"`
	RefreshInterval time.Duration `env:"JWKS_REFRESH_INTERVAL" envDefault:"600s" yaml:"jwks_refresh_interval" json:"jwks_refresh_interval"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"3s" yaml:"fetch_timeout" json:"fetch_timeout"`
	ClockSkew       time.Duration `env:"CLOCK_SKEW" envDefault:"30s" yaml:"clock_skew" json:"clock_skew"`

	// Algorithms restricts accepted signing algorithms. Empty accepts any
	// asymmetric algorithm the key declares.
	Algorithms []string `env:"ALGORITHMS" yaml:"algorithms" json:"algorithms"`

	// Revocation enables the blacklist:{jti} denylist check.
	Revocation bool `env:"REVOCATION" envDefault:"true" yaml:"revocation" json:"revocation"`
}

// Validate checks that a key source is configured and durations are sane.
func (c *Config) Validate() error {
	if c.JWKSURL == "" && c.IssuerURL == "" {
		return fmt.Errorf("auth: one of JWKS URL or issuer URL is required")
	}
	switch {
	case c.JWKSCacheTTL <= 0:
		return fmt.Errorf("auth: JWKS cache TTL must be positive")
	case c.FetchTimeout <= 0:
		return fmt.Errorf("auth: fetch timeout must be positive")
	case c.RefreshInterval < 0:
		return fmt.Errorf("auth: refresh interval must not be negative")
	case c.ClockSkew < 0:
		return fmt.Errorf("auth: clock skew must not be negative")
	}
	for _, alg := range c.Algorithms {
		if !asymmetric(alg) {
			return fmt.Errorf("auth: algorithm %q is not an accepted asymmetric algorithm", alg)
		}
	}
	return nil
}

// DefaultConfig returns the defaults without a key source.
func DefaultConfig() Config {
	return Config{
		JWKSCacheTTL:    600 * time.Second,
		RefreshInterval: 600 * time.Second,
		FetchTimeout:    3 * time.Second,
		ClockSkew:       30 * time.Second,
		Revocation:      true,
	}
}
