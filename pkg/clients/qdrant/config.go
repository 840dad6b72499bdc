// Package qdrant is the search index adapter behind the catalog read API.
//
// [Client] implements [store.DocumentSearch] over the Qdrant gRPC client
// (github.com/qdrant/go-client). Each catalog index is a Qdrant collection;
// documents are points keyed by UUID whose payload is the document source.
// Search is a full-text match on one payload field, paged with scroll.
//
//	cfg := qdrant.DefaultConfig()
//	cfg.APIKey = qdrant.Secret(os.Getenv("QDRANT_API_KEY"))
//	client, err := qdrant.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Every call opens an OpenTelemetry client span with db.system, db.name
// and a truncated db.statement.
package qdrant

import (
	"fmt"
	"time"
)

// maxStatementTruncateLen bounds db.statement so search terms do not leak
// whole into telemetry.
const maxStatementTruncateLen = 100

const (
	DefaultHost     = "qdrant"
	DefaultGRPCPort = 6334

	// DefaultMaxWindow caps from+size of a search. Scroll has no numeric
	// offset, so deep pages cost a full scan of the preceding hits.
	DefaultMaxWindow = 10000

	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a string whose String, GoString and MarshalText return
// "[REDACTED]". Use [Secret.Value] for the real value.
type Secret string

const redacted = "[REDACTED]"

// String returns "[REDACTED]".
func (s Secret) String() string { return redacted }

// GoString returns "[REDACTED]".
func (s Secret) GoString() string { return redacted }

// Value returns the API key as passed to the gRPC client.
func (s Secret) Value() string { return string(s) }

// MarshalText returns "[REDACTED]".
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config holds the Qdrant connection settings.
type Config struct {
	Host     string `json:"host,omitempty" yaml:"host" env:"QDRANT_HOST"`
	GRPCPort int    `json:"grpc_port,omitempty" yaml:"grpc_port" env:"QDRANT_GRPC_PORT"`
	APIKey   Secret `json:"-" yaml:"-" env:"QDRANT_API_KEY"`
	UseTLS   bool   `json:"use_tls,omitempty" yaml:"use_tls" env:"QDRANT_USE_TLS"`

	// MaxWindow is the largest from+size a search may request.
	MaxWindow int `json:"max_window,omitempty" yaml:"max_window" env:"QDRANT_MAX_WINDOW"`

	HealthTimeout time.Duration `json:"health_timeout,omitempty" yaml:"health_timeout" env:"QDRANT_HEALTH_TIMEOUT"`
}

// DefaultConfig returns a Config pointing at the "qdrant" host.
func DefaultConfig() *Config {
	return &Config{
		Host:          DefaultHost,
		GRPCPort:      DefaultGRPCPort,
		MaxWindow:     DefaultMaxWindow,
		HealthTimeout: DefaultHealthTimeout,
	}
}

// Validate fills zero fields with defaults and returns the first invalid
// setting.
func (c *Config) Validate() error {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.GRPCPort == 0 {
		c.GRPCPort = DefaultGRPCPort
	}
	if c.MaxWindow == 0 {
		c.MaxWindow = DefaultMaxWindow
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	switch {
	case c.GRPCPort < 1 || c.GRPCPort > 65535:
		return fmt.Errorf("qdrant: config grpc_port must be between 1 and 65535, got %d", c.GRPCPort)
	case c.MaxWindow < 0:
		return fmt.Errorf("qdrant: config max_window must not be negative, got %d", c.MaxWindow)
	case c.HealthTimeout < 0:
		return fmt.Errorf("qdrant: config health_timeout must not be negative, got %v", c.HealthTimeout)
	}
	return nil
}

// GRPCAddress returns host:port.
func (c *Config) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
