// Package redis is the Redis adapter behind the edge services' shared
// state: the rate limiter's sorted-set windows, the cached JWKS document,
// the token denylist and the catalog read-through cache.
//
// [Client] implements [store.CounterStore], [store.AtomicCounterStore] and
// [store.KeyValueCache] on top of go-redis (github.com/redis/go-redis/v9).
// Window maintenance runs as two pipelined batches; the optional atomic
// admit runs as a Lua script.
//
//	cfg := redis.DefaultConfig()
//	cfg.URI = os.Getenv("REDIS_URI")
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Every call opens an OpenTelemetry client span carrying db.system,
// db.redis.database_index and a truncated db.statement.
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen bounds db.statement so keys with user data do not
// leak whole into telemetry.
const maxStatementTruncateLen = 100

const (
	DefaultHost         = "redis"
	DefaultPort         = 6379
	DefaultDB           = 0
	DefaultPoolSize     = 50
	DefaultMinIdleConns = 5
	DefaultMaxRetries   = 1

	// Timeouts are short: a slow store must fail fast so the limiter can
	// admit and the resolver can degrade.
	DefaultDialTimeout  = 2 * time.Second
	DefaultReadTimeout  = 1 * time.Second
	DefaultWriteTimeout = 1 * time.Second

	DefaultHealthTimeout = 2 * time.Second
)

// ---------------------------------------------------------------------------
// Secret type
// ---------------------------------------------------------------------------

// Secret is a string whose String, GoString and MarshalText return
// "[REDACTED]". Use [Secret.Value] for the real value.
type Secret string

const redacted = "[REDACTED]"

// String returns the redacted placeholder, so the secret is not printed by
// fmt.Println, slog attributes, or similar formatting paths.
func (s Secret) String() string { return redacted }

// GoString returns the redacted placeholder for the %#v verb, which would
// otherwise print the underlying string.
func (s Secret) GoString() string { return redacted }

// Value returns the real secret. Call it only where the value is handed to
// the driver.
func (s Secret) Value() string { return string(s) }

// MarshalText returns the redacted placeholder, so a Config serialized to
// JSON or YAML for diagnostics never carries the credential.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config holds the Redis connection settings. URI, when set, takes
// precedence over Host, Port, DB and Password.
type Config struct {
	// URI such as "redis://:password@redis:6379/0"; rediss:// enables TLS.
	URI string `json:"uri,omitempty" yaml:"uri" env:"REDIS_URI"`

	Host     string `json:"host,omitempty" yaml:"host" env:"REDIS_HOST"`
	Port     int    `json:"port,omitempty" yaml:"port" env:"REDIS_PORT"`
	DB       int    `json:"db" yaml:"db" env:"REDIS_DB"`
	Password Secret `json:"-" yaml:"-" env:"REDIS_PASSWORD"`

	PoolSize     int `json:"pool_size,omitempty" yaml:"pool_size" env:"REDIS_POOL_SIZE"`
	MinIdleConns int `json:"min_idle_conns,omitempty" yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS"`
	// MaxRetries of -1 disables retries.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries" env:"REDIS_MAX_RETRIES"`

	DialTimeout  time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout" env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT"`

	TLSEnabled bool `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"REDIS_TLS_ENABLED"`
}

// DefaultConfig returns a Config pointing at the "redis" host.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate fills zero pool and timeout fields with defaults and returns the
// first invalid setting. Host, Port and DB are not checked when URI is set.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	case c.PoolSize < 1:
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	case c.MinIdleConns < 0:
		return fmt.Errorf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	case c.PoolSize < c.MinIdleConns:
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	case c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0:
		return fmt.Errorf("redis: config timeouts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement cuts s to maxStatementTruncateLen runes plus "...".
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
