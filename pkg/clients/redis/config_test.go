package redis

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_Redacted(t *testing.T) {
	t.Parallel()
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", s.GoString())
	assert.Equal(t, "[REDACTED] [REDACTED]", fmt.Sprintf("%v %#v", s, s))
	assert.Equal(t, "hunter2", s.Value())

	data, err := json.Marshal(struct{ P Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
}

func TestConfig_Validate_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, *DefaultConfig(), cfg)
}

func TestConfig_Validate_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := Config{Host: "cache.internal", Port: 6380, PoolSize: 8, MinIdleConns: 2, ReadTimeout: 250 * time.Millisecond}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cache.internal", cfg.Host)
	assert.Equal(t, 6380, cfg.Port)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, 250*time.Millisecond, cfg.ReadTimeout)
}

func TestConfig_Validate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"negative port", Config{Port: -1}, "port must be between"},
		{"port too high", Config{Port: 70000}, "port must be between"},
		{"negative pool", Config{PoolSize: -1}, "pool_size must be >= 1"},
		{"negative idle", Config{MinIdleConns: -1}, "min_idle_conns must be >= 0"},
		{"idle above pool", Config{PoolSize: 2, MinIdleConns: 3}, "must be >= min_idle_conns"},
		{"negative timeout", Config{ReadTimeout: -time.Second}, "timeouts must not be negative"},
		{"bad scheme", Config{URI: "mysql://localhost:3306/db"}, "URI scheme must be"},
		{"no scheme", Config{URI: "not-a-uri"}, "URI scheme must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Validate_URISkipsStructuredFields(t *testing.T) {
	t.Parallel()
	for _, uri := range []string{"redis://localhost:6379/0", "rediss://:pw@localhost:6379/2"} {
		cfg := Config{URI: uri, Port: -5}
		require.NoError(t, cfg.Validate(), uri)
		assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	}
}

func TestConfig_Options(t *testing.T) {
	t.Parallel()

	cfg := Config{Host: "cache", Port: 6390, DB: 4, Password: "pw", TLSEnabled: true}
	require.NoError(t, cfg.Validate())
	opts, err := cfg.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6390", opts.Addr)
	assert.Equal(t, 4, opts.DB)
	assert.Equal(t, "pw", opts.Password)
	require.NotNil(t, opts.TLSConfig)

	cfg = Config{URI: "redis://:secret@other:6379/7", ReadTimeout: 300 * time.Millisecond}
	require.NoError(t, cfg.Validate())
	opts, err = cfg.options()
	require.NoError(t, err)
	assert.Equal(t, "other:6379", opts.Addr)
	assert.Equal(t, 7, opts.DB)
	assert.Equal(t, 300*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, DefaultPoolSize, opts.PoolSize)
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", truncateStatement(""))
	assert.Equal(t, "GET auth:jwks", truncateStatement("GET auth:jwks"))

	exact := strings.Repeat("x", maxStatementTruncateLen)
	assert.Equal(t, exact, truncateStatement(exact))

	long := truncateStatement(strings.Repeat("日", maxStatementTruncateLen+1))
	assert.Len(t, []rune(long), maxStatementTruncateLen+3)
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.NotContains(t, long, "�")
}
