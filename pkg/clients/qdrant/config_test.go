package qdrant

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_AppliesDefaults(t *testing.T) {
	t.Parallel()
	var c Config

	require.NoError(t, c.Validate())

	assert.Equal(t, DefaultHost, c.Host)
	assert.Equal(t, DefaultGRPCPort, c.GRPCPort)
	assert.Equal(t, DefaultMaxWindow, c.MaxWindow)
	assert.Equal(t, DefaultHealthTimeout, c.HealthTimeout)
	assert.Equal(t, "qdrant:6334", c.GRPCAddress())
}

func TestConfig_Validate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		cfg    Config
		substr string
	}{
		{"port too large", Config{GRPCPort: 70000}, "grpc_port"},
		{"negative port", Config{GRPCPort: -1}, "grpc_port"},
		{"negative window", Config{MaxWindow: -1}, "max_window"},
		{"negative timeout", Config{HealthTimeout: -time.Second}, "health_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}

func TestSecret_Redacted(t *testing.T) {
	t.Parallel()
	c := Config{APIKey: Secret("s3cr3t")}

	assert.Equal(t, "s3cr3t", c.APIKey.Value())
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", c.APIKey, c, c), "s3cr3t")
	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "s3cr3t")
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("é", maxStatementTruncateLen+5)

	assert.Equal(t, "short", truncateStatement("short"))
	got := truncateStatement(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, maxStatementTruncateLen+3, len([]rune(got)))
}
