package postgres

import (
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_Defaults(t *testing.T) {
	t.Parallel()
	c := Config{Database: "catalog_admin", User: "admin"}

	require.NoError(t, c.Validate())

	assert.Equal(t, DefaultHost, c.Host)
	assert.Equal(t, DefaultPort, c.Port)
	assert.Equal(t, SSLModePrefer, c.SSLMode)
	assert.Equal(t, DefaultMaxConns, c.MaxConns)
	assert.Equal(t, DefaultConnectTimeout, c.ConnectTimeout)
}

func TestConfig_Validate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		cfg    Config
		substr string
	}{
		{"bad port", Config{Port: 70000, Database: "d", User: "u"}, "port"},
		{"no database", Config{User: "u"}, "database"},
		{"no user", Config{Database: "d"}, "user"},
		{"bad ssl mode", Config{Database: "d", User: "u", SSLMode: "sometimes"}, "ssl_mode"},
		{"pool inverted", Config{Database: "d", User: "u", MaxConns: 2, MinConns: 5}, "max_conns"},
		{"bad uri scheme", Config{URI: "mysql://localhost/db"}, "scheme"},
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

func TestConfig_ConnectionString(t *testing.T) {
	t.Parallel()
	c := Config{
		Host: "db", Port: 5433, Database: "catalog_admin", User: "admin",
		Password: "p@ss word", SSLMode: SSLModeRequire, ConnectTimeout: 3 * time.Second,
	}

	u, err := url.Parse(c.ConnectionString())

	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db:5433", u.Host)
	assert.Equal(t, "/catalog_admin", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Equal(t, "3", u.Query().Get("connect_timeout"))

	c.URI = "postgres://u@h/d"
	assert.Equal(t, "postgres://u@h/d", c.ConnectionString())
}

func TestConfig_PasswordRedacted(t *testing.T) {
	t.Parallel()
	c := Config{Password: "s3cr3t"}
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", c.Password, c, c), "s3cr3t")
}

func TestTruncateSQL(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", maxSQLTruncateLen+1)
	assert.Equal(t, "SELECT 1", truncateSQL("SELECT 1"))
	assert.Equal(t, maxSQLTruncateLen+3, len(truncateSQL(long)))
}
