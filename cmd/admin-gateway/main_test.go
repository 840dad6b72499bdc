package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/catalog-edge/internal/testutil"
	"github.com/StricklySoft/catalog-edge/pkg/config"
	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
)

func TestConfig_Load_FromEnv(t *testing.T) {
	testutil.SetEnv(t, "AUTH_JWKS_URL", "http://auth:8000/.well-known/jwks.json")
	testutil.SetEnv(t, "ADMIN_ALLOWED_EMAILS", "Ops@Example.com, lead@example.com")
	testutil.SetEnv(t, "ADMIN_SUPERUSERS", "lead@example.com")
	testutil.SetEnv(t, "POSTGRES_URI", "postgres://admin:secret@db:5432/catalog_admin?sslmode=disable")

	var cfg Config
	require.NoError(t, config.New().Load(&cfg))

	assert.True(t, cfg.Admin.AllowedEmails.Contains("ops@example.com"))
	assert.True(t, cfg.Admin.AllowedEmails.Contains("LEAD@example.com"))
	assert.False(t, cfg.Admin.Superusers.Contains("ops@example.com"))
	assert.True(t, cfg.Admin.Superusers.Contains("lead@example.com"))
	assert.Equal(t, "postgres://admin:secret@db:5432/catalog_admin?sslmode=disable", cfg.Postgres.URI)
	assert.Empty(t, cfg.Auth.Algorithms)
}

func TestConfig_Load_RequiresAllowList(t *testing.T) {
	testutil.SetEnv(t, "AUTH_JWKS_URL", "http://auth:8000/.well-known/jwks.json")
	testutil.SetEnv(t, "ADMIN_ALLOWED_EMAILS", "")

	var cfg Config
	err := config.New().Load(&cfg)

	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
	assert.Contains(t, err.Error(), "allowed emails")
}
