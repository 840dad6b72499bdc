package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/catalog-edge/internal/testutil/jwttest"
	"github.com/StricklySoft/catalog-edge/pkg/auth"
	"github.com/StricklySoft/catalog-edge/pkg/lifecycle"
	"github.com/StricklySoft/catalog-edge/pkg/metrics"
	"github.com/StricklySoft/catalog-edge/pkg/ratelimit"
	"github.com/StricklySoft/catalog-edge/pkg/requestid"
	"github.com/StricklySoft/catalog-edge/pkg/store"
)

type pinger struct{ err error }

func (p pinger) Health(context.Context) error { return p.err }

type stackFixture struct {
	router http.Handler
	svc    *lifecycle.Service
	key    *jwttest.Key
	jwks   *jwttest.Server
	logs   *bytes.Buffer
}

func newStackFixture(t *testing.T, dep error) *stackFixture {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: slog.LevelInfo}, logs)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	rl := ratelimit.Config{
		DefaultLimit:  2,
		DefaultWindow: 10 * time.Second,
		Whitelist:     []string{HealthPath, MetricsPath},
	}
	limiter, err := NewRateLimit(rl, store.NewMemoryCounterStore(nil), logger, m)
	require.NoError(t, err)

	key := jwttest.NewRSAKey(t, "rsa-1")
	srv := jwttest.NewServer(t, key)
	acfg := auth.DefaultConfig()
	acfg.JWKSURL = srv.JWKSURL()
	acfg.RefreshInterval = 0
	jwks, err := auth.NewJWKSCache(acfg, store.NewMemoryCache(nil))
	require.NoError(t, err)

	svc, err := lifecycle.NewServiceBuilder("content-service", "test").WithLogger(logger).Build()
	require.NoError(t, err)

	r := chi.NewRouter()
	stack := Stack{
		Logger:    logger,
		Metrics:   m,
		RateLimit: limiter,
		Resolver:  auth.NewResolver(auth.NewVerifier(jwks), auth.WithResolverLogger(logger)),
	}
	stack.Use(r)
	MountOps(r, reg, svc, map[string]Pinger{"redis": pinger{err: dep}})
	stack.Group(r, func(r chi.Router) {
		r.Route("/api/v1", MountIdentity)
	})

	return &stackFixture{router: r, svc: svc, key: key, jwks: srv, logs: logs}
}

func (f *stackFixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestStack_PingGuest(t *testing.T) {
	t.Parallel()
	f := newStackFixture(t, nil)

	rec := f.get(t, "/api/v1/ping", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"principal":"guest"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestid.Header))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
}

func TestStack_PingAuthenticated(t *testing.T) {
	t.Parallel()
	f := newStackFixture(t, nil)
	tok := f.key.Sign(t, jwttest.AccessClaims("42", "user@example.com", time.Minute))

	rec := f.get(t, "/api/v1/me", tok)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Principal map[string]string `json:"principal"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "42", body.Principal["user_id"])
	assert.Equal(t, "user@example.com", body.Principal["email"])
}

func TestStack_MeRequiresAuthentication(t *testing.T) {
	t.Parallel()
	f := newStackFixture(t, nil)

	rec := f.get(t, "/api/v1/me", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"detail":"Not authenticated"}`, rec.Body.String())
}

func TestStack_ProviderDownDegradesToGuest(t *testing.T) {
	t.Parallel()
	f := newStackFixture(t, nil)
	f.jwks.SetFailing(true)
	tok := f.key.Sign(t, jwttest.AccessClaims("42", "user@example.com", time.Minute))

	rec := f.get(t, "/api/v1/ping", tok)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"principal":"guest"}`, rec.Body.String())
}

func TestStack_RateLimited(t *testing.T) {
	t.Parallel()
	f := newStackFixture(t, nil)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, f.get(t, "/api/v1/ping", "").Code)
	}
	rec := f.get(t, "/api/v1/ping", "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"detail":"Too Many Requests"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	// The limiter runs before identity, so a forged token still counts.
	assert.Equal(t, http.StatusTooManyRequests, f.get(t, "/api/v1/ping", "forged").Code)
}

func TestStack_Health(t *testing.T) {
	t.Parallel()
	f := newStackFixture(t, nil)

	rec := f.get(t, HealthPath, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), `current state is \"unknown\"`)

	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { _ = f.svc.Stop(context.Background()) })

	// Whitelisted: far more calls than the limit.
	for i := 0; i < 5; i++ {
		rec = f.get(t, HealthPath, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"status": "ok", "service": "running", "redis": "ok"}, body)
}

func TestStack_OpsRoutesIgnoreBearer(t *testing.T) {
	t.Parallel()
	f := newStackFixture(t, nil)
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { _ = f.svc.Stop(context.Background()) })
	expired := f.key.Sign(t, jwttest.AccessClaims("42", "user@example.com", -time.Minute))

	for _, tok := range []string{"forged", expired} {
		assert.Equal(t, http.StatusOK, f.get(t, HealthPath, tok).Code)
		assert.Equal(t, http.StatusOK, f.get(t, MetricsPath, tok).Code)
	}
	// The same bearer is still rejected on the API.
	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/api/v1/ping", "forged").Code)
}

func TestStack_HealthDependencyDown(t *testing.T) {
	t.Parallel()
	f := newStackFixture(t, errors.New("connection refused"))
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { _ = f.svc.Stop(context.Background()) })

	rec := f.get(t, HealthPath, "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestStack_Metrics(t *testing.T) {
	t.Parallel()
	f := newStackFixture(t, nil)
	f.get(t, "/api/v1/ping", "")

	rec := f.get(t, MetricsPath, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `edge_http_requests_total{method="GET",route="/api/v1/ping",status="200"} 1`)
}

func TestStack_LogsCarryRequestID(t *testing.T) {
	t.Parallel()
	f := newStackFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set(requestid.Header, "3f1c1e0a-9a7e-4d0b-8c7e-2d9b5a3e6f10")
	f.router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, f.logs.String(), `"request_id":"3f1c1e0a-9a7e-4d0b-8c7e-2d9b5a3e6f10"`)
}

func TestNewLogger_Text(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: slog.LevelWarn, Format: "TEXT"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept")

	assert.False(t, strings.Contains(buf.String(), "dropped"))
	assert.Contains(t, buf.String(), "msg=kept")
}

func TestNewRateLimit_InvalidRules(t *testing.T) {
	t.Parallel()
	_, err := NewRateLimit(ratelimit.Config{DefaultLimit: 0, DefaultWindow: time.Second}, store.NewMemoryCounterStore(nil), nil, nil)
	assert.Error(t, err)
}
