package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
	"github.com/StricklySoft/catalog-edge/pkg/metrics"
	"github.com/StricklySoft/catalog-edge/pkg/requestid"
	"github.com/StricklySoft/catalog-edge/pkg/store"
)

const tracerName = "github.com/StricklySoft/catalog-edge/pkg/auth"

// JWKSCacheKey is the shared cache key holding the serialized key set.
const JWKSCacheKey = "auth:jwks"

// maxDocumentSize bounds provider responses.
const maxDocumentSize = 1 << 20

// Fetch triggers, used as the metrics label.
const (
	triggerMiss    = "miss"
	triggerForced  = "forced"
	triggerRefresh = "refresh"
)

// ---------------------------------------------------------------------------
// Key source
// ---------------------------------------------------------------------------

// KeySource supplies the current key set. force bypasses any cache.
type KeySource interface {
	Get(ctx context.Context, force bool) (JWKS, error)
}

// JWKSCache keeps the provider's key set in a shared cache. A fetch failure
// is returned as UNAVAIL_004; stale or empty key sets are never served.
type JWKSCache struct {
	jwksURL   string
	issuerURL string
	ttl       time.Duration
	timeout   time.Duration
	interval  time.Duration

	cache   store.KeyValueCache
	client  *http.Client
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu         sync.Mutex
	discovered string
	lastRaw    []byte
	lastKeys   JWKS
}

var _ KeySource = (*JWKSCache)(nil)

// JWKSOption configures a [JWKSCache].
type JWKSOption func(*JWKSCache)

// WithHTTPClient replaces the fetch client. Its Timeout, if any, applies
// in addition to Config.FetchTimeout.
func WithHTTPClient(c *http.Client) JWKSOption {
	return func(j *JWKSCache) { j.client = c }
}

// WithJWKSLogger sets the logger.
func WithJWKSLogger(l *slog.Logger) JWKSOption {
	return func(j *JWKSCache) { j.logger = l }
}

// WithJWKSMetrics records fetch outcomes in m.
func WithJWKSMetrics(m *metrics.Metrics) JWKSOption {
	return func(j *JWKSCache) { j.metrics = m }
}

// NewJWKSCache returns a cache over kv configured by cfg.
func NewJWKSCache(cfg Config, kv store.KeyValueCache, opts ...JWKSOption) (*JWKSCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "auth: invalid configuration")
	}
	if kv == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "auth: key-value cache is required")
	}
	c := &JWKSCache{
		jwksURL:   cfg.JWKSURL,
		issuerURL: cfg.IssuerURL,
		ttl:       cfg.JWKSCacheTTL,
		timeout:   cfg.FetchTimeout,
		interval:  cfg.RefreshInterval,
		cache:     kv,
		client:    &http.Client{Transport: &requestid.Transport{}},
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the key set. Without force, a cached set is returned when
// present; otherwise, and always with force, the set is fetched from the
// provider and written back to the cache. Concurrent fetches share one
// provider request.
func (c *JWKSCache) Get(ctx context.Context, force bool) (JWKS, error) {
	ctx, span := c.tracer.Start(ctx, "auth.JWKS.Get", trace.WithAttributes(
		attribute.Bool("auth.jwks.force", force),
	))
	defer span.End()

	if !force {
		if keys, ok := c.cached(ctx); ok {
			span.SetAttributes(attribute.Bool("auth.jwks.cache_hit", true))
			return keys, nil
		}
	}
	span.SetAttributes(attribute.Bool("auth.jwks.cache_hit", false))

	trigger := triggerMiss
	if force {
		trigger = triggerForced
	}
	keys, err := c.fetchShared(ctx, trigger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return keys, err
}

// ---------------------------------------------------------------------------
// Background refresh
// ---------------------------------------------------------------------------

// Run refreshes the key set every RefreshInterval until ctx is done.
// Failures are logged and the loop continues. A zero interval disables
// the refresher and Run just waits for ctx.
func (c *JWKSCache) Run(ctx context.Context) error {
	if c.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		keys, err := c.fetchShared(ctx, triggerRefresh)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.WarnContext(ctx, "auth: jwks refresh failed", "error", err)
			continue
		}
		c.logger.InfoContext(ctx, "auth: jwks refreshed", "kids", keys.Kids())
	}
}

// ---------------------------------------------------------------------------
// Shared cache and download
// ---------------------------------------------------------------------------

func (c *JWKSCache) cached(ctx context.Context) (JWKS, bool) {
	raw, ok, err := c.cache.Get(ctx, JWKSCacheKey)
	if err != nil {
		c.logger.WarnContext(ctx, "auth: jwks cache read failed, fetching from provider", "error", err)
		return JWKS{}, false
	}
	if !ok {
		return JWKS{}, false
	}

	c.mu.Lock()
	if bytes.Equal(raw, c.lastRaw) {
		keys := c.lastKeys
		c.mu.Unlock()
		return keys, true
	}
	c.mu.Unlock()

	keys, err := ParseJWKS(raw)
	if err != nil || len(keys.Keys) == 0 {
		c.logger.WarnContext(ctx, "auth: ignoring unusable cached jwks", "error", err)
		return JWKS{}, false
	}
	c.remember(raw, keys)
	return keys, true
}

func (c *JWKSCache) remember(raw []byte, keys JWKS) {
	c.mu.Lock()
	c.lastRaw = raw
	c.lastKeys = keys
	c.mu.Unlock()
}

func (c *JWKSCache) fetchShared(ctx context.Context, trigger string) (JWKS, error) {
	ch := c.group.DoChan("jwks", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(fctx, trigger)
	})
	select {
	case <-ctx.Done():
		return JWKS{}, sserr.Wrap(ctx.Err(), sserr.CodeUnavailableAuthService, "auth: jwks fetch abandoned")
	case res := <-ch:
		if res.Err != nil {
			return JWKS{}, res.Err
		}
		return res.Val.(JWKS), nil
	}
}

func (c *JWKSCache) fetch(ctx context.Context, trigger string) (JWKS, error) {
	keys, raw, err := c.download(ctx)
	if err != nil {
		c.metrics.JWKSFetch(trigger, "error")
		return JWKS{}, sserr.Wrap(err, sserr.CodeUnavailableAuthService, "auth: jwks fetch failed")
	}
	c.metrics.JWKSFetch(trigger, "ok")

	if err := c.cache.Set(ctx, JWKSCacheKey, raw, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "auth: jwks cache write failed", "error", err)
	}
	c.remember(raw, keys)
	c.logger.DebugContext(ctx, "auth: jwks fetched", "trigger", trigger, "kids", keys.Kids())
	return keys, nil
}

// download fetches and parses the key set. raw is the normalized document
// written to the cache.
func (c *JWKSCache) download(ctx context.Context) (JWKS, []byte, error) {
	endpoint, err := c.endpoint(ctx)
	if err != nil {
		return JWKS{}, nil, err
	}
	body, err := c.getJSON(ctx, endpoint)
	if err != nil {
		return JWKS{}, nil, err
	}
	keys, err := ParseJWKS(body)
	if err != nil {
		return JWKS{}, nil, err
	}
	if len(keys.Keys) == 0 {
		return JWKS{}, nil, fmt.Errorf("auth: jwks from %s has no usable keys", endpoint)
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return JWKS{}, nil, fmt.Errorf("auth: encode jwks: %w", err)
	}
	return keys, raw, nil
}

// endpoint is the configured JWKS URL, or the jwks_uri discovered from the
// issuer once and then reused.
func (c *JWKSCache) endpoint(ctx context.Context) (string, error) {
	if c.jwksURL != "" {
		return c.jwksURL, nil
	}
	c.mu.Lock()
	found := c.discovered
	c.mu.Unlock()
	if found != "" {
		return found, nil
	}

	body, err := c.getJSON(ctx, strings.TrimRight(c.issuerURL, "/")+"/.well-known/openid-configuration")
	if err != nil {
		return "", fmt.Errorf("auth: oidc discovery: %w", err)
	}
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("auth: oidc discovery: decode: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("auth: oidc discovery document has no jwks_uri")
	}

	c.mu.Lock()
	c.discovered = doc.JWKSURI
	c.mu.Unlock()
	return doc.JWKSURI, nil
}

func (c *JWKSCache) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("auth: read %s: %w", url, err)
	}
	return body, nil
}
