// Package metrics provides the Prometheus collectors for request admission
// and identity resolution.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rate limit outcomes.
const (
	OutcomeAdmitted = "admitted"
	OutcomeRejected = "rejected"
	OutcomeDegraded = "degraded"
	OutcomeBypassed = "bypassed"
)

// Metrics holds the collectors. A nil *Metrics, or one built with a nil
// registerer, records nothing.
type Metrics struct {
	enabled bool

	rateLimitDecisions *prometheus.CounterVec
	rateLimitStoreTime prometheus.Histogram

	jwksFetches      *prometheus.CounterVec
	tokenResults     *prometheus.CounterVec
	principalResults *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: reg != nil}
	if !m.enabled {
		return m
	}
	f := promauto.With(reg)

	m.rateLimitDecisions = f.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_ratelimit_decisions_total",
		Help: "Rate limiter decisions by rule and outcome",
	}, []string{"rule", "outcome"})

	m.rateLimitStoreTime = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "edge_ratelimit_store_seconds",
		Help:    "Time spent in counter store round trips per decision",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	m.jwksFetches = f.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_jwks_fetches_total",
		Help: "JWKS fetches from the identity provider by trigger and result",
	}, []string{"trigger", "result"})

	m.tokenResults = f.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_token_verifications_total",
		Help: "Token verification results by error code (ok on success)",
	}, []string{"result"})

	m.principalResults = f.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_principals_total",
		Help: "Resolved principals by kind",
	}, []string{"kind"})

	m.httpRequests = f.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	m.httpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edge_http_request_duration_seconds",
		Help:    "HTTP request duration by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RateLimitDecision counts one limiter outcome for rule.
func (m *Metrics) RateLimitDecision(rule, outcome string) {
	if !m.on() {
		return
	}
	m.rateLimitDecisions.WithLabelValues(rule, outcome).Inc()
}

// ObserveStore records the store time spent on one decision.
func (m *Metrics) ObserveStore(d time.Duration) {
	if !m.on() {
		return
	}
	m.rateLimitStoreTime.Observe(d.Seconds())
}

// JWKSFetch counts a provider fetch. trigger is "miss", "forced" or
// "refresh"; result is "ok" or "error".
func (m *Metrics) JWKSFetch(trigger, result string) {
	if !m.on() {
		return
	}
	m.jwksFetches.WithLabelValues(trigger, result).Inc()
}

// TokenResult counts a verification result.
func (m *Metrics) TokenResult(result string) {
	if !m.on() {
		return
	}
	m.tokenResults.WithLabelValues(result).Inc()
}

// Principal counts a resolver outcome: guest, authenticated, degraded or
// rejected.
func (m *Metrics) Principal(kind string) {
	if !m.on() {
		return
	}
	m.principalResults.WithLabelValues(kind).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if !m.on() {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the collectors registered in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
