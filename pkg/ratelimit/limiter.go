// Package ratelimit implements per-identity, per-path sliding window
// admission control over a shared [store.CounterStore].
//
// Each (rule, identity, path) triple owns one sorted set whose members are
// request timestamps in milliseconds. A request trims members older than
// the window, counts the rest, and is admitted and recorded when the count
// is below the rule's limit. The window is half-open: an entry scored
// exactly now-window still counts.
//
// The default mode runs two pipelined batches (trim+count, then
// insert+expire+count), so two concurrent requests can both pass the count
// check. [WithAtomic] closes that race when the store supports it.
//
// Counter store failures never reject traffic: the limiter admits the
// request, omits rate headers and logs a warning.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/catalog-edge/pkg/metrics"
	"github.com/StricklySoft/catalog-edge/pkg/store"
)

const tracerName = "github.com/StricklySoft/catalog-edge/pkg/ratelimit"

// DefaultTimeout bounds the store round trips of one decision.
const DefaultTimeout = time.Second

// Response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// ---------------------------------------------------------------------------
// Decision
// ---------------------------------------------------------------------------

// Decision is the outcome of one admission check.
type Decision struct {
	Admitted bool
	// Degraded is set when the store failed and the request was admitted
	// without accounting. Degraded decisions carry no headers.
	Degraded bool

	Limit     int
	Remaining int
	// Reset is the Unix time in seconds at which the oldest counted
	// request leaves the window.
	Reset int64
	// RetryAfter is the number of seconds until Reset, set on rejection.
	RetryAfter int64
}

// SetHeaders writes the X-RateLimit-* headers, plus Retry-After on
// rejection. It writes nothing for degraded decisions.
func (d Decision) SetHeaders(h http.Header) {
	if d.Degraded {
		return
	}
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(d.Reset, 10))
	if !d.Admitted {
		h.Set(HeaderRetryAfter, strconv.FormatInt(d.RetryAfter, 10))
	}
}

// ---------------------------------------------------------------------------
// Limiter
// ---------------------------------------------------------------------------

// Limiter makes admission decisions. It holds no per-key state and is safe
// for concurrent use.
type Limiter struct {
	store   store.CounterStore
	atomic  store.AtomicCounterStore
	timeout time.Duration
	now     func() time.Time
	token   func() string
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithTimeout bounds each decision's store calls. Non-positive values keep
// [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger for degraded decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics records decisions in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithAtomic switches to the single-step admit when the store implements
// [store.AtomicCounterStore]. It is ignored otherwise.
func WithAtomic(enabled bool) Option {
	return func(l *Limiter) {
		if !enabled {
			l.atomic = nil
			return
		}
		if a, ok := l.store.(store.AtomicCounterStore); ok {
			l.atomic = a
		}
	}
}

// NewLimiter returns a Limiter over cs.
func NewLimiter(cs store.CounterStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:   cs,
		timeout: DefaultTimeout,
		now:     time.Now,
		token:   func() string { return uuid.New().String() },
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key is the counter key for a rule, identity and concrete path. The path
// is part of the key so two endpoints under one pattern keep separate
// quotas.
func Key(rule Rule, identity, path string) string {
	return fmt.Sprintf("rl:%d:%d:%s:%s", rule.Limit, rule.WindowSeconds(), identity, path)
}

// CheckAndRecord decides whether identity may call path under rule and, if
// so, records the hit. It never fails: store errors yield a degraded,
// admitted decision.
func (l *Limiter) CheckAndRecord(ctx context.Context, identity, path string, rule Rule) Decision {
	ctx, span := l.tracer.Start(ctx, "ratelimit.CheckAndRecord", trace.WithAttributes(
		attribute.String("ratelimit.rule", rule.Pattern),
		attribute.Int("ratelimit.limit", rule.Limit),
	))
	defer span.End()

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	var (
		d   Decision
		err error
	)
	if l.atomic != nil {
		d, err = l.checkAtomic(storeCtx, Key(rule, identity, path), rule)
	} else {
		d, err = l.check(storeCtx, Key(rule, identity, path), rule)
	}
	l.metrics.ObserveStore(time.Since(start))

	if err != nil {
		span.RecordError(err)
		l.logger.WarnContext(ctx, "ratelimit: counter store unavailable, admitting request",
			"error", err,
			"identity", identity,
			"path", path,
			"rule", rule.Pattern,
		)
		l.metrics.RateLimitDecision(rule.Pattern, metrics.OutcomeDegraded)
		span.SetAttributes(attribute.Bool("ratelimit.degraded", true))
		return Decision{Admitted: true, Degraded: true}
	}

	span.SetAttributes(
		attribute.Bool("ratelimit.admitted", d.Admitted),
		attribute.Int("ratelimit.remaining", d.Remaining),
	)
	if d.Admitted {
		l.metrics.RateLimitDecision(rule.Pattern, metrics.OutcomeAdmitted)
	} else {
		l.metrics.RateLimitDecision(rule.Pattern, metrics.OutcomeRejected)
	}
	return d
}

// ---------------------------------------------------------------------------
// Sliding window
// ---------------------------------------------------------------------------

// check runs the trim, count, insert sequence as separate pipelined
// commands. Two concurrent requests may both observe count < limit, so the
// limit can be exceeded by the number of in-flight requests for one key.
func (l *Limiter) check(ctx context.Context, key string, rule Rule) (Decision, error) {
	nowMs := l.now().UnixMilli()
	winMs := rule.Window.Milliseconds()

	count, err := l.store.TrimAndCount(ctx, key, nowMs-winMs)
	if err != nil {
		return Decision{}, err
	}
	if count >= int64(rule.Limit) {
		return l.reject(ctx, key, rule, nowMs, -1)
	}

	member := strconv.FormatInt(nowMs, 10) + "-" + l.token()
	newCount, err := l.store.InsertAndCount(ctx, key, store.Entry{Member: member, Score: nowMs}, rule.Window)
	if err != nil {
		return Decision{}, err
	}
	return l.admit(ctx, key, rule, nowMs, newCount)
}

func (l *Limiter) checkAtomic(ctx context.Context, key string, rule Rule) (Decision, error) {
	nowMs := l.now().UnixMilli()
	winMs := rule.Window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + l.token()

	res, err := l.atomic.Admit(ctx, key, store.Entry{Member: member, Score: nowMs},
		nowMs-winMs, int64(rule.Limit), rule.Window)
	if err != nil {
		return Decision{}, err
	}
	if !res.Admitted {
		return l.reject(ctx, key, rule, nowMs, res.OldestMs)
	}
	return l.admit(ctx, key, rule, nowMs, res.Count)
}

// reject builds a rejection. oldestMs of -1 means the caller did not read
// the oldest entry yet.
func (l *Limiter) reject(ctx context.Context, key string, rule Rule, nowMs, oldestMs int64) (Decision, error) {
	winMs := rule.Window.Milliseconds()
	if oldestMs < 0 {
		e, ok, err := l.store.Oldest(ctx, key)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			oldestMs = e.Score
		}
	}

	d := Decision{Limit: rule.Limit}
	if oldestMs >= 0 {
		d.Reset = (oldestMs + winMs) / 1000
		d.RetryAfter = max(0, d.Reset-nowMs/1000)
	} else {
		d.Reset = (nowMs + winMs) / 1000
		d.RetryAfter = rule.WindowSeconds()
	}
	return d, nil
}

func (l *Limiter) admit(ctx context.Context, key string, rule Rule, nowMs, newCount int64) (Decision, error) {
	winMs := rule.Window.Milliseconds()
	d := Decision{
		Admitted:  true,
		Limit:     rule.Limit,
		Remaining: int(max(0, int64(rule.Limit)-newCount)),
		Reset:     (nowMs + winMs) / 1000,
	}
	e, ok, err := l.store.Oldest(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		d.Reset = (e.Score + winMs) / 1000
	}
	return d, nil
}
