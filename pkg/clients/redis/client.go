package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
	"github.com/StricklySoft/catalog-edge/pkg/store"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/catalog-edge/pkg/clients/redis"

// Cmdable is the subset of go-redis the adapter calls. It is satisfied by
// [*redis.Client] and by mocks via [NewFromClient].
type Cmdable interface {
	redis.Scripter

	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd

	// ZRangeWithScores reads the oldest window entry.
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd

	// Pipelined sends every command queued by fn in one round trip and
	// returns them in queue order.
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)

	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

// Client is the Redis-backed [store.CounterStore], [store.AtomicCounterStore]
// and [store.KeyValueCache]. Every call opens a client span and wraps
// failures as [*sserr.Error]. It is safe for concurrent use.
type Client struct {
	cmdable Cmdable
	config  *Config
	tracer  trace.Tracer
	dbIndex int
}

var (
	_ store.AtomicCounterStore = (*Client)(nil)
	_ store.KeyValueCache      = (*Client)(nil)
)

// NewClient validates cfg, dials Redis and pings it.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: cannot connect to Redis
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation,
			"redis: invalid configuration")
	}

	opts, err := cfg.options()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation,
			"redis: failed to parse connection URI")
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"redis: failed to connect to server")
	}

	return &Client{
		cmdable: rdb,
		config:  &cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: opts.DB,
	}, nil
}

func (c *Config) options() (*redis.Options, error) {
	if c.URI == "" {
		opts := &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", c.Host, c.Port),
			Password:     c.Password.Value(),
			DB:           c.DB,
			PoolSize:     c.PoolSize,
			MinIdleConns: c.MinIdleConns,
			MaxRetries:   c.MaxRetries,
			DialTimeout:  c.DialTimeout,
			ReadTimeout:  c.ReadTimeout,
			WriteTimeout: c.WriteTimeout,
		}
		if c.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		return opts, nil
	}

	opts, err := redis.ParseURL(c.URI)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = c.PoolSize
	opts.MinIdleConns = c.MinIdleConns
	opts.MaxRetries = c.MaxRetries
	opts.DialTimeout = c.DialTimeout
	opts.ReadTimeout = c.ReadTimeout
	opts.WriteTimeout = c.WriteTimeout
	return opts, nil
}

// NewFromClient wraps an existing [Cmdable]. cfg may be nil.
func NewFromClient(cmdable Cmdable, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		cmdable: cmdable,
		config:  cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: cfg.DB,
	}
}

// ===========================================================================
// store.CounterStore
// ===========================================================================

// TrimAndCount pipelines ZREMRANGEBYSCORE key 0 (cutoff and ZCARD key. The
// "(" prefix makes the upper bound exclusive so an entry scored exactly at
// the cutoff survives.
func (c *Client) TrimAndCount(ctx context.Context, key string, cutoffMs int64) (int64, error) {
	ctx, span := c.startSpan(ctx, "TrimAndCount",
		fmt.Sprintf("ZREMRANGEBYSCORE %s 0 (%d; ZCARD %s", key, cutoffMs, key))

	cmds, err := c.cmdable.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "0", "("+strconv.FormatInt(cutoffMs, 10))
		pipe.ZCard(ctx, key)
		return nil
	})
	var n int64
	if err == nil {
		n, err = lastCount(cmds)
	}
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: trim window failed")
	}
	return n, nil
}

// Oldest reads ZRANGE key 0 0 WITHSCORES.
func (c *Client) Oldest(ctx context.Context, key string) (store.Entry, bool, error) {
	ctx, span := c.startSpan(ctx, "Oldest", fmt.Sprintf("ZRANGE %s 0 0 WITHSCORES", key))
	zs, err := c.cmdable.ZRangeWithScores(ctx, key, 0, 0).Result()
	finishSpan(span, err)
	if err != nil {
		return store.Entry{}, false, wrapError(err, "redis: read oldest entry failed")
	}
	if len(zs) == 0 {
		return store.Entry{}, false, nil
	}
	return store.Entry{Member: fmt.Sprint(zs[0].Member), Score: int64(zs[0].Score)}, true, nil
}

// InsertAndCount pipelines ZADD, EXPIRE and ZCARD.
func (c *Client) InsertAndCount(ctx context.Context, key string, e store.Entry, ttl time.Duration) (int64, error) {
	ctx, span := c.startSpan(ctx, "InsertAndCount",
		fmt.Sprintf("ZADD %s %d; EXPIRE %s %d; ZCARD %s", key, e.Score, key, int64(ttl.Seconds()), key))

	cmds, err := c.cmdable.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(e.Score), Member: e.Member})
		pipe.Expire(ctx, key, ttl)
		pipe.ZCard(ctx, key)
		return nil
	})
	var n int64
	if err == nil {
		n, err = lastCount(cmds)
	}
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: record hit failed")
	}
	return n, nil
}

// lastCount reads the trailing ZCARD reply of a pipeline.
func lastCount(cmds []redis.Cmder) (int64, error) {
	if len(cmds) == 0 {
		return 0, errors.New("empty pipeline reply")
	}
	card, ok := cmds[len(cmds)-1].(*redis.IntCmd)
	if !ok {
		return 0, fmt.Errorf("unexpected pipeline reply %T", cmds[len(cmds)-1])
	}
	return card.Result()
}

// admitScript trims, counts and inserts in one server-side step.
// It returns {admitted, count, oldest_ms}.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', key, '0', ARGV[1])
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    return {0, count, tonumber(oldest[2])}
  end
  return {0, count, -1}
end
redis.call('ZADD', key, ARGV[3], ARGV[4])
redis.call('EXPIRE', key, ARGV[5])
return {1, count + 1, -1}
`)

// Admit runs the atomic admit script (EVALSHA, falling back to EVAL).
func (c *Client) Admit(ctx context.Context, key string, e store.Entry, cutoffMs, limit int64, ttl time.Duration) (store.AdmitResult, error) {
	ctx, span := c.startSpan(ctx, "Admit", fmt.Sprintf("EVALSHA admit %s %d", key, limit))
	vals, err := admitScript.Run(ctx, c.cmdable, []string{key},
		"("+strconv.FormatInt(cutoffMs, 10),
		limit,
		e.Score,
		e.Member,
		int64(ttl.Seconds()),
	).Int64Slice()
	if err == nil && len(vals) != 3 {
		err = fmt.Errorf("unexpected script reply length %d", len(vals))
	}
	finishSpan(span, err)
	if err != nil {
		return store.AdmitResult{}, wrapError(err, "redis: atomic admit failed")
	}
	return store.AdmitResult{Admitted: vals[0] == 1, Count: vals[1], OldestMs: vals[2]}, nil
}

// ===========================================================================
// store.KeyValueCache
// ===========================================================================

// Get returns the value at key. [redis.Nil] is reported as a miss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := c.startSpan(ctx, "Get", "GET "+key)
	val, err := c.cmdable.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return nil, false, nil
	}
	finishSpan(span, err)
	if err != nil {
		return nil, false, wrapError(err, "redis: get failed")
	}
	return val, true, nil
}

// Set stores value with SET key value EX ttl.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := c.startSpan(ctx, "Set", "SET "+key)
	err := c.cmdable.Set(ctx, key, value, ttl).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: set failed")
	}
	return nil
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := c.startSpan(ctx, "Exists", "EXISTS "+key)
	n, err := c.cmdable.Exists(ctx, key).Result()
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "redis: exists failed")
	}
	return n > 0, nil
}

// Del removes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	ctx, span := c.startSpan(ctx, "Del", fmt.Sprintf("DEL %v", keys))
	n, err := c.cmdable.Del(ctx, keys...).Result()
	finishSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: del failed")
	}
	return n, nil
}

// Health pings Redis, applying [DefaultHealthTimeout] when ctx has no
// deadline. Failure is reported as [sserr.CodeUnavailableDependency].
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"redis: health check failed")
	}
	return nil
}

// Close releases the connection pool. It is safe to call more than once.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

// Client returns the underlying [Cmdable].
func (c *Client) Client() Cmdable {
	return c.cmdable
}

func (c *Client) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies a Redis error. [context.DeadlineExceeded] becomes
// [sserr.CodeTimeoutDatabase]; anything else, including cancellation,
// becomes [sserr.CodeInternalDatabase].
func wrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
