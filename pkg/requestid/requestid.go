// Package requestid assigns every inbound request a correlation id, carries
// it through the context, and attaches it to logs and outbound calls.
//
// The id comes from the X-Request-ID header when the caller sent a usable
// one; otherwise a UUIDv4 is generated. It is echoed on the response so a
// client can quote it, including on 429 and 401 responses.
package requestid

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Header is the HTTP header carrying the correlation id.
const Header = "X-Request-ID"

// MetadataKey is the gRPC metadata key carrying the correlation id.
const MetadataKey = "x-request-id"

// maxLen bounds caller-supplied ids.
const maxLen = 128

type contextKey struct{}

// NewContext returns ctx carrying id.
func NewContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the id stored in ctx, or "" when there is none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// New returns a fresh UUIDv4 string.
func New() string {
	return uuid.NewString()
}

// valid accepts printable ASCII up to maxLen bytes. Anything else is
// replaced so ids cannot inject into logs or headers.
func valid(id string) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// Resolve returns the inbound id if it is usable, else a new one.
func Resolve(inbound string) string {
	if valid(inbound) {
		return inbound
	}
	return New()
}

// statusRecorder captures the status code written by the next handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware sets the correlation id on the context and the response, and
// logs request start and finish. A nil logger uses slog.Default().
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Resolve(r.Header.Get(Header))
			ctx := NewContext(r.Context(), id)
			w.Header().Set(Header, id)

			start := time.Now()
			logger.DebugContext(ctx, "request started",
				"method", r.Method,
				"path", r.URL.Path,
			)

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))
			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			logger.InfoContext(ctx, "request finished",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// Transport forwards the context's correlation id on outbound HTTP
// requests.
type Transport struct {
	Base http.RoundTripper
}

// RoundTrip implements [http.RoundTripper].
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	id := FromContext(r.Context())
	if id == "" || r.Header.Get(Header) != "" {
		return base.RoundTrip(r)
	}
	clone := r.Clone(r.Context())
	clone.Header.Set(Header, id)
	return base.RoundTrip(clone)
}

// UnaryServerInterceptor does for gRPC what [Middleware] does for HTTP,
// reading and echoing the x-request-id metadata key.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var inbound string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(MetadataKey); len(vals) > 0 {
				inbound = vals[0]
			}
		}
		id := Resolve(inbound)
		_ = grpc.SetHeader(ctx, metadata.Pairs(MetadataKey, id))
		return handler(NewContext(ctx, id), req)
	}
}
