package auth

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor resolves the "authorization" metadata with res
// and stores the principal in the handler context. Calls without a bearer
// token proceed as guests.
func UnaryServerInterceptor(res *Resolver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := resolveGRPC(ctx, res)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is [UnaryServerInterceptor] for streams.
func StreamServerInterceptor(res *Resolver) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := resolveGRPC(ss.Context(), res)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func resolveGRPC(ctx context.Context, res *Resolver) (context.Context, error) {
	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(strings.ToLower(HeaderAuthorization)); len(vals) > 0 {
			token = ExtractBearerToken(vals[0])
		}
	}
	p, err := res.Resolve(ctx, token)
	if err != nil {
		httpStatus, detail := PublicDetail(err)
		if httpStatus == http.StatusServiceUnavailable {
			return ctx, status.Error(codes.Unavailable, detail)
		}
		return ctx, status.Error(codes.Unauthenticated, detail)
	}
	return NewContext(ctx, p), nil
}

type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
