package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
)

func incoming(token string) context.Context {
	md := metadata.MD{}
	if token != "" {
		md.Set("authorization", "Bearer "+token)
	}
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestUnaryServerInterceptor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		mode      Mode
		token     string
		verifyErr error
		wantCode  codes.Code
		wantGuest bool
	}{
		{name: "guest", token: "", wantCode: codes.OK, wantGuest: true},
		{name: "authenticated", token: "good", wantCode: codes.OK},
		{name: "rejected", token: "bad", verifyErr: sserr.New(sserr.CodeAuthenticationSignature, "x"), wantCode: codes.Unauthenticated},
		{name: "degraded", token: "bad", verifyErr: unavailableErr(), wantCode: codes.OK, wantGuest: true},
		{name: "strict unavailable", mode: Strict, token: "bad", verifyErr: unavailableErr(), wantCode: codes.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			icpt := UnaryServerInterceptor(NewResolver(&fakeVerifier{err: tt.verifyErr}, WithMode(tt.mode)))
			var got Principal
			handler := func(ctx context.Context, _ any) (any, error) {
				got = FromContext(ctx)
				return "ok", nil
			}

			resp, err := icpt(incoming(tt.token), nil, &grpc.UnaryServerInfo{FullMethod: "/catalog.Films/Get"}, handler)

			assert.Equal(t, tt.wantCode, status.Code(err))
			if tt.wantCode != codes.OK {
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantGuest, got.IsGuest())
		})
	}
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }

func TestStreamServerInterceptor(t *testing.T) {
	t.Parallel()
	icpt := StreamServerInterceptor(NewResolver(&fakeVerifier{}))
	var got Principal
	handler := func(_ any, ss grpc.ServerStream) error {
		got = FromContext(ss.Context())
		return nil
	}

	err := icpt(nil, &fakeServerStream{ctx: incoming("good")}, &grpc.StreamServerInfo{}, handler)

	require.NoError(t, err)
	assert.Equal(t, "42", got.UserID())

	err = icpt(nil, &fakeServerStream{ctx: incoming("bad")}, &grpc.StreamServerInfo{}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
