package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCode_Category(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeAuthenticationExpired, "AUTH"},
		{CodeAuthorizationDenied, "AUTHZ"},
		{CodeRateLimited, "RATE"},
		{CodeUnavailableAuthService, "UNAVAIL"},
		{CodeTimeoutDatabase, "TIMEOUT"},
		{Code("PLAIN"), "PLAIN"},
	}
	for _, tt := range tests {
		if got := tt.code.Category(); got != tt.want {
			t.Errorf("Code(%q).Category() = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeAuthenticationRevoked, http.StatusUnauthorized},
		{CodeAuthenticationUnknownKey, http.StatusUnauthorized},
		{CodeAuthorizationDenied, http.StatusForbidden},
		{CodeNotFoundResource, http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInternalDatabase, http.StatusInternalServerError},
		{CodeUnavailableAuthService, http.StatusServiceUnavailable},
		{CodeTimeoutDependency, http.StatusGatewayTimeout},
		{Code("WHAT_001"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus() for %s = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestError_ErrorString(t *testing.T) {
	err := New(CodeAuthenticationExpired, "auth: token has expired")
	if got := err.Error(); got != "AUTH_002: auth: token has expired" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := Wrap(context.DeadlineExceeded, CodeTimeoutDatabase, "redis: zcard failed")
	if got := wrapped.Error(); got != "TIMEOUT_002: redis: zcard failed: context deadline exceeded" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	if Wrap(nil, CodeInternal, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, CodeInternal, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestWrap_UnwrapChain(t *testing.T) {
	err := Wrap(context.DeadlineExceeded, CodeTimeoutDatabase, "redis: pipeline failed")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestError_WithDetail_DoesNotMutate(t *testing.T) {
	orig := New(CodeAuthenticationUnknownKey, "auth: unknown key id")
	withKid := orig.WithDetail("kid", "k1")

	if orig.Details != nil {
		t.Error("WithDetail mutated the receiver")
	}
	if withKid.Details["kid"] != "k1" {
		t.Errorf("Details[kid] = %v, want k1", withKid.Details["kid"])
	}
	if withKid.Code != orig.Code {
		t.Error("WithDetail changed the code")
	}
}

func TestError_FormatPlusV(t *testing.T) {
	err := Wrap(errors.New("dial tcp: refused"), CodeInternalDatabase, "redis: get failed").
		WithDetail("key", "auth:jwks")
	got := fmt.Sprintf("%+v", err)
	want := `Error{Code: "INT_002", Message: "redis: get failed", Details: map[key:auth:jwks], Cause: dial tcp: refused}`
	if got != want {
		t.Errorf("%%+v = %s\nwant %s", got, want)
	}
	if q := fmt.Sprintf("%q", New(CodeInternal, "x")); q != `"INT_001: x"` {
		t.Errorf("%%q = %s", q)
	}
}

func TestAsError_ReturnsOutermost(t *testing.T) {
	inner := New(CodeTimeoutDatabase, "inner")
	outer := Wrap(inner, CodeUnavailableAuthService, "auth: jwks unavailable")

	got, ok := AsError(outer)
	if !ok || got.Code != CodeUnavailableAuthService {
		t.Errorf("AsError = %v, %v; want outer error", got, ok)
	}
	if !HasCode(outer, CodeUnavailableAuthService) {
		t.Error("HasCode should match the outer code")
	}
	if GetCode(errors.New("plain")) != "" {
		t.Error("GetCode of a plain error should be empty")
	}
}

func TestCategoryChecks(t *testing.T) {
	if !IsAuthentication(New(CodeAuthenticationSignature, "")) {
		t.Error("IsAuthentication")
	}
	if !IsAuthorization(Forbidden("")) {
		t.Error("IsAuthorization")
	}
	if !IsNotFound(NotFound("")) {
		t.Error("IsNotFound")
	}
	if !IsRateLimited(New(CodeRateLimited, "")) {
		t.Error("IsRateLimited")
	}
	if !IsValidation(Validationf("page_size %d", 0)) {
		t.Error("IsValidation")
	}
	if !IsUnavailable(Unavailable("")) || !IsRetryable(Unavailable("")) {
		t.Error("IsUnavailable/IsRetryable")
	}
	if !IsTimeout(New(CodeTimeoutDependency, "")) || !IsRetryable(New(CodeTimeout, "")) {
		t.Error("IsTimeout/IsRetryable")
	}
	if !IsInternal(Internal("")) {
		t.Error("IsInternal")
	}
	if IsRetryable(Unauthorized("")) {
		t.Error("auth errors are not retryable")
	}
}

func TestIsInfrastructure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("connection reset"), true},
		{"internal database", New(CodeInternalDatabase, ""), true},
		{"auth service unavailable", New(CodeUnavailableAuthService, ""), true},
		{"timeout", New(CodeTimeoutDatabase, ""), true},
		{"expired token", New(CodeAuthenticationExpired, ""), false},
		{"validation", Validation(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsInfrastructure(tt.err); got != tt.want {
				t.Errorf("IsInfrastructure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil) != nil {
		t.Error("FromError(nil) should be nil")
	}
	e := New(CodeNotFoundResource, "film not found")
	if FromError(fmt.Errorf("ctx: %w", e)) != e {
		t.Error("FromError should return the existing *Error")
	}
	if got := FromError(errors.New("boom")); got.Code != CodeInternal {
		t.Errorf("FromError(plain).Code = %s, want INT_001", got.Code)
	}
}
