package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
	"github.com/StricklySoft/catalog-edge/pkg/metrics"
)

// TokenTypeAccess is the type claim carried by access tokens.
const TokenTypeAccess = "access"

const maxTokenSize = 8192

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

// Claims is the verified token body.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Type  string `json:"type,omitempty"`
}

// RevocationChecker reports whether a token id has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

// Verifier checks bearer tokens against a [KeySource].
//
// The signing algorithm is taken from the selected key, never from the
// token header; a header naming a different algorithm is rejected. An
// unknown kid triggers exactly one forced key set refresh.
type Verifier struct {
	keys       KeySource
	algorithms []string
	skew       time.Duration
	now        func() time.Time
	tokenType  string
	revocation RevocationChecker
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// VerifierOption configures a [Verifier].
type VerifierOption func(*Verifier)

// WithAlgorithms restricts accepted algorithms, e.g. WithAlgorithms("RS256")
// for a fixed policy.
func WithAlgorithms(algs ...string) VerifierOption {
	return func(v *Verifier) { v.algorithms = append([]string(nil), algs...) }
}

// WithClockSkew sets the expiry leeway. The default is 30s.
func WithClockSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.skew = d }
}

// WithVerifierClock replaces time.Now.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithTokenType sets the required type claim. Empty disables the check.
func WithTokenType(t string) VerifierOption {
	return func(v *Verifier) { v.tokenType = t }
}

// WithRevocation checks each jti against rc.
func WithRevocation(rc RevocationChecker) VerifierOption {
	return func(v *Verifier) { v.revocation = rc }
}

// WithVerifierMetrics records results in m.
func WithVerifierMetrics(m *metrics.Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier returns a Verifier that requires access tokens.
func NewVerifier(keys KeySource, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:      keys,
		skew:      30 * time.Second,
		now:       time.Now,
		tokenType: TokenTypeAccess,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify returns the token's claims or an *sserr.Error whose code names the
// failure: AUTH_002 expired, AUTH_003 malformed, AUTH_004 bad signature,
// AUTH_005 missing kid, AUTH_006 algorithm, AUTH_007 unknown kid, AUTH_008
// wrong type, AUTH_009 revoked, UNAVAIL_004 when keys or the denylist
// cannot be reached.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	ctx, span := v.tracer.Start(ctx, "auth.Verify")
	defer span.End()

	claims, err := v.verify(ctx, token)
	if err != nil {
		code := sserr.GetCode(err)
		span.SetAttributes(attribute.String("auth.result", string(code)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		v.metrics.TokenResult(string(code))
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.result", "ok"), attribute.String("auth.subject", claims.Subject))
	v.metrics.TokenResult("ok")
	return claims, nil
}

// ---------------------------------------------------------------------------
// Verification steps
// ---------------------------------------------------------------------------

func (v *Verifier) verify(ctx context.Context, token string) (*Claims, error) {
	if len(token) > maxTokenSize || strings.Count(token, ".") != 2 {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: token is malformed")
	}
	unverified, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is malformed")
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, sserr.New(sserr.CodeAuthenticationMissingKeyID, "auth: token header has no kid")
	}
	alg, _ := unverified.Header["alg"].(string)
	if !v.algorithmAllowed(alg) {
		return nil, sserr.Newf(sserr.CodeAuthenticationAlgorithm, "auth: algorithm %q is not accepted", alg).
			WithDetail("kid", kid)
	}

	key, err := v.lookup(ctx, kid)
	if err != nil {
		return nil, err
	}
	keyAlg := key.Algorithm()
	if keyAlg != alg || !v.algorithmAllowed(keyAlg) {
		return nil, sserr.Newf(sserr.CodeAuthenticationAlgorithm,
			"auth: token algorithm %q does not match key algorithm %q", alg, keyAlg).WithDetail("kid", kid)
	}
	pub, err := key.PublicKey()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationUnknownKey, "auth: signing key is unusable").
			WithDetail("kid", kid)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{keyAlg}),
		jwt.WithLeeway(v.skew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	}); err != nil {
		return nil, classify(err)
	}

	if claims.Subject == "" {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "auth: token has no subject")
	}
	if v.tokenType != "" && claims.Type != v.tokenType {
		return nil, sserr.Newf(sserr.CodeAuthenticationTokenType, "auth: token type %q, want %q", claims.Type, v.tokenType)
	}
	if v.revocation != nil && claims.ID != "" {
		revoked, err := v.revocation.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeUnavailableAuthService, "auth: revocation check failed")
		}
		if revoked {
			return nil, sserr.New(sserr.CodeAuthenticationRevoked, "auth: token has been revoked").
				WithDetail("jti", claims.ID)
		}
	}
	return claims, nil
}

// lookup finds kid in the current key set, forcing one refresh when it is
// absent.
func (v *Verifier) lookup(ctx context.Context, kid string) (JWK, error) {
	keys, err := v.keys.Get(ctx, false)
	if err != nil {
		return JWK{}, err
	}
	if k, ok := keys.Lookup(kid); ok {
		return k, nil
	}
	keys, err = v.keys.Get(ctx, true)
	if err != nil {
		return JWK{}, err
	}
	if k, ok := keys.Lookup(kid); ok {
		return k, nil
	}
	return JWK{}, sserr.Newf(sserr.CodeAuthenticationUnknownKey, "auth: key id %q not found", kid).
		WithDetail("kid", kid)
}

func (v *Verifier) algorithmAllowed(alg string) bool {
	if !asymmetric(alg) {
		return false
	}
	return len(v.algorithms) == 0 || slices.Contains(v.algorithms, alg)
}

func classify(err error) *sserr.Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthenticationSignature, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeAuthenticationAlgorithm, "auth: token is unverifiable")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "auth: token is invalid")
	}
}
