package auth

import (
	"net/http"
	"strings"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
	"github.com/StricklySoft/catalog-edge/pkg/server"
)

// HeaderAuthorization carries the bearer token.
const HeaderAuthorization = "Authorization"

// Client-facing details.
const (
	DetailInvalidToken     = "Invalid token"
	DetailTokenExpired     = "Token expired"
	DetailUnknownKey       = "Unknown key id"
	DetailNotAccessToken   = "Not an access token"
	DetailTokenRevoked     = "Token revoked"
	DetailUnavailable      = "Auth service unavailable"
	DetailNotAuthenticated = "Not authenticated"
)

// ExtractBearerToken returns the token from an "Authorization: Bearer x"
// value, matching the scheme case-insensitively, or "" when the value is
// not a bearer credential.
func ExtractBearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// PublicDetail maps a verification or resolution error to the HTTP status
// and the detail string safe to return to clients.
func PublicDetail(err error) (int, string) {
	switch sserr.GetCode(err) {
	case sserr.CodeAuthenticationExpired:
		return http.StatusUnauthorized, DetailTokenExpired
	case sserr.CodeAuthenticationUnknownKey:
		return http.StatusUnauthorized, DetailUnknownKey
	case sserr.CodeAuthenticationTokenType:
		return http.StatusUnauthorized, DetailNotAccessToken
	case sserr.CodeAuthenticationRevoked:
		return http.StatusUnauthorized, DetailTokenRevoked
	}
	if sserr.IsUnavailable(err) {
		return http.StatusServiceUnavailable, DetailUnavailable
	}
	return http.StatusUnauthorized, DetailInvalidToken
}

// WriteError writes err as {"detail": ...} with the status from
// [PublicDetail]. 401 responses carry WWW-Authenticate.
func WriteError(w http.ResponseWriter, err error) {
	status, detail := PublicDetail(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	server.WriteDetail(w, status, detail)
}

// Middleware resolves the bearer token of every request and stores the
// principal in the request context. Requests without a bearer token pass
// as guests. Credential failures are answered with 401; in Strict mode an
// unreachable provider is answered with 503.
func Middleware(res *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
			p, err := res.Resolve(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), p)))
		})
	}
}

// RequireAuthenticated rejects guests with 401 {"detail":"Not
// authenticated"}. It must run after [Middleware].
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).IsGuest() {
			w.Header().Set("WWW-Authenticate", "Bearer")
			server.WriteDetail(w, http.StatusUnauthorized, DetailNotAuthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}
