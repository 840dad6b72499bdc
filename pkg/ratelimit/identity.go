package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// UserIDFunc returns the authenticated user id carried by ctx, if any.
type UserIDFunc func(ctx context.Context) (string, bool)

// IdentityFromRequest returns "user:<id>" when userID yields an id, else
// "ip:<addr>" from the first X-Forwarded-For element or the peer address.
// userID may be nil.
func IdentityFromRequest(r *http.Request, userID UserIDFunc) string {
	if userID != nil {
		if id, ok := userID(r.Context()); ok && id != "" {
			return "user:" + id
		}
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the first X-Forwarded-For element, else the host part
// of RemoteAddr, else "unknown".
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
