package auth

import (
	"context"
	"encoding/json"
)

// RoleUser is the role given to every authenticated principal.
const RoleUser = "user"

// Principal is the resolved request identity: either a guest or a fully
// populated authenticated user. The zero value is the guest.
type Principal struct {
	userID string
	email  string
	role   string
}

// Guest returns the anonymous principal.
func Guest() Principal { return Principal{} }

// Authenticated builds a user principal from verified claims.
func Authenticated(c *Claims) Principal {
	return Principal{userID: c.Subject, email: c.Email, role: RoleUser}
}

// IsGuest reports whether p is anonymous.
func (p Principal) IsGuest() bool { return p.userID == "" }

// UserID returns the token subject, or "" for a guest.
func (p Principal) UserID() string { return p.userID }

// Email returns the email claim. It may be empty for a user.
func (p Principal) Email() string { return p.email }

// Role returns the principal's role, or "" for a guest.
func (p Principal) Role() string { return p.role }

// MarshalJSON renders a guest as "guest" and a user as
// {"user_id","email","role"}.
func (p Principal) MarshalJSON() ([]byte, error) {
	if p.IsGuest() {
		return json.Marshal("guest")
	}
	return json.Marshal(struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
		Role   string `json:"role"`
	}{p.userID, p.email, p.role})
}

type principalKey struct{}

// NewContext returns ctx carrying p.
func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal in ctx, or the guest.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// UserID returns the authenticated user id in ctx. It matches
// ratelimit.UserIDFunc.
func UserID(ctx context.Context) (string, bool) {
	p := FromContext(ctx)
	return p.userID, !p.IsGuest()
}
