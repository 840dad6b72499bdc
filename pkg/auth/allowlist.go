package auth

import (
	"sort"
	"strings"
)

// AllowList is a case-insensitive set of email addresses. It decodes from
// a comma-separated config value.
type AllowList map[string]struct{}

// NewAllowList returns the set of emails, normalized.
func NewAllowList(emails ...string) AllowList {
	a := make(AllowList, len(emails))
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			a[e] = struct{}{}
		}
	}
	return a
}

// Contains reports whether email is in the list. An empty email never is.
func (a AllowList) Contains(email string) bool {
	email = normalizeEmail(email)
	if email == "" {
		return false
	}
	_, ok := a[email]
	return ok
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AllowList) UnmarshalText(text []byte) error {
	*a = NewAllowList(strings.Split(string(text), ",")...)
	return nil
}

// MarshalText renders the sorted list.
func (a AllowList) MarshalText() ([]byte, error) {
	emails := make([]string, 0, len(a))
	for e := range a {
		emails = append(emails, e)
	}
	sort.Strings(emails)
	return []byte(strings.Join(emails, ",")), nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
