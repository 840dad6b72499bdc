package auth

import (
	"context"
	"time"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
	"github.com/StricklySoft/catalog-edge/pkg/store"
)

// DenylistPrefix prefixes revoked token ids in the shared cache.
const DenylistPrefix = "blacklist:"

// Denylist is the set of revoked token ids, one blacklist:{jti} key per
// token. Keys expire when the token would have.
type Denylist struct {
	cache store.KeyValueCache
}

var _ RevocationChecker = (*Denylist)(nil)

// NewDenylist returns a Denylist over cache.
func NewDenylist(cache store.KeyValueCache) *Denylist {
	return &Denylist{cache: cache}
}

// IsRevoked reports whether jti was revoked.
func (d *Denylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return d.cache.Exists(ctx, DenylistPrefix+jti)
}

// Revoke denies jti for ttl, normally the token's remaining lifetime.
func (d *Denylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return sserr.Validation("auth: jti must not be empty")
	}
	if ttl <= 0 {
		return sserr.Validationf("auth: revocation ttl must be positive, got %v", ttl)
	}
	return d.cache.Set(ctx, DenylistPrefix+jti, []byte("1"), ttl)
}
