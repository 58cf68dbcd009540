package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/channel-service/internal/domain"
)

const sessionKeyPrefix = "session:"

// KV is the subset of the go-redis client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// SessionCache stores resolved identities keyed by token digest.
type SessionCache struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

// sessionEntry is the CBOR layout of a cached session. Times are epoch
// milliseconds, zero meaning unset.
type sessionEntry struct {
	ID            string   `cbor:"1,keyasint"`
	Name          string   `cbor:"2,keyasint"`
	EmailAddress  string   `cbor:"3,keyasint"`
	EmailVerified bool     `cbor:"4,keyasint"`
	Roles         []string `cbor:"5,keyasint"`
	CreatedAt     int64    `cbor:"6,keyasint"`
	LastLogin     int64    `cbor:"7,keyasint"`
	LastAccess    int64    `cbor:"8,keyasint"`
	Expire        int64    `cbor:"9,keyasint"`
}

// NewSessionCache builds a cache with the given upper bound on entry lifetime.
func NewSessionCache(kv KV, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SessionCache{kv: kv, ttl: ttl, now: time.Now}
}

// Get returns the cached identity and its token expiry.
func (c *SessionCache) Get(ctx context.Context, digest string) (*domain.Identity, time.Time, bool, error) {
	data, err := c.kv.Get(ctx, sessionKeyPrefix+digest).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, err
	}

	var entry sessionEntry
	if err := unmarshal(data, &entry); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decode session entry: %w", err)
	}

	roles := make([]domain.Role, 0, len(entry.Roles))
	for _, r := range entry.Roles {
		if role, err := domain.ParseRole(r); err == nil {
			roles = append(roles, role)
		}
	}
	identity := &domain.Identity{
		ID:            entry.ID,
		Name:          entry.Name,
		EmailAddress:  entry.EmailAddress,
		EmailVerified: entry.EmailVerified,
		Roles:         roles,
		CreatedAt:     fromMillis(entry.CreatedAt),
		LastLogin:     fromMillis(entry.LastLogin),
		LastAccess:    fromMillis(entry.LastAccess),
	}
	return identity, fromMillis(entry.Expire), true, nil
}

// Set caches identity until the earlier of the configured TTL and the token
// expiry. The password hash is never cached.
func (c *SessionCache) Set(ctx context.Context, digest string, identity *domain.Identity, expire time.Time) error {
	ttl := c.ttl
	if remaining := expire.Sub(c.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return nil
	}

	roles := make([]string, 0, len(identity.Roles))
	for _, role := range identity.Roles {
		roles = append(roles, role.String())
	}
	data, err := marshal(sessionEntry{
		ID:            identity.ID,
		Name:          identity.Name,
		EmailAddress:  identity.EmailAddress,
		EmailVerified: identity.EmailVerified,
		Roles:         roles,
		CreatedAt:     millis(identity.CreatedAt),
		LastLogin:     millis(identity.LastLogin),
		LastAccess:    millis(identity.LastAccess),
		Expire:        millis(expire),
	})
	if err != nil {
		return fmt.Errorf("encode session entry: %w", err)
	}
	return c.kv.Set(ctx, sessionKeyPrefix+digest, data, ttl).Err()
}

// Delete evicts the given digests.
func (c *SessionCache) Delete(ctx context.Context, digests ...string) error {
	if len(digests) == 0 {
		return nil
	}
	keys := make([]string, 0, len(digests))
	for _, d := range digests {
		keys = append(keys, sessionKeyPrefix+d)
	}
	return c.kv.Del(ctx, keys...).Err()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
