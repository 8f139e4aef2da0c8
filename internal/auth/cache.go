package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedVerifier remembers verified identities for a short TTL. Streaming
// connections use it so frequent re-verification stays cheap.
type CachedVerifier struct {
	next  Verifier
	cache *expirable.LRU[string, *Identity]
	now   func() time.Time
}

// NewCachedVerifier wraps next with a bounded TTL cache
func NewCachedVerifier(next Verifier, size int, ttl time.Duration) *CachedVerifier {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedVerifier{
		next:  next,
		cache: expirable.NewLRU[string, *Identity](size, nil, ttl),
		now:   time.Now,
	}
}

// Verify returns a cached identity or delegates. Failures are not cached.
func (c *CachedVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	key := tokenKey(token)
	if id, ok := c.cache.Get(key); ok {
		if id.ExpiresAt.IsZero() || c.now().Before(id.ExpiresAt) {
			return id, nil
		}
		c.cache.Remove(key)
	}

	id, err := c.next.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, id)
	return id, nil
}

// Len returns the number of cached identities
func (c *CachedVerifier) Len() int {
	return c.cache.Len()
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
