package entitlement

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Cache stores decisions. Keys embed the account revision, so a bumped
// revision makes older entries unreachable; the TTL bounds catalog drift.
type Cache interface {
	GetDecision(ctx context.Context, key string) (Decision, bool)
	SetDecision(ctx context.Context, key string, d Decision, ttl time.Duration)
}

// CacheKey builds the cache key of a decision.
func CacheKey(accountID, userID, itemID string, revision int64) string {
	return fmt.Sprintf("%s|%s|%s|%d", accountID, userID, itemID, revision)
}

const sweepThreshold = 4096

type cachedDecision struct {
	decision Decision
	expires  time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cachedDecision
	now     func() time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cachedDecision), now: time.Now}
}

// GetDecision implements Cache.
func (c *MemoryCache) GetDecision(_ context.Context, key string) (Decision, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(e.expires) {
		return Decision{}, false
	}
	return e.decision, true
}

// SetDecision implements Cache.
func (c *MemoryCache) SetDecision(_ context.Context, key string, d Decision, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= sweepThreshold {
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = cachedDecision{decision: d, expires: now.Add(ttl)}
}

var _ Cache = (*MemoryCache)(nil)
