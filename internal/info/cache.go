package info

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/connergroth/EcoVision/internal/models"
)

// Cache holds resolved recycling information keyed by category and
// confidence bucket. Entries are shared: a hit returns the same pointer
// that was stored, so callers must not mutate it.
type Cache struct {
	lru    *expirable.LRU[string, *models.RecyclingInfo]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache creates a cache bounded by size entries and ttl age
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 256
	}
	return &Cache{
		lru: expirable.NewLRU[string, *models.RecyclingInfo](size, nil, ttl),
	}
}

// CacheKey buckets confidence to whole percent
func CacheKey(category models.Category, confidence float64) string {
	return fmt.Sprintf("%s|%d", category, int(math.Round(confidence*100)))
}

// Get returns the cached entry for the key, if present
func (c *Cache) Get(category models.Category, confidence float64) (*models.RecyclingInfo, bool) {
	info, ok := c.lru.Get(CacheKey(category, confidence))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return info, ok
}

// Add stores an entry
func (c *Cache) Add(category models.Category, confidence float64, info *models.RecyclingInfo) {
	c.lru.Add(CacheKey(category, confidence), info)
}

// Len returns the number of live entries
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns hit and miss counters
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
