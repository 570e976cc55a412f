package tenant

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a loaded config is served before it is refetched.
const DefaultTTL = 60 * time.Second

// Loader is the config store the cache reads through.
type Loader interface {
	Get(ctx context.Context, id string) (*Config, error)
}

type cacheEntry struct {
	cfg     *Config
	expires time.Time
}

// Cache memoizes configs per tenant for a fixed TTL. Entries are only
// replaced after they expire, so every request inside one TTL window sees the
// same snapshot. Concurrent misses for one tenant may both load; the last
// store wins.
type Cache struct {
	loader  Loader
	ttl     time.Duration
	entries sync.Map // tenant id -> cacheEntry
	now     func() time.Time
}

// NewCache creates a cache over loader. A non-positive ttl uses DefaultTTL.
func NewCache(loader Loader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{loader: loader, ttl: ttl, now: time.Now}
}

// Get returns the cached config for id, loading it when absent or expired.
// Load errors, including ErrNotFound, are not cached.
func (c *Cache) Get(ctx context.Context, id string) (*Config, error) {
	now := c.now()
	if v, ok := c.entries.Load(id); ok {
		e := v.(cacheEntry)
		if now.Before(e.expires) {
			return e.cfg, nil
		}
	}

	cfg, err := c.loader.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.entries.Store(id, cacheEntry{cfg: cfg, expires: now.Add(c.ttl)})
	return cfg, nil
}
