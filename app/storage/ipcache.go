package storage

import (
	"context"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

// CachedBannedIPs wraps BannedIPs with a small expirable cache for Contains
// lookups, reducing per-comment database hits. Mutations invalidate the
// affected address so bans take effect immediately.
type CachedBannedIPs struct {
	store *BannedIPs
	cache cache.Cache[string, bool]
	ttl   time.Duration
}

// NewCachedBannedIPs makes a caching wrapper with the given capacity and ttl.
func NewCachedBannedIPs(store *BannedIPs, maxKeys int, ttl time.Duration) *CachedBannedIPs {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedBannedIPs{
		store: store,
		cache: cache.NewCache[string, bool]().WithMaxKeys(maxKeys).WithTTL(ttl),
		ttl:   ttl,
	}
}

// Contains reports whether the address is banned, serving from cache when possible.
func (c *CachedBannedIPs) Contains(ctx context.Context, ip string) (bool, error) {
	if banned, ok := c.cache.Get(ip); ok {
		return banned, nil
	}
	banned, err := c.store.Contains(ctx, ip)
	if err != nil {
		return false, err
	}
	c.cache.Set(ip, banned, c.ttl)
	return banned, nil
}

// Add bans the address and drops it from the cache.
func (c *CachedBannedIPs) Add(ctx context.Context, ip string) (bool, error) {
	created, err := c.store.Add(ctx, ip)
	if err == nil {
		c.cache.Invalidate(ip)
	}
	return created, err
}

// Remove lifts the ban and drops the address from the cache.
func (c *CachedBannedIPs) Remove(ctx context.Context, ip string) error {
	err := c.store.Remove(ctx, ip)
	if err == nil {
		c.cache.Invalidate(ip)
	}
	return err
}

// All returns banned addresses from the underlying store.
func (c *CachedBannedIPs) All(ctx context.Context) ([]BannedIP, error) {
	return c.store.All(ctx)
}
