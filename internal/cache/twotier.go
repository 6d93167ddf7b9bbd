package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hunterwarburton/ragstore/internal/core"
	"github.com/hunterwarburton/ragstore/internal/logger"
)

// TwoTier composes the in-process LRU with a remote store into a
// read-through/write-through hierarchy. Tier-2 failures are logged and
// treated as misses; tier 1 keeps serving for the remainder of its TTL.
type TwoTier struct {
	local     *LRU
	remote    RemoteStore
	localTTL  time.Duration
	remoteTTL time.Duration
}

var _ core.Cache = (*TwoTier)(nil)

// NewTwoTier builds the cache hierarchy. remote may be nil, in which
// case the cache degrades to tier 1 only.
func NewTwoTier(local *LRU, remote RemoteStore, localTTL, remoteTTL time.Duration) *TwoTier {
	if localTTL <= 0 {
		localTTL = DefaultLRUTTL
	}
	if remoteTTL <= 0 {
		remoteTTL = DefaultRedisTTL
	}
	return &TwoTier{
		local:     local,
		remote:    remote,
		localTTL:  localTTL,
		remoteTTL: remoteTTL,
	}
}

// Get checks tier 1 first, then tier 2. A tier-2 hit is promoted into
// tier 1 before returning.
func (c *TwoTier) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, ok := c.local.Get(key); ok {
		return val, true
	}
	if c.remote == nil {
		return nil, false
	}

	val, err := c.remote.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			logger.Warn("cache: tier-2 read failed, treating as miss: %v", err)
		}
		return nil, false
	}
	c.local.Set(key, val, c.localTTL)
	return val, true
}

// Set writes to both tiers. A non-positive ttl uses each tier's
// configured default; an explicit ttl applies to both. A tier-2 write
// failure is non-fatal.
func (c *TwoTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	localTTL, remoteTTL := c.localTTL, c.remoteTTL
	if ttl > 0 {
		localTTL, remoteTTL = ttl, ttl
	}

	c.local.Set(key, value, localTTL)
	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, key, value, remoteTTL); err != nil {
		logger.Warn("cache: tier-2 write failed for %s: %v", key, err)
	}
}

// Invalidate deletes every key matching the glob pattern in both tiers.
func (c *TwoTier) Invalidate(ctx context.Context, pattern string) {
	dropped := c.local.DeletePattern(pattern)
	logger.Debug("cache: invalidated %d tier-1 entries for pattern %s", dropped, pattern)

	if c.remote == nil {
		return
	}
	if err := c.remote.DeletePattern(ctx, pattern); err != nil {
		logger.Warn("cache: tier-2 invalidation failed for %s: %v", pattern, err)
	}
}
