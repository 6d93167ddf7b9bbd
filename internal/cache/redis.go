package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hunterwarburton/ragstore/internal/core"
)

// Tier-2 defaults.
const (
	DefaultRedisTTL    = 24 * time.Hour
	DefaultRedisPrefix = "ragstore:"

	scanBatchSize = 200
)

// RemoteStore is the tier-2 contract: a shared, out-of-process
// key-value store with TTLs and pattern deletion.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) error
	Close() error
}

// Redis implements RemoteStore on a Redis server. All keys are stored
// under a prefix so several deployments can share one server.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the given Redis address. The connection is
// verified lazily; call Ping to fail fast at startup.
func NewRedis(addr, password string, db int, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client, prefix: prefix}
}

// Ping verifies the connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", core.ErrCacheUnavailable, err)
	}
	return nil
}

// Get returns the value for key, core.ErrNotFound on a miss, or
// core.ErrCacheUnavailable when the server cannot be reached.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("%w: redis get: %v", core.ErrCacheUnavailable, err)
	}
	return val, nil
}

// Set stores the value under key with the given TTL. A non-positive
// TTL uses the tier-2 default.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", core.ErrCacheUnavailable, err)
	}
	return nil
}

// DeletePattern removes every key matching the glob pattern, scanning
// in batches so large keyspaces do not block the server.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, r.prefix+pattern, scanBatchSize).Iterator()

	batch := make([]string, 0, scanBatchSize)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatchSize {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("%w: redis del: %v", core.ErrCacheUnavailable, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: redis scan: %v", core.ErrCacheUnavailable, err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("%w: redis del: %v", core.ErrCacheUnavailable, err)
		}
	}
	return nil
}

// Close releases the client's connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
