// Package cache implements domain.Cache invalidation over Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 500

// Claim values. A pending claim is an in-flight lease; a done claim records
// that the effect happened.
const (
	claimPending = "pending"
	claimDone    = "done"
)

// RedisCache deletes cached read models. It only invalidates; readers
// populate keys on their own.
type RedisCache struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewRedisCache(client redis.UniversalClient, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

// NewClient parses a redis:// URL and returns a client for it.
func NewClient(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Remove deletes a single key. A missing key is not an error.
func (c *RedisCache) Remove(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// RemoveByPattern unlinks every key matching a glob pattern. Keys are
// walked with SCAN so large keyspaces do not block the server.
func (c *RedisCache) RemoveByPattern(ctx context.Context, pattern string) error {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cache keys %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Unlink(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("failed to unlink cache keys %s: %w", pattern, err)
			}
			removed += n
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	c.logger.Debug("cache: removed keys by pattern", "pattern", pattern, "count", removed)
	return nil
}

// Claim leases key for ttl only if it is absent. It reports whether this
// call took the lease.
func (c *RedisCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, claimPending, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return ok, nil
}

// Complete marks key done for ttl, replacing any lease.
func (c *RedisCache) Complete(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, claimDone, ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete %s: %w", key, err)
	}
	return nil
}

// Done reports whether key was marked done.
func (c *RedisCache) Done(ctx context.Context, key string) (bool, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v == claimDone, nil
}

// Release deletes a claim so the effect can be attempted again.
func (c *RedisCache) Release(ctx context.Context, key string) error {
	return c.Remove(ctx, key)
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// NoopCache satisfies domain.Cache when no Redis is configured.
type NoopCache struct{}

func (NoopCache) Remove(context.Context, string) error          { return nil }
func (NoopCache) RemoveByPattern(context.Context, string) error { return nil }
