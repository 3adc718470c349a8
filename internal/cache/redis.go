package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seenimoa/tickerpulse/internal/logging"
)

// RedisCache is a native Redis backend, used when a redis:// URL is configured.
type RedisCache struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, log: logging.For("cache/redis")}
}

// OpenRedis parses a redis:// URL and creates a backend. It does not dial.
func OpenRedis(rawURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache/redis: parse url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 3 * time.Second
	}
	return NewRedisCache(redis.NewClient(opts)), nil
}

func (c *RedisCache) Name() string { return "redis" }

// Get fetches key. redis.Nil and transport errors are both misses.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug("get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return val, true
}

// Set stores value with ttl.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn("set failed", "key", key, "error", err)
	}
}

// Delete removes keys.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("del failed", "keys", keys, "error", err)
	}
}

// Exists reports whether key is present.
func (c *RedisCache) Exists(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, key).Result()
	return err == nil && n > 0
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
