package handler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces cache keys in a shared Redis.
const DefaultRedisKeyPrefix = "eb-agent:cache:"

// RedisCache is a Store backed by Redis, shared across gateway replicas.
// Redis failures degrade to cache misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// RedisCacheOption is a functional option for configuring RedisCache.
type RedisCacheOption func(*RedisCache)

// WithRedisKeyPrefix sets the key namespace.
func WithRedisKeyPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithRedisTTL sets the entry lifetime.
func WithRedisTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		c.ttl = ttl
	}
}

// WithRedisLogger sets a custom logger.
func WithRedisLogger(logger *slog.Logger) RedisCacheOption {
	return func(c *RedisCache) {
		c.logger = logger
	}
}

// NewRedisCache creates a RedisCache and checks the connection.
func NewRedisCache(ctx context.Context, redisOpts *redis.Options, opts ...RedisCacheOption) (*RedisCache, error) {
	c := &RedisCache{
		client: redis.NewClient(redisOpts),
		prefix: DefaultRedisKeyPrefix,
		ttl:    DefaultCacheTTL,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		_ = c.client.Close()
		return nil, err
	}

	return c, nil
}

// Get retrieves a cached response by key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis cache get failed", slog.String("error", err.Error()))
		}
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return data, true
}

// Set stores a response with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, body []byte) {
	if err := c.client.Set(ctx, c.prefix+key, body, c.ttl).Err(); err != nil {
		c.logger.Warn("redis cache set failed", slog.String("error", err.Error()))
	}
}

// Stats returns cache hit/miss statistics.
func (c *RedisCache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
