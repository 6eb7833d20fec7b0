// Package redis provides the Redis-backed cache and lock adapters used by
// deployments that keep hot canvas state off DynamoDB.
package redis

import (
	"context"
	"time"

	backend "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "canvas-backend/pkg/errors"
)

// Cache implements ports.Cache using Redis.
type Cache struct {
	client *backend.Client
	prefix string
	logger *zap.Logger
}

type CacheOption func(*Cache)

// WithPrefix sets the key prefix for cached entries.
func WithPrefix(prefix string) CacheOption {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// NewCache creates a new Redis cache from an existing client.
func NewCache(client *backend.Client, logger *zap.Logger, opts ...CacheOption) *Cache {
	cache := &Cache{
		client: client,
		prefix: "canvas:state:",
		logger: logger,
	}

	for _, opt := range opts {
		opt(cache)
	}

	return cache
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Get returns the cached value and whether the key was present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err == backend.Nil {
			return nil, false, nil
		}
		return nil, false, apperrors.NewCacheError("get", err)
	}

	return val, true, nil
}

// Set stores a value with a TTL. A zero TTL stores without expiration.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return apperrors.NewCacheError("set", err)
	}
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return apperrors.NewCacheError("delete", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
