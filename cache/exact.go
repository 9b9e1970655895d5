package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by ExactCache.Get when the key is absent.
var ErrMiss = errors.New("cache: miss")

// ExactCache is the layer-1, per-user, hash-keyed tool-result cache.
// Implementations must treat Set as fire-and-forget: callers do not block
// the tool loop on a cache write succeeding.
type ExactCache interface {
	// Get returns the opaque cached payload for key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores payload under key with the given TTL.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// RedisExactCache is an ExactCache backed by Redis string values with a TTL.
type RedisExactCache struct {
	client *redis.Client
}

// NewRedisExactCache constructs a RedisExactCache over an existing
// *redis.Client connection.
func NewRedisExactCache(client *redis.Client) *RedisExactCache {
	return &RedisExactCache{client: client}
}

// Get implements ExactCache.
func (c *RedisExactCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set implements ExactCache. Failures are the caller's responsibility to
// log-and-ignore per the fire-and-forget write contract.
func (c *RedisExactCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, payload, ttl).Err()
}
