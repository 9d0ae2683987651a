package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix   = "incident_map:clusters:"
	generationKey = "incident_map:generation"
)

// Cache stores rendered cluster responses. Entries are keyed by a
// generation counter that every write to the event store bumps.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Generation(ctx context.Context) (int64, error)
	BumpGeneration(ctx context.Context) error
}

// RedisCache is the Cache backed by redis.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, cachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, cachePrefix+key, val, ttl).Err()
}

func (c *RedisCache) Generation(ctx context.Context) (int64, error) {
	n, err := c.rdb.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *RedisCache) BumpGeneration(ctx context.Context) error {
	return c.rdb.Incr(ctx, generationKey).Err()
}
