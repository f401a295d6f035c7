package mappingcache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const confirmed = "1"

type redisStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	MappingKey(aggregateType, aggregateID string) string
}

// RedisCache shares confirmations across replicas through Redis. TTL is
// enforced by the server.
type RedisCache struct {
	store redisStore
	ttl   time.Duration
}

func NewRedisCache(store redisStore, ttl time.Duration) *RedisCache {
	return &RedisCache{store: store, ttl: ttl}
}

func (c *RedisCache) Set(ctx context.Context, key string) error {
	if err := c.store.Set(ctx, c.redisKey(key), confirmed, c.ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) TryGet(ctx context.Context, key string) (bool, error) {
	ok, err := c.store.Exists(ctx, c.redisKey(key))
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return ok, nil
}

func (c *RedisCache) redisKey(key string) string {
	typ, id, _ := strings.Cut(key, ":")
	return c.store.MappingKey(typ, id)
}
