package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rdb "marketpulse/internal/stores/redis"

	goredis "github.com/redis/go-redis/v9"
)

// RedisBackend shares cache entries across instances; GC is delegated to key expiry
type RedisBackend[V any] struct {
	rdb    *rdb.Client
	prefix string
}

// prefix example "marketpulse:cache:wallet:"
func NewRedisBackend[V any](client *rdb.Client, prefix string) (*RedisBackend[V], error) {
	if client == nil {
		return nil, errors.New("redis client is required to the redis cache backend")
	}
	if prefix == "" {
		prefix = "cache:"
	}

	return &RedisBackend[V]{rdb: client, prefix: prefix}, nil
}

func (r *RedisBackend[V]) Get(ctx context.Context, key string) (Entry[V], bool, error) {
	var e Entry[V]

	raw, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return e, false, nil
		}
		return e, false, fmt.Errorf("redis GET error: %w", err)
	}

	if err = json.Unmarshal(raw, &e); err != nil {
		return e, false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}

	return e, true, nil
}

func (r *RedisBackend[V]) Set(ctx context.Context, key string, e Entry[V], maxAge time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	if err = r.rdb.Set(ctx, r.prefix+key, raw, maxAge).Err(); err != nil {
		return fmt.Errorf("redis SET error: %w", err)
	}
	return nil
}

func (r *RedisBackend[V]) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis DEL error: %w", err)
	}
	return nil
}

// Keys carry an expiry equal to maxAge, nothing to sweep
func (r *RedisBackend[V]) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
