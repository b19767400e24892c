package cache

import (
	"context"
	"time"
)

// Entry is one cached value with its capture time
type Entry[V any] struct {
	Value    V             `json:"value"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
}

// Stale reports now - stored_at > ttl
func (e Entry[V]) Stale(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// General contract for cache storage (in-memory, redis)
type Backend[V any] interface {
	Get(ctx context.Context, key string) (Entry[V], bool, error)
	// maxAge is the garbage-collection horizon, not the staleness TTL
	Set(ctx context.Context, key string, e Entry[V], maxAge time.Duration) error
	Delete(ctx context.Context, key string) error
	// Sweep drops entries stored before olderThan and returns how many were removed
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}
