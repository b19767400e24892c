package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is the single-instance backend; one RWMutex serializes writers
type MemoryBackend[V any] struct {
	mu    sync.RWMutex
	items map[string]Entry[V]
}

func NewMemoryBackend[V any]() *MemoryBackend[V] {
	return &MemoryBackend[V]{
		items: make(map[string]Entry[V], 256),
	}
}

func (m *MemoryBackend[V]) Get(_ context.Context, key string) (Entry[V], bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.items[key]
	return e, ok, nil
}

func (m *MemoryBackend[V]) Set(_ context.Context, key string, e Entry[V], _ time.Duration) error {
	m.mu.Lock()
	m.items[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend[V]) Sweep(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.items {
		if e.StoredAt.Before(olderThan) {
			delete(m.items, k)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryBackend[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
