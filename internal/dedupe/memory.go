package dedupe

import (
	"context"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"
)

type memEntry struct {
	expireAt int64 // unix nano
}

type MemoryDedupe struct {
	log     logger.Logger
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	items   map[string]memEntry
	stopCh  chan struct{}
	stopped bool
}

type MemoryOption func(*MemoryDedupe)

func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryDedupe) { m.now = now }
}

// for a single instance;
// ttl-how long a claimed id suppresses repeats;
// janitorEvery-how often expired ids are dropped; 0 -> don't run collector
func NewInMemoryDedupe(log logger.Logger, ttl, janitorEvery time.Duration, opts ...MemoryOption) *MemoryDedupe {
	m := &MemoryDedupe{
		log:    log,
		ttl:    ttl,
		now:    time.Now,
		items:  make(map[string]memEntry, 256),
		stopCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}

	if janitorEvery > 0 {
		go m.janitor(janitorEvery)
	}

	return m
}

func (m *MemoryDedupe) Seen(_ context.Context, id string) (bool, error) {
	now := m.now().UnixNano()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.items[id]; ok && e.expireAt > now {
		return true, nil
	}

	m.items[id] = memEntry{expireAt: now + m.ttl.Nanoseconds()}
	m.log.Debugf("Cooldown started for key=%s", id)

	return false, nil
}

// Len counts tracked ids, expired ones included until the janitor runs
func (m *MemoryDedupe) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *MemoryDedupe) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweep()
		}
	}
}

func (m *MemoryDedupe) sweep() {
	now := m.now().UnixNano()

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.items {
		if e.expireAt <= now {
			delete(m.items, k)
		}
	}
}

// Close stops the collector (if running)
func (m *MemoryDedupe) Close() {
	m.mu.Lock()
	if !m.stopped {
		close(m.stopCh)
		m.stopped = true
	}
	m.mu.Unlock()
}
