package ledger

import (
	"sort"
	"sync"

	"marketpulse/internal/domain"
)

const DefaultCapacity = 20

// Ledger keeps the newest, highest-priority alerts; it owns alert lifetime
type Ledger struct {
	mu       sync.RWMutex
	capacity int
	alerts   []domain.Alert // always sorted, len <= capacity
}

func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Ledger{
		capacity: capacity,
		alerts:   make([]domain.Alert, 0, capacity),
	}
}

// Append merges, re-sorts (priority desc, timestamp desc) and truncates under one write lock
func (l *Ledger) Append(alerts []domain.Alert) {
	if len(alerts) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make([]domain.Alert, 0, len(l.alerts)+len(alerts))
	merged = append(merged, alerts...)
	merged = append(merged, l.alerts...)

	sort.SliceStable(merged, func(i, j int) bool {
		return Less(&merged[i], &merged[j])
	})

	if len(merged) > l.capacity {
		merged = merged[:l.capacity]
	}

	// readers hold the old slice; never mutate it in place
	l.alerts = merged
}

// List returns a consistent copy of the ordered alerts
func (l *Ledger) List() []domain.Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Alert, len(l.alerts))
	copy(out, l.alerts)
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.alerts)
}

// Less orders by priority desc, then timestamp desc
func Less(a, b *domain.Alert) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Timestamp.After(b.Timestamp)
}
