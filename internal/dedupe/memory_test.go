package dedupe

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/testutil"

	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

// --- helpers ---

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- tests ---

func TestAlertKey(t *testing.T) {
	a := &domain.Alert{Mint: "So111", Kind: domain.KindBreakout}
	if got := AlertKey(a); got != "So111:BREAKOUT" {
		t.Fatalf("unexpected key %q", got)
	}
}

// First call Seen -> false (claimed), second -> true (cooling down).
func TestMemoryDedupe_FirstSeenThenDuplicate(t *testing.T) {
	t.Parallel()

	m := NewInMemoryDedupe(newTestLogger(), time.Minute, 0)
	defer m.Close()

	ctx := context.Background()
	const id = "mint1:HOT_MOMENTUM"

	seen, err := m.Seen(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatalf("expected first Seen=false, got true")
	}

	seen, err = m.Seen(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen {
		t.Fatalf("expected second Seen=true (duplicate), got false")
	}

	// another rule on the same mint has its own cooldown
	seen, _ = m.Seen(ctx, "mint1:REVERSAL")
	if seen {
		t.Fatalf("different kind must not be suppressed")
	}
}

func TestMemoryDedupe_Expiration(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(t0)
	m := NewInMemoryDedupe(newTestLogger(), 5*time.Minute, 0, WithClock(clock.Now))
	defer m.Close()

	ctx := context.Background()
	const id = "mint2:WHALE_MOVE"

	seen, _ := m.Seen(ctx, id)
	if seen {
		t.Fatalf("first Seen must be false")
	}

	clock.Advance(4 * time.Minute)
	if seen, _ = m.Seen(ctx, id); !seen {
		t.Fatalf("within ttl Seen must be true")
	}

	// a suppressed repeat does not extend the window
	clock.Advance(time.Minute)
	if seen, _ = m.Seen(ctx, id); seen {
		t.Fatalf("after ttl expired Seen must be false again (reclaim), got true")
	}
}

func TestMemoryDedupe_SweepDropsExpired(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock(t0)
	m := NewInMemoryDedupe(newTestLogger(), time.Minute, 0, WithClock(clock.Now))
	defer m.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = m.Seen(ctx, "old-"+time.Duration(i).String())
	}
	clock.Advance(30 * time.Second)
	_, _ = m.Seen(ctx, "fresh")

	clock.Advance(31 * time.Second)
	m.sweep()

	if size := m.Len(); size != 1 {
		t.Fatalf("expected only the fresh key to survive, map size=%d", size)
	}
}

func TestMemoryDedupe_JanitorCleansUp(t *testing.T) {
	t.Parallel()

	ttl := 20 * time.Millisecond
	janitorEvery := 15 * time.Millisecond

	m := NewInMemoryDedupe(newTestLogger(), ttl, janitorEvery)
	defer m.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = m.Seen(ctx, "k-"+time.Duration(i).String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected janitor to clean expired items, but map size=%d", m.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryDedupe_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	m := NewInMemoryDedupe(newTestLogger(), 50*time.Millisecond, 10*time.Millisecond)

	m.Close()
	m.Close()
}

func TestMemoryDedupe_ConcurrentSameID(t *testing.T) {
	t.Parallel()

	m := NewInMemoryDedupe(newTestLogger(), time.Minute, 0)
	defer m.Close()

	ctx := context.Background()
	const id = "same-id"
	const workers = 64

	var wg sync.WaitGroup
	wg.Add(workers)

	var mu sync.Mutex
	var firstCount, dupCount int

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			seen, err := m.Seen(ctx, id)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			if seen {
				dupCount++
			} else {
				firstCount++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if firstCount != 1 {
		t.Fatalf("expected exactly one claim (false), got %d", firstCount)
	}
	if dupCount != workers-1 {
		t.Fatalf("expected %d duplicates (true), got %d", workers-1, dupCount)
	}
}
