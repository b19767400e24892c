package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketpulse/internal/metrics"

	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/sync/singleflight"
)

/*
	Store is a read-through TTL cache with stale-while-revalidate:
	  - miss: load synchronously, store, return fresh;
	  - hit within TTL: return cached, no load;
	  - hit past TTL: return stale right away and start at most one background refresh per key.
	Concurrent loads of the same key (miss or refresh) collapse into one in-flight call.
*/

// Loader fetches the authoritative value for key
type Loader[V any] func(ctx context.Context, key string) (V, error)

type Options struct {
	Name           string        // metrics/log label
	TTL            time.Duration // staleness bound
	MaxAge         time.Duration // GC horizon, by default 10 * TTL
	JanitorEvery   time.Duration // 0 -> don't run collector
	RefreshTimeout time.Duration // bound for every load
	Clock          func() time.Time
}

type Store[V any] struct {
	log     logger.Logger
	name    string
	backend Backend[V]
	loader  Loader[V]

	ttl            time.Duration
	maxAge         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	refreshing map[string]struct{}
	wg         sync.WaitGroup

	stopCh  chan struct{}
	stopped bool
}

func New[V any](log logger.Logger, backend Backend[V], loader Loader[V], opts Options) (*Store[V], error) {
	if backend == nil {
		return nil, errors.New("backend is required to the cache store")
	}
	if loader == nil {
		return nil, errors.New("loader is required to the cache store")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("ttl must be positive")
	}

	// sane defaults
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.MaxAge < opts.TTL {
		opts.MaxAge = 10 * opts.TTL
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Store[V]{
		log:            log,
		name:           opts.Name,
		backend:        backend,
		loader:         loader,
		ttl:            opts.TTL,
		maxAge:         opts.MaxAge,
		refreshTimeout: opts.RefreshTimeout,
		now:            opts.Clock,
		refreshing:     make(map[string]struct{}),
		stopCh:         make(chan struct{}),
	}

	if opts.JanitorEvery > 0 {
		go s.janitor(opts.JanitorEvery)
	}

	return s, nil
}

// Get returns the value and whether it was served stale
func (s *Store[V]) Get(ctx context.Context, key string) (V, bool, error) {
	e, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		// a broken backend degrades to a pass-through load
		s.log.Warnf("Cache %s backend read failed for key=%s: %v", s.name, key, err)
		ok = false
	}

	if ok {
		if !e.Stale(s.now()) {
			metrics.CacheRequests.WithLabelValues(s.name, "hit").Inc()
			return e.Value, false, nil
		}

		metrics.CacheRequests.WithLabelValues(s.name, "stale").Inc()
		s.refreshAsync(key)
		return e.Value, true, nil
	}

	metrics.CacheRequests.WithLabelValues(s.name, "miss").Inc()

	v, err := s.load(ctx, key)
	if err != nil {
		metrics.CacheRequests.WithLabelValues(s.name, "error").Inc()
		var zero V
		return zero, false, err
	}

	return v, false, nil
}

// Invalidate removes an entry immediately
func (s *Store[V]) Invalidate(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Refreshing reports whether a background refresh for key is in flight
func (s *Store[V]) Refreshing(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.refreshing[key]
	return ok
}

// load joins or starts the single in-flight load for key; ctx only bounds the wait
func (s *Store[V]) load(ctx context.Context, key string) (V, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		return s.fetchAndStore(key)
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Loads are process-wide: a caller going away doesn't cancel them
func (s *Store[V]) fetchAndStore(key string) (V, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
	defer cancel()

	v, err := s.loader(ctx, key)
	if err != nil {
		return v, fmt.Errorf("cache %s load %s: %w", s.name, key, err)
	}

	entry := Entry[V]{Value: v, StoredAt: s.now(), TTL: s.ttl}
	if err = s.backend.Set(ctx, key, entry, s.maxAge); err != nil {
		s.log.Errorf("Cache %s backend write failed for key=%s: %v", s.name, key, err)
	}

	return v, nil
}

func (s *Store[V]) refreshAsync(key string) {
	s.mu.Lock()
	if _, inFlight := s.refreshing[key]; inFlight || s.stopped {
		s.mu.Unlock()
		return
	}
	s.refreshing[key] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.refreshing, key)
			s.mu.Unlock()
		}()

		_, err, _ := s.group.Do(key, func() (any, error) {
			return s.fetchAndStore(key)
		})
		if err != nil {
			// keep serving the stale entry; the next stale read retries
			metrics.CacheRefreshes.WithLabelValues(s.name, "error").Inc()
			s.log.Warnf("Background refresh failed: %v", err)
			return
		}

		metrics.CacheRefreshes.WithLabelValues(s.name, "ok").Inc()
		s.log.Debugf("Cache %s refreshed key=%s", s.name, key)
	}()
}

func (s *Store[V]) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			removed, err := s.backend.Sweep(context.Background(), s.now().Add(-s.maxAge))
			if err != nil {
				s.log.Errorf("Cache %s sweep failed: %v", s.name, err)
				continue
			}
			if removed > 0 {
				s.log.Debugf("Cache %s removed %d expired entries", s.name, removed)
			}
		}
	}
}

// Wait blocks until in-flight background refreshes are done
func (s *Store[V]) Wait() {
	s.wg.Wait()
}

// Close stops the collector and waits for background refreshes
func (s *Store[V]) Close() {
	s.mu.Lock()
	if !s.stopped {
		close(s.stopCh)
		s.stopped = true
	}
	s.mu.Unlock()

	s.wg.Wait()
}
