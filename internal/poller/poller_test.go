package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/source/tracker"
	"marketpulse/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu          sync.Mutex
	trending    map[domain.Timeframe][]tracker.TrendingToken
	trendingErr map[domain.Timeframe]error
	stats       map[string]domain.StatSet
	statsErr    map[string]error
	holders     map[string][]domain.Holder
	statsCalls  map[string]int
	block       chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		trending:    map[domain.Timeframe][]tracker.TrendingToken{},
		trendingErr: map[domain.Timeframe]error{},
		stats:       map[string]domain.StatSet{},
		statsErr:    map[string]error{},
		holders:     map[string][]domain.Holder{},
		statsCalls:  map[string]int{},
	}
}

func (f *fakeSource) Trending(ctx context.Context, tf domain.Timeframe) ([]tracker.TrendingToken, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.trendingErr[tf]; err != nil {
		return nil, err
	}
	return f.trending[tf], nil
}

func (f *fakeSource) Stats(_ context.Context, mint string) (domain.StatSet, error) {
	f.mu.Lock()
	f.statsCalls[mint]++
	f.mu.Unlock()

	if err := f.statsErr[mint]; err != nil {
		return domain.StatSet{}, err
	}
	return f.stats[mint], nil
}

func (f *fakeSource) TopHolders(_ context.Context, mint string) ([]domain.Holder, error) {
	h, ok := f.holders[mint]
	if !ok {
		return nil, &tracker.FetchError{Op: "top_holders", Status: 500, Err: errors.New("boom")}
	}
	return h, nil
}

func tok(mint string) tracker.TrendingToken {
	return tracker.TrendingToken{Mint: mint, Symbol: "S" + mint, PoolID: "pool-" + mint}
}

func withM5() domain.StatSet {
	return domain.StatSet{M5: &domain.StatSnapshot{Timeframe: domain.Timeframe5m, Volume: domain.Volume{Total: 1}}}
}

func testConfig() *config.Config {
	return &config.Config{
		Poller:  config.PollerConfig{Interval: time.Hour, Timeout: time.Second},
		Tracker: config.TrackerConfig{MaxInstruments: 20},
	}
}

func newTestPoller(t *testing.T, src Source, cfg *config.Config) *Poller {
	t.Helper()
	p, err := New(testutil.Logger(), cfg, src)
	require.NoError(t, err)
	return p
}

func TestNew_Validation(t *testing.T) {
	_, err := New(testutil.Logger(), nil, newFakeSource())
	assert.Error(t, err)

	_, err = New(testutil.Logger(), testConfig(), nil)
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	got := Merge(3,
		[]tracker.TrendingToken{tok("a"), tok("b")},
		[]tracker.TrendingToken{tok("b"), tok("c"), tok("d")},
		[]tracker.TrendingToken{tok("e")},
	)

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Mint)
	assert.Equal(t, "b", got[1].Mint)
	assert.Equal(t, "c", got[2].Mint)

	assert.Empty(t, Merge(5))
}

func TestPoll_BuildsWorkingSet(t *testing.T) {
	src := newFakeSource()
	src.trending[domain.Timeframe5m] = []tracker.TrendingToken{tok("a"), tok("b")}
	src.trending[domain.Timeframe1h] = []tracker.TrendingToken{tok("a"), tok("c")}
	src.trending[domain.Timeframe24h] = []tracker.TrendingToken{tok("d")}

	src.stats["a"] = withM5()
	src.stats["b"] = withM5()
	src.stats["c"] = domain.StatSet{} // no 5m -> skipped
	src.statsErr["d"] = errors.New("timeout")

	src.holders["a"] = []domain.Holder{{Address: "h", ValueUSD: 2000}}
	src.holders["b"] = nil // empty but available

	p := newTestPoller(t, src, testConfig())

	insts, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, insts, 2)

	assert.Equal(t, "a", insts[0].Mint)
	assert.Equal(t, "pool-a", insts[0].PoolID)
	assert.Len(t, insts[0].Holders, 1)

	assert.Equal(t, "b", insts[1].Mint)
	assert.NotNil(t, insts[1].Holders, "available but empty holders must not read as unavailable")

	assert.Equal(t, 1, src.statsCalls["a"], "a mint seen in several trending lists is fetched once")
}

func TestPoll_HoldersFailureLeavesNil(t *testing.T) {
	src := newFakeSource()
	src.trending[domain.Timeframe5m] = []tracker.TrendingToken{tok("a")}
	src.stats["a"] = withM5()

	p := newTestPoller(t, src, testConfig())

	insts, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Nil(t, insts[0].Holders)
}

func TestPoll_CapsWorkingSet(t *testing.T) {
	src := newFakeSource()
	for _, m := range []string{"a", "b", "c", "d"} {
		src.trending[domain.Timeframe5m] = append(src.trending[domain.Timeframe5m], tok(m))
		src.stats[m] = withM5()
	}

	cfg := testConfig()
	cfg.Tracker.MaxInstruments = 2
	p := newTestPoller(t, src, cfg)

	insts, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Len(t, insts, 2)
	assert.Zero(t, src.statsCalls["c"])
}

func TestPoll_TrendingFailureFailsCycle(t *testing.T) {
	src := newFakeSource()
	src.trending[domain.Timeframe5m] = []tracker.TrendingToken{tok("a")}
	src.stats["a"] = withM5()
	src.trendingErr[domain.Timeframe1h] = &tracker.FetchError{Op: "trending_1h", Status: 503, Err: errors.New("unavailable")}

	p := newTestPoller(t, src, testConfig())

	insts, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Nil(t, insts)
	assert.True(t, tracker.IsFetchError(err))
}

func TestPoll_AllStatsFailing(t *testing.T) {
	src := newFakeSource()
	src.trending[domain.Timeframe5m] = []tracker.TrendingToken{tok("a")}
	src.statsErr["a"] = errors.New("nope")

	p := newTestPoller(t, src, testConfig())

	_, err := p.Poll(context.Background())
	assert.ErrorIs(t, err, ErrEmptyWorkingSet)
}

func TestPoll_EmptyTrendingIsSuccess(t *testing.T) {
	p := newTestPoller(t, newFakeSource(), testConfig())

	insts, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, insts)
}

func TestPoll_CycleTimeout(t *testing.T) {
	src := newFakeSource()
	src.block = make(chan struct{})
	defer close(src.block)

	cfg := testConfig()
	cfg.Poller.Timeout = 30 * time.Millisecond
	p := newTestPoller(t, src, cfg)

	start := time.Now()
	_, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun_PollsImmediatelyAndOnTicks(t *testing.T) {
	src := newFakeSource()
	src.trending[domain.Timeframe5m] = []tracker.TrendingToken{tok("a")}
	src.stats["a"] = withM5()

	cfg := testConfig()
	cfg.Poller.Interval = 20 * time.Millisecond
	cfg.Poller.Timeout = 20 * time.Millisecond
	p := newTestPoller(t, src, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu     sync.Mutex
		cycles int
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, func(_ context.Context, insts []domain.Instrument, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err == nil && len(insts) == 1 {
				cycles++
			}
		})
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cycles >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRun_ReportsFailuresAndKeepsGoing(t *testing.T) {
	src := newFakeSource()
	src.trendingErr[domain.Timeframe5m] = errors.New("down")

	cfg := testConfig()
	cfg.Poller.Interval = 10 * time.Millisecond
	p := newTestPoller(t, src, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failures := make(chan error, 16)
	go p.Run(ctx, func(_ context.Context, _ []domain.Instrument, err error) {
		select {
		case failures <- err:
		default:
		}
	})

	for i := 0; i < 2; i++ {
		select {
		case err := <-failures:
			assert.Error(t, err)
		case <-time.After(time.Second):
			t.Fatal("poll loop stalled after a failure")
		}
	}
}
