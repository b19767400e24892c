package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/metrics"
	"marketpulse/internal/source/tracker"

	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/sync/errgroup"
)

var ErrEmptyWorkingSet = errors.New("no instrument produced usable stats")

// Source is the subset of the tracker client the poller needs
type Source interface {
	Trending(ctx context.Context, tf domain.Timeframe) ([]tracker.TrendingToken, error)
	Stats(ctx context.Context, mint string) (domain.StatSet, error)
	TopHolders(ctx context.Context, mint string) ([]domain.Holder, error)
}

// CycleFunc receives every poll outcome; on error insts is nil
type CycleFunc func(ctx context.Context, insts []domain.Instrument, err error)

type Poller struct {
	log         logger.Logger
	src         Source
	interval    time.Duration
	timeout     time.Duration
	max         int
	concurrency int
	now         func() time.Time
}

func New(log logger.Logger, cfg *config.Config, src Source) (*Poller, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the poller")
	}
	if src == nil {
		return nil, errors.New("source is required to the poller")
	}

	p := &Poller{
		log:         log,
		src:         src,
		interval:    cfg.Poller.Interval,
		timeout:     cfg.Poller.Timeout,
		max:         cfg.Tracker.MaxInstruments,
		concurrency: 8,
		now:         time.Now,
	}

	// sane defaults
	if p.interval <= 0 {
		p.interval = 30 * time.Second
	}
	if p.timeout <= 0 {
		p.timeout = p.interval
	}
	if p.max <= 0 {
		p.max = 20
	}

	return p, nil
}

// Poll builds one generation of the working set
func (p *Poller) Poll(ctx context.Context) ([]domain.Instrument, error) {
	start := time.Now()
	insts, err := p.poll(ctx)
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.PollTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.PollTotal.WithLabelValues("ok").Inc()
	return insts, nil
}

func (p *Poller) poll(ctx context.Context) ([]domain.Instrument, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	candidates, err := p.workingSet(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []domain.Instrument{}, nil
	}

	slots := make([]*domain.Instrument, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, tok := range candidates {
		g.Go(func() error {
			slots[i] = p.collect(gctx, tok)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Instrument, 0, len(slots))
	for _, inst := range slots {
		if inst != nil {
			out = append(out, *inst)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("poll %d candidates: %w", len(candidates), ErrEmptyWorkingSet)
	}

	return out, nil
}

// workingSet merges the trending lists in timeframe order, first occurrence wins
func (p *Poller) workingSet(ctx context.Context) ([]tracker.TrendingToken, error) {
	lists := make([][]tracker.TrendingToken, len(domain.Timeframes))

	g, gctx := errgroup.WithContext(ctx)
	for i, tf := range domain.Timeframes {
		g.Go(func() error {
			list, err := p.src.Trending(gctx, tf)
			if err != nil {
				return fmt.Errorf("trending %s: %w", tf, err)
			}
			lists[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Merge(p.max, lists...), nil
}

// Merge concatenates lists, drops repeated mints and caps the result at limit
func Merge(limit int, lists ...[]tracker.TrendingToken) []tracker.TrendingToken {
	seen := make(map[string]struct{})
	out := make([]tracker.TrendingToken, 0, limit)

	for _, list := range lists {
		for _, tok := range list {
			if len(out) >= limit {
				return out
			}
			if _, dup := seen[tok.Mint]; dup {
				continue
			}
			seen[tok.Mint] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

// collect fetches stats (required) and holders (optional) concurrently
func (p *Poller) collect(ctx context.Context, tok tracker.TrendingToken) *domain.Instrument {
	var (
		wg         sync.WaitGroup
		stats      domain.StatSet
		statsErr   error
		holders    []domain.Holder
		holdersErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		stats, statsErr = p.src.Stats(ctx, tok.Mint)
	}()
	go func() {
		defer wg.Done()
		holders, holdersErr = p.src.TopHolders(ctx, tok.Mint)
	}()
	wg.Wait()

	if statsErr != nil {
		p.log.Warnf("Skip %s (%s) this cycle: %v", tok.Symbol, tok.Mint, statsErr)
		return nil
	}
	if stats.M5 == nil {
		p.log.Debugf("Skip %s (%s): no 5m stats", tok.Symbol, tok.Mint)
		return nil
	}

	if holdersErr != nil {
		p.log.Debugf("Holders unavailable for %s: %v", tok.Mint, holdersErr)
		holders = nil
	} else if holders == nil {
		holders = []domain.Holder{}
	}

	return &domain.Instrument{
		Mint:       tok.Mint,
		Symbol:     tok.Symbol,
		PoolID:     tok.PoolID,
		Stats:      stats,
		Holders:    holders,
		CapturedAt: p.now(),
	}
}

// Run polls immediately and then on every tick until ctx is done.
// A failed or slow cycle never shifts the schedule: overlapping ticks are dropped.
func (p *Poller) Run(ctx context.Context, fn CycleFunc) {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.cycle(ctx, fn)

	for {
		select {
		case <-ctx.Done():
			p.log.Infof("Poller stopped")
			return
		case <-t.C:
			p.cycle(ctx, fn)
		}
	}
}

func (p *Poller) cycle(ctx context.Context, fn CycleFunc) {
	insts, err := p.Poll(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	fn(ctx, insts, err)
}

func (p *Poller) Interval() time.Duration {
	return p.interval
}
