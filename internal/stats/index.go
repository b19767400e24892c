package stats

import (
	"sync"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/metrics"

	"gitlab.com/nevasik7/alerting/logger"
)

/*
	Index holds the last committed generation of the working set:
	  - the instruments in poll order (replaced wholesale on Commit);
	  - their stat sets, served as "previous" to the next classification;
	  - the live push overlay keyed by mint, fed from the stream.
*/

type Index struct {
	log logger.Logger
	now func() time.Time

	mu          sync.RWMutex
	insts       []domain.Instrument
	byMint      map[string]int
	poolToMint  map[string]string
	live        map[string]*domain.LiveQuote
	generation  uint64
	committedAt time.Time
}

func NewIndex(log logger.Logger) *Index {
	return &Index{
		log:        log,
		now:        time.Now,
		byMint:     make(map[string]int),
		poolToMint: make(map[string]string),
		live:       make(map[string]*domain.LiveQuote),
	}
}

// Previous returns a copy of the committed stat sets keyed by mint
func (x *Index) Previous() map[string]domain.StatSet {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make(map[string]domain.StatSet, len(x.insts))
	for _, inst := range x.insts {
		out[inst.Mint] = inst.Stats
	}
	return out
}

// Commit replaces the working set; live quotes survive only for mints still present
func (x *Index) Commit(insts []domain.Instrument) uint64 {
	byMint := make(map[string]int, len(insts))
	poolToMint := make(map[string]string, len(insts))
	kept := make([]domain.Instrument, 0, len(insts))

	for _, inst := range insts {
		if _, dup := byMint[inst.Mint]; dup {
			continue
		}
		byMint[inst.Mint] = len(kept)
		if inst.PoolID != "" {
			poolToMint[inst.PoolID] = inst.Mint
		}
		kept = append(kept, inst)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for mint := range x.live {
		if _, ok := byMint[mint]; !ok {
			delete(x.live, mint)
		}
	}

	x.insts = kept
	x.byMint = byMint
	x.poolToMint = poolToMint
	x.generation++
	x.committedAt = x.now()

	metrics.WorkingSetSize.Set(float64(len(kept)))
	return x.generation
}

// Augment overlays a push update on the instrument owning the pool.
// It reports false for pools outside the working set.
func (x *Index) Augment(upd domain.PriceUpdate) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	mint, ok := x.poolToMint[upd.PoolID]
	if !ok {
		x.log.Debugf("Push update for pool %s outside the working set", upd.PoolID)
		return false
	}

	at := upd.ReceivedAt
	if at.IsZero() {
		at = x.now()
	}

	ref := 0.0
	if q, ok := x.live[mint]; ok {
		ref = q.Price
	} else if m5 := x.insts[x.byMint[mint]].Stats.M5; m5 != nil {
		ref = m5.Price
	}

	q := &domain.LiveQuote{Price: ref, MarketCap: upd.MarketCap, UpdatedAt: at}
	if upd.Price > 0 {
		q.Price = upd.Price
		q.Direction = direction(ref, upd.Price)
	}
	x.live[mint] = q

	return true
}

func direction(prev, next float64) domain.Direction {
	switch {
	case next > prev:
		return domain.DirectionUp
	case next < prev:
		return domain.DirectionDown
	default:
		return domain.DirectionFlat
	}
}

// Views returns the working set with live overlays, in poll order
func (x *Index) Views() []domain.InstrumentView {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]domain.InstrumentView, 0, len(x.insts))
	for _, inst := range x.insts {
		out = append(out, x.viewLocked(inst))
	}
	return out
}

func (x *Index) View(mint string) (domain.InstrumentView, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	i, ok := x.byMint[mint]
	if !ok {
		return domain.InstrumentView{}, false
	}
	return x.viewLocked(x.insts[i]), true
}

func (x *Index) viewLocked(inst domain.Instrument) domain.InstrumentView {
	v := domain.InstrumentView{Instrument: inst}
	if q, ok := x.live[inst.Mint]; ok {
		cp := *q
		v.Live = &cp
	}
	return v
}

// Pools returns the pool ids of the working set
func (x *Index) Pools() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]string, 0, len(x.insts))
	for _, inst := range x.insts {
		if inst.PoolID != "" {
			out = append(out, inst.PoolID)
		}
	}
	return out
}

// Generation is 0 until the first successful commit
func (x *Index) Generation() (uint64, time.Time) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.generation, x.committedAt
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.insts)
}
