package signal

import (
	"math"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/metrics"

	"github.com/google/uuid"
	"gitlab.com/nevasik7/alerting/logger"
)

/*
	Classifier turns one generation of multi-timeframe stats (plus the previous generation)
	into typed, prioritized alerts. Six rules are evaluated independently per instrument;
	any subset may fire. A rule whose ratio would divide by an absent or zero 1h volume
	is skipped silently (counted in rule_skips_total), never raised.
*/

type Classifier struct {
	log   logger.Logger
	th    config.SignalConfig
	now   func() time.Time
	newID func() string
}

type Option func(*Classifier)

func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(c *Classifier) { c.newID = gen }
}

func NewClassifier(log logger.Logger, th config.SignalConfig, opts ...Option) *Classifier {
	c := &Classifier{
		log:   log,
		th:    th,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate runs every rule against one instrument; prev is the previous generation or nil
func (c *Classifier) Evaluate(inst *domain.Instrument, prev *domain.StatSet) []domain.Alert {
	if inst == nil || inst.Stats.M5 == nil {
		return nil
	}

	in := newInput(inst, prev)
	out := make([]domain.Alert, 0, 2)

	for _, r := range rules {
		res := r.eval(&c.th, in)
		switch {
		case res.skipped:
			metrics.RuleSkips.WithLabelValues(string(r.kind)).Inc()
			c.log.Debugf("Rule %s skipped for %s: unsafe denominator", r.kind, inst.Mint)
		case res.fired:
			out = append(out, c.build(r.kind, inst, res))
		}
	}

	return out
}

// EvaluateCycle classifies a whole poll generation; duplicate mints are evaluated once
func (c *Classifier) EvaluateCycle(insts []domain.Instrument, prev map[string]domain.StatSet) []domain.Alert {
	seen := make(map[string]struct{}, len(insts))
	var out []domain.Alert

	for i := range insts {
		inst := &insts[i]
		if _, dup := seen[inst.Mint]; dup {
			continue
		}
		seen[inst.Mint] = struct{}{}

		var p *domain.StatSet
		if ps, ok := prev[inst.Mint]; ok {
			p = &ps
		}

		out = append(out, c.Evaluate(inst, p)...)
	}

	return out
}

func (c *Classifier) build(kind domain.AlertKind, inst *domain.Instrument, res result) domain.Alert {
	metrics.AlertsTotal.WithLabelValues(string(kind)).Inc()

	return domain.Alert{
		ID:        c.newID(),
		Kind:      kind,
		Category:  kind.Category(),
		Title:     kind.Title(),
		Message:   res.message,
		Symbol:    inst.Symbol,
		Mint:      inst.Mint,
		Priority:  res.priority,
		Timestamp: c.now().UTC(),
		Inputs:    res.inputs,
	}
}

// Flattened view of the values the rules read
type input struct {
	symbol  string
	price   float64
	change5 float64
	vol5    float64
	volBuy  float64
	volSell float64
	buys    int64
	sells   int64

	hasH1    bool
	change1h float64
	vol1h    float64

	hasPrevH1    bool
	prevChange1h float64

	holders []domain.Holder
}

func newInput(inst *domain.Instrument, prev *domain.StatSet) *input {
	m5 := inst.Stats.M5
	in := &input{
		symbol:  inst.Symbol,
		price:   m5.Price,
		change5: m5.PriceChangePct,
		vol5:    m5.Volume.Total,
		volBuy:  m5.Volume.Buys,
		volSell: m5.Volume.Sells,
		buys:    m5.Buys,
		sells:   m5.Sells,
		holders: inst.Holders,
	}

	if h1 := inst.Stats.H1; h1 != nil {
		in.hasH1 = true
		in.change1h = h1.PriceChangePct
		in.vol1h = h1.Volume.Total
	}

	if prev != nil && prev.H1 != nil {
		in.hasPrevH1 = true
		in.prevChange1h = prev.H1.PriceChangePct
	}

	return in
}

// 1h volume usable as a denominator
func (in *input) safeVol1h() (float64, bool) {
	if !in.hasH1 || in.vol1h <= 0 || math.IsNaN(in.vol1h) || math.IsInf(in.vol1h, 0) {
		return 0, false
	}
	return in.vol1h, true
}
