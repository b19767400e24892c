package signal

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestClassifier() *Classifier {
	return NewClassifier(testutil.Logger(), config.DefaultSignal(),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return "id" }),
	)
}

func snap(tf domain.Timeframe, change, total float64) *domain.StatSnapshot {
	return &domain.StatSnapshot{
		Timeframe:      tf,
		Price:          0.0123,
		PriceChangePct: change,
		Volume:         domain.Volume{Total: total},
	}
}

func kinds(alerts []domain.Alert) map[domain.AlertKind]domain.Alert {
	out := make(map[domain.AlertKind]domain.Alert, len(alerts))
	for _, a := range alerts {
		out[a.Kind] = a
	}
	return out
}

func TestClassifier_ScenarioHotMomentumAndBreakout(t *testing.T) {
	c := newTestClassifier()

	inst := &domain.Instrument{
		Mint:   "mintX",
		Symbol: "X",
		Stats: domain.StatSet{
			M5: snap(domain.Timeframe5m, 5, 15_000),
			H1: snap(domain.Timeframe1h, 2, 60_000),
		},
	}

	got := kinds(c.Evaluate(inst, nil))

	require.Contains(t, got, domain.KindHotMomentum)
	require.Contains(t, got, domain.KindBreakout)
	assert.InDelta(t, 7.5, got[domain.KindHotMomentum].Priority, 1e-9)
	assert.InDelta(t, 1.25, got[domain.KindBreakout].Priority, 1e-9)

	// 15000*12/60000 = 3 > 2, so the spike rule fires too (priority 3 * 3)
	require.Contains(t, got, domain.KindVolumeSpike)
	assert.InDelta(t, 9.0, got[domain.KindVolumeSpike].Priority, 1e-9)

	assert.NotContains(t, got, domain.KindWhaleMove)
	assert.NotContains(t, got, domain.KindSmartMoney)
	assert.NotContains(t, got, domain.KindReversal)

	hot := got[domain.KindHotMomentum]
	assert.Equal(t, "X", hot.Symbol)
	assert.Equal(t, "mintX", hot.Mint)
	assert.Equal(t, "momentum", hot.Category)
	assert.Equal(t, fixedNow, hot.Timestamp)
	assert.Equal(t, "X is heating up | $0.012300 (+5.00%) | 0/0 B/S | Vol: $15,000", hot.Message)
}

func TestClassifier_NoFiveMinuteStats(t *testing.T) {
	c := newTestClassifier()
	assert.Empty(t, c.Evaluate(&domain.Instrument{Mint: "m"}, nil))
	assert.Empty(t, c.Evaluate(nil, nil))
}

func TestClassifier_WhaleMove(t *testing.T) {
	c := newTestClassifier()

	m5 := snap(domain.Timeframe5m, 0, 20_000)
	m5.Volume.Buys = 12_000
	m5.Volume.Sells = 8_000

	inst := &domain.Instrument{Symbol: "W", Stats: domain.StatSet{M5: m5, H1: snap(domain.Timeframe1h, 0, 100_000)}}
	got := kinds(c.Evaluate(inst, nil))

	require.Contains(t, got, domain.KindWhaleMove)
	assert.InDelta(t, 12.0, got[domain.KindWhaleMove].Priority, 1e-9)
	assert.Equal(t, "buy", got[domain.KindWhaleMove].Inputs["side"])
	assert.Equal(t, "Whale buy on W | $0.012300 | Impact: $12,000 (12.0% of 1h vol)", got[domain.KindWhaleMove].Message)
}

func TestClassifier_WhaleMoveWithoutHourVolume(t *testing.T) {
	c := newTestClassifier()

	m5 := snap(domain.Timeframe5m, 0, 9_000)
	m5.Volume.Sells = 6_000

	got := kinds(c.Evaluate(&domain.Instrument{Stats: domain.StatSet{M5: m5}}, nil))

	require.Contains(t, got, domain.KindWhaleMove)
	assert.InDelta(t, 100.0, got[domain.KindWhaleMove].Priority, 1e-9)
	assert.Equal(t, "sell", got[domain.KindWhaleMove].Inputs["side"])
}

func TestClassifier_SmartMoney(t *testing.T) {
	c := newTestClassifier()

	m5 := snap(domain.Timeframe5m, 1, 8_000)
	m5.Buys = 31
	m5.Sells = 20

	holders := make([]domain.Holder, 0, 8)
	for i := 0; i < 6; i++ {
		holders = append(holders, domain.Holder{Address: "h", ValueUSD: 1_500})
	}
	holders = append(holders, domain.Holder{Address: "small", ValueUSD: 1_000})

	inst := &domain.Instrument{Symbol: "S", Stats: domain.StatSet{M5: m5}, Holders: holders}
	got := kinds(c.Evaluate(inst, nil))

	require.Contains(t, got, domain.KindSmartMoney)
	assert.InDelta(t, 6*0.8, got[domain.KindSmartMoney].Priority, 1e-9)
	assert.Equal(t, 6, got[domain.KindSmartMoney].Inputs["wallets"])

	// holders unavailable -> rule not evaluated
	inst.Holders = nil
	assert.NotContains(t, kinds(c.Evaluate(inst, nil)), domain.KindSmartMoney)
}

func TestClassifier_ReversalNeedsPreviousGeneration(t *testing.T) {
	c := newTestClassifier()

	inst := &domain.Instrument{
		Symbol: "R",
		Stats: domain.StatSet{
			M5: snap(domain.Timeframe5m, 2.5, 3_000),
			H1: snap(domain.Timeframe1h, 1, 20_000),
		},
	}
	assert.NotContains(t, kinds(c.Evaluate(inst, nil)), domain.KindReversal)

	prev := &domain.StatSet{H1: snap(domain.Timeframe1h, -4, 18_000)}
	got := kinds(c.Evaluate(inst, prev))

	require.Contains(t, got, domain.KindReversal)
	assert.InDelta(t, 2.5*(3_000.0/20_000.0), got[domain.KindReversal].Priority, 1e-9)
}

func TestClassifier_ZeroHourVolumeSkipsRatioRules(t *testing.T) {
	c := newTestClassifier()

	inst := &domain.Instrument{
		Stats: domain.StatSet{
			M5: snap(domain.Timeframe5m, 4, 2_000),
			H1: snap(domain.Timeframe1h, 1, 0),
		},
	}
	prev := &domain.StatSet{H1: snap(domain.Timeframe1h, -1, 0)}

	got := kinds(c.Evaluate(inst, prev))

	assert.NotContains(t, got, domain.KindVolumeSpike)
	assert.NotContains(t, got, domain.KindBreakout)
	assert.NotContains(t, got, domain.KindReversal)
	for _, a := range c.Evaluate(inst, prev) {
		assert.False(t, math.IsInf(a.Priority, 0) || math.IsNaN(a.Priority))
	}
}

func TestClassifier_EvaluateCycleDeduplicates(t *testing.T) {
	c := newTestClassifier()

	inst := domain.Instrument{
		Mint: "dup",
		Stats: domain.StatSet{
			M5: snap(domain.Timeframe5m, 10, 50_000),
		},
	}

	alerts := c.EvaluateCycle([]domain.Instrument{inst, inst, inst}, nil)

	count := 0
	for _, a := range alerts {
		if a.Kind == domain.KindHotMomentum {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// Each rule must fire iff its numeric predicate holds (with the zero-denominator guard)
func TestClassifier_RulesMatchPredicates(t *testing.T) {
	c := newTestClassifier()
	th := config.DefaultSignal()
	rng := rand.New(rand.NewSource(42))

	randVol := func() float64 {
		switch rng.Intn(5) {
		case 0:
			return 0
		case 1:
			return rng.Float64() * 5_000
		default:
			return rng.Float64() * 200_000
		}
	}
	randChange := func() float64 { return rng.Float64()*20 - 10 }

	for i := 0; i < 2_000; i++ {
		m5 := snap(domain.Timeframe5m, randChange(), randVol())
		m5.Volume.Buys = rng.Float64() * m5.Volume.Total
		m5.Volume.Sells = m5.Volume.Total - m5.Volume.Buys
		m5.Buys = rng.Int63n(100)
		m5.Sells = rng.Int63n(100)

		inst := &domain.Instrument{Mint: "m", Stats: domain.StatSet{M5: m5}}
		hasH1 := rng.Intn(4) != 0
		if hasH1 {
			inst.Stats.H1 = snap(domain.Timeframe1h, randChange(), randVol())
		}
		if rng.Intn(2) == 0 {
			n := rng.Intn(12)
			for j := 0; j < n; j++ {
				inst.Holders = append(inst.Holders, domain.Holder{ValueUSD: rng.Float64() * 3_000})
			}
			if inst.Holders == nil {
				inst.Holders = []domain.Holder{}
			}
		}

		var prev *domain.StatSet
		if rng.Intn(2) == 0 {
			prev = &domain.StatSet{H1: snap(domain.Timeframe1h, randChange(), randVol())}
		}

		c5, v5 := m5.PriceChangePct, m5.Volume.Total
		var c1, v1 float64
		if hasH1 {
			c1, v1 = inst.Stats.H1.PriceChangePct, inst.Stats.H1.Volume.Total
		}

		want := map[domain.AlertKind]bool{
			domain.KindHotMomentum: v5 > th.HotVolume && math.Abs(c5) > th.HotChangePct,
			domain.KindVolumeSpike: hasH1 && v1 > 0 && v5*th.SpikeIntervals/v1 > th.SpikeMultiplier,
			domain.KindBreakout:    hasH1 && v1 > 0 && c5 > 0 && c1 > 0 && c5 > c1 && v5 > v1/th.BreakoutVolumeDiv,
			domain.KindWhaleMove:   math.Max(m5.Volume.Buys, m5.Volume.Sells) > math.Max(th.WhaleMinVolume, v1*th.WhaleHourShare),
			domain.KindSmartMoney: inst.Holders != nil && v5 > th.SmartVolume &&
				float64(m5.Buys) > float64(m5.Sells)*th.SmartBuySellRatio &&
				ActiveWallets(inst.Holders, th.SmartHolderUSD) > th.SmartMinWallets,
			domain.KindReversal: prev != nil && hasH1 && v1 > 0 && prev.H1.PriceChangePct < 0 &&
				c5 > th.ReversalChangePct && v5 > v1/th.ReversalVolumeDiv,
		}

		got := kinds(c.Evaluate(inst, prev))
		for _, k := range domain.AlertKinds {
			_, fired := got[k]
			require.Equalf(t, want[k], fired, "iteration %d kind %s", i, k)
		}
	}
}
