package signal

import (
	"math"

	"marketpulse/internal/config"
	"marketpulse/internal/domain"
)

type result struct {
	fired    bool
	skipped  bool
	priority float64
	message  string
	inputs   map[string]any
}

var skip = result{skipped: true}

type rule struct {
	kind domain.AlertKind
	eval func(th *config.SignalConfig, in *input) result
}

// Evaluation order matches domain.AlertKinds
var rules = []rule{
	{kind: domain.KindHotMomentum, eval: hotMomentum},
	{kind: domain.KindVolumeSpike, eval: volumeSpike},
	{kind: domain.KindBreakout, eval: breakout},
	{kind: domain.KindWhaleMove, eval: whaleMove},
	{kind: domain.KindSmartMoney, eval: smartMoney},
	{kind: domain.KindReversal, eval: reversal},
}

// 5m volume > 10k and |5m change| > 3%
func hotMomentum(th *config.SignalConfig, in *input) result {
	if !(in.vol5 > th.HotVolume && math.Abs(in.change5) > th.HotChangePct) {
		return result{}
	}

	return result{
		fired:    true,
		priority: math.Abs(in.change5) * (in.vol5 / th.HotVolumeUnit),
		message:  hotMomentumMsg(in),
		inputs: map[string]any{
			"price":  in.price,
			"change": in.change5,
			"volume": in.vol5,
			"buys":   in.buys,
			"sells":  in.sells,
		},
	}
}

// 5m volume projected to an hour exceeds 2x the actual 1h volume
func volumeSpike(th *config.SignalConfig, in *input) result {
	vol1h, ok := in.safeVol1h()
	if !ok {
		if in.hasH1 {
			return skip
		}
		return result{}
	}

	multiplier := (in.vol5 * th.SpikeIntervals) / vol1h
	if !(multiplier > th.SpikeMultiplier) {
		return result{}
	}

	return result{
		fired:    true,
		priority: multiplier * (in.vol5 / th.SpikeVolumeUnit),
		message:  volumeSpikeMsg(in, multiplier),
		inputs: map[string]any{
			"volume":     in.vol5,
			"buys":       in.buys,
			"sells":      in.sells,
			"multiplier": multiplier,
		},
	}
}

// 5m and 1h both up, 5m outpacing 1h, with volume confirmation
func breakout(th *config.SignalConfig, in *input) result {
	if !in.hasH1 {
		return result{}
	}
	if !(in.change5 > 0 && in.change1h > 0 && in.change5 > in.change1h && in.vol5 > in.vol1h/th.BreakoutVolumeDiv) {
		return result{}
	}

	vol1h, ok := in.safeVol1h()
	if !ok {
		return skip
	}

	return result{
		fired:    true,
		priority: in.change5 * (in.vol5 / vol1h),
		message:  breakoutMsg(in),
		inputs: map[string]any{
			"price":     in.price,
			"change_5m": in.change5,
			"change_1h": in.change1h,
			"volume":    in.vol5,
		},
	}
}

// One side of 5m volume above max(5k, 10% of 1h volume)
func whaleMove(th *config.SignalConfig, in *input) result {
	vol1h, hasVol1h := in.safeVol1h()

	threshold := math.Max(th.WhaleMinVolume, vol1h*th.WhaleHourShare)
	whale := math.Max(in.volBuy, in.volSell)
	if !(whale > threshold) {
		return result{}
	}

	// absent 1h volume -> the whale volume is its own denominator
	denom := vol1h
	if !hasVol1h {
		denom = whale
	}
	if denom <= 0 {
		return skip
	}

	side := "sell"
	if in.volBuy > in.volSell {
		side = "buy"
	}

	impact := whale / denom * 100

	return result{
		fired:    true,
		priority: impact,
		message:  whaleMoveMsg(in, whale, side, impact),
		inputs: map[string]any{
			"price":  in.price,
			"volume": whale,
			"side":   side,
			"impact": impact,
		},
	}
}

// Buy-dominated 5m flow with more than 5 holders above $1k
func smartMoney(th *config.SignalConfig, in *input) result {
	if in.holders == nil {
		return result{}
	}
	if !(in.vol5 > th.SmartVolume && float64(in.buys) > float64(in.sells)*th.SmartBuySellRatio) {
		return result{}
	}

	active := ActiveWallets(in.holders, th.SmartHolderUSD)
	if !(active > th.SmartMinWallets) {
		return result{}
	}

	return result{
		fired:    true,
		priority: float64(active) * (in.vol5 / th.SmartVolumeUnit),
		message:  smartMoneyMsg(in, active),
		inputs: map[string]any{
			"price":   in.price,
			"change":  in.change5,
			"wallets": active,
		},
	}
}

// Previous generation 1h down, now 5m up more than 2% on volume
func reversal(th *config.SignalConfig, in *input) result {
	if !in.hasPrevH1 {
		return result{}
	}
	if !(in.prevChange1h < 0 && in.change5 > th.ReversalChangePct && in.vol5 > in.vol1h/th.ReversalVolumeDiv) {
		return result{}
	}

	vol1h, ok := in.safeVol1h()
	if !ok {
		return skip
	}

	return result{
		fired:    true,
		priority: math.Abs(in.change5) * (in.vol5 / vol1h),
		message:  reversalMsg(in),
		inputs: map[string]any{
			"price":          in.price,
			"change_5m":      in.change5,
			"prev_change_1h": in.prevChange1h,
			"volume":         in.vol5,
		},
	}
}

// ActiveWallets counts holders strictly above minUSD
func ActiveWallets(holders []domain.Holder, minUSD float64) int {
	n := 0
	for _, h := range holders {
		if h.ValueUSD > minUSD {
			n++
		}
	}
	return n
}
