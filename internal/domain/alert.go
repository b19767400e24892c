package domain

import "time"

type AlertKind string

const (
	KindHotMomentum AlertKind = "HOT_MOMENTUM"
	KindVolumeSpike AlertKind = "VOLUME_SPIKE"
	KindBreakout    AlertKind = "BREAKOUT"
	KindWhaleMove   AlertKind = "WHALE_MOVE"
	KindSmartMoney  AlertKind = "SMART_MONEY"
	KindReversal    AlertKind = "REVERSAL"
)

// AlertKinds in rule evaluation order
var AlertKinds = []AlertKind{
	KindHotMomentum,
	KindVolumeSpike,
	KindBreakout,
	KindWhaleMove,
	KindSmartMoney,
	KindReversal,
}

// Title and category shown by the presentation layer
func (k AlertKind) Title() string {
	switch k {
	case KindHotMomentum:
		return "🔥 Hot Token Alert"
	case KindVolumeSpike:
		return "💰 Volume Surge"
	case KindBreakout:
		return "🚀 Breakout Signal"
	case KindWhaleMove:
		return "🐋 Whale Alert"
	case KindSmartMoney:
		return "🧠 Smart Money Flow"
	case KindReversal:
		return "↩️ Potential Reversal"
	}
	return string(k)
}

func (k AlertKind) Category() string {
	switch k {
	case KindHotMomentum:
		return "momentum"
	case KindVolumeSpike:
		return "volume"
	case KindBreakout:
		return "breakout"
	case KindWhaleMove:
		return "whale"
	case KindSmartMoney:
		return "smart"
	case KindReversal:
		return "reversal"
	}
	return "unknown"
}

// Alert is immutable once created; Inputs keeps the raw values used for Message
type Alert struct {
	ID        string         `json:"id"`
	Kind      AlertKind      `json:"kind"`
	Category  string         `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Symbol    string         `json:"symbol"`
	Mint      string         `json:"mint"`
	Priority  float64        `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
	Inputs    map[string]any `json:"inputs,omitempty"`
}
