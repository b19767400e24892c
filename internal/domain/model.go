package domain

import (
	"encoding/json"
	"time"
)

type Timeframe string

const (
	Timeframe5m  Timeframe = "5m"
	Timeframe1h  Timeframe = "1h"
	Timeframe24h Timeframe = "24h"
)

// Timeframes polled from the trending source, in merge order
var Timeframes = []Timeframe{Timeframe5m, Timeframe1h, Timeframe24h}

// USD volume split by side
type Volume struct {
	Total float64 `json:"total"`
	Buys  float64 `json:"buys"`
	Sells float64 `json:"sells"`
}

// Statistics of one instrument over one timeframe; immutable once captured
type StatSnapshot struct {
	Timeframe      Timeframe `json:"timeframe"`
	Price          float64   `json:"price"`
	PriceChangePct float64   `json:"price_change_pct"`
	Buys           int64     `json:"buys"`  // trade count
	Sells          int64     `json:"sells"` // trade count
	Volume         Volume    `json:"volume"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Multi-timeframe snapshot set; H1/H24 may be absent upstream
type StatSet struct {
	M5  *StatSnapshot `json:"5m,omitempty"`
	H1  *StatSnapshot `json:"1h,omitempty"`
	H24 *StatSnapshot `json:"24h,omitempty"`
}

type Holder struct {
	Address  string  `json:"address"`
	ValueUSD float64 `json:"value_usd"`
}

// Instrument is one entry of the working set, keyed by mint
type Instrument struct {
	Mint       string    `json:"mint"`
	Symbol     string    `json:"symbol"`
	PoolID     string    `json:"pool_id,omitempty"`
	Stats      StatSet   `json:"stats"`
	Holders    []Holder  `json:"holders,omitempty"` // nil -> holders were not available this cycle
	CapturedAt time.Time `json:"captured_at"`
}

// Incremental push-feed update for one pool
type PriceUpdate struct {
	PoolID     string    `json:"pool_id"`
	Price      float64   `json:"price"`
	MarketCap  float64   `json:"market_cap"`
	ReceivedAt time.Time `json:"received_at"`
}

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = ""
)

// Push overlay on top of the latest 5m snapshot
type LiveQuote struct {
	Price     float64   `json:"price"`
	MarketCap float64   `json:"market_cap"`
	Direction Direction `json:"direction,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type InstrumentView struct {
	Instrument
	Live *LiveQuote `json:"live,omitempty"`
}

// ---- lookup payloads ----

type WalletDetail struct {
	Address string            `json:"address"`
	Wallet  json.RawMessage   `json:"wallet"`
	Trades  []json.RawMessage `json:"trades"`
}

type Trader struct {
	Address   string  `json:"address"`
	TotalPnL  float64 `json:"total_pnl"`
	Trades    int64   `json:"trades"`
	WinRate   float64 `json:"win_rate"`
	VolumeUSD float64 `json:"volume_usd"`
}

type TraderStats struct {
	TotalVolume   float64 `json:"total_volume"`
	ActiveTraders int     `json:"active_traders"`
	AvgWinRate    float64 `json:"avg_win_rate"`
}

type TopTraders struct {
	Traders []Trader    `json:"traders"`
	Stats   TraderStats `json:"stats"`
}

type TokenDetail struct {
	Mint    string          `json:"mint"`
	Token   json.RawMessage `json:"token"`
	Holders []Holder        `json:"holders"`
}

type SolPrice struct {
	PriceUSD  float64 `json:"price_usd"`
	Change24h float64 `json:"change_24h"`
}
