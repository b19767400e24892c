package tracker

import (
	"encoding/json"
	"time"

	"marketpulse/internal/domain"
)

// Upstream payload shapes; only the fields the engine reads are declared

type trendingItem struct {
	Token struct {
		Mint   string `json:"mint"`
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
	} `json:"token"`
	Pools []struct {
		PoolID string `json:"poolId"`
	} `json:"pools"`
}

// TrendingToken is one row of a trending list
type TrendingToken struct {
	Mint   string
	Symbol string
	PoolID string // first pool, "" if none
}

func (t trendingItem) toToken() TrendingToken {
	out := TrendingToken{Mint: t.Token.Mint, Symbol: t.Token.Symbol}
	if out.Symbol == "" {
		out.Symbol = t.Token.Name
	}
	if len(t.Pools) > 0 {
		out.PoolID = t.Pools[0].PoolID
	}
	return out
}

type statsFrame struct {
	Price                 float64 `json:"price"`
	PriceChangePercentage float64 `json:"priceChangePercentage"`
	Buys                  int64   `json:"buys"`
	Sells                 int64   `json:"sells"`
	Volume                struct {
		Total float64 `json:"total"`
		Buys  float64 `json:"buys"`
		Sells float64 `json:"sells"`
	} `json:"volume"`
}

type statsPayload map[string]*statsFrame

func (f *statsFrame) toSnapshot(tf domain.Timeframe, at time.Time) *domain.StatSnapshot {
	if f == nil {
		return nil
	}
	return &domain.StatSnapshot{
		Timeframe:      tf,
		Price:          f.Price,
		PriceChangePct: f.PriceChangePercentage,
		Buys:           f.Buys,
		Sells:          f.Sells,
		Volume: domain.Volume{
			Total: f.Volume.Total,
			Buys:  f.Volume.Buys,
			Sells: f.Volume.Sells,
		},
		CapturedAt: at,
	}
}

func (p statsPayload) toStatSet(at time.Time) domain.StatSet {
	return domain.StatSet{
		M5:  p[string(domain.Timeframe5m)].toSnapshot(domain.Timeframe5m, at),
		H1:  p[string(domain.Timeframe1h)].toSnapshot(domain.Timeframe1h, at),
		H24: p[string(domain.Timeframe24h)].toSnapshot(domain.Timeframe24h, at),
	}
}

type holderItem struct {
	Address string `json:"address"`
	Wallet  string `json:"wallet"`
	Value   struct {
		USD float64 `json:"usd"`
	} `json:"value"`
}

func (h holderItem) toHolder() domain.Holder {
	addr := h.Address
	if addr == "" {
		addr = h.Wallet
	}
	return domain.Holder{Address: addr, ValueUSD: h.Value.USD}
}

type tradesPayload struct {
	Trades []json.RawMessage `json:"trades"`
}

type topTradersPayload struct {
	Wallets []struct {
		Wallet  string `json:"wallet"`
		Summary struct {
			Total         float64 `json:"total"`
			TotalInvested float64 `json:"totalInvested"`
			TotalWins     int64   `json:"totalWins"`
			TotalLosses   int64   `json:"totalLosses"`
			WinPercentage float64 `json:"winPercentage"`
		} `json:"summary"`
	} `json:"wallets"`
}

type solPricePayload struct {
	Solana *struct {
		USD          float64 `json:"usd"`
		USD24hChange float64 `json:"usd_24h_change"`
	} `json:"solana"`
}
