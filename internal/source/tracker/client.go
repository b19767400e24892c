package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/domain"

	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/time/rate"
)

const (
	apiKeyHeader = "x-api-key"
	maxBodyBytes = 8 << 20
)

// Client talks to the market-data REST API and the spot price endpoint
type Client struct {
	log      logger.Logger
	baseURL  string
	priceURL string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	now      func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(log logger.Logger, cfg *config.TrackerConfig, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("tracker config is required to the tracker client")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required to the tracker client")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// 0 rps -> no pacing
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
		if burst <= 0 {
			burst = 1
		}
	}

	c := &Client{
		log:      log,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		priceURL: cfg.PriceURL,
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		http:     &http.Client{},
		limiter:  rate.NewLimiter(limit, burst),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}

	return c, nil
}

// Trending returns the trending list for one timeframe
func (c *Client) Trending(ctx context.Context, tf domain.Timeframe) ([]TrendingToken, error) {
	var items []trendingItem
	if err := c.get(ctx, "trending_"+string(tf), c.path("tokens", "trending", string(tf)), true, &items); err != nil {
		return nil, err
	}

	out := make([]TrendingToken, 0, len(items))
	for _, it := range items {
		if it.Token.Mint == "" {
			continue
		}
		out = append(out, it.toToken())
	}
	return out, nil
}

// Stats returns the multi-timeframe statistics of a mint; absent timeframes stay nil
func (c *Client) Stats(ctx context.Context, mint string) (domain.StatSet, error) {
	var p statsPayload
	if err := c.get(ctx, "stats", c.path("stats", mint), true, &p); err != nil {
		return domain.StatSet{}, err
	}
	return p.toStatSet(c.now()), nil
}

func (c *Client) TopHolders(ctx context.Context, mint string) ([]domain.Holder, error) {
	var items []holderItem
	if err := c.get(ctx, "top_holders", c.path("tokens", mint, "holders", "top"), true, &items); err != nil {
		return nil, err
	}

	out := make([]domain.Holder, 0, len(items))
	for _, h := range items {
		out = append(out, h.toHolder())
	}
	return out, nil
}

// Wallet returns the wallet document as-is
func (c *Client) Wallet(ctx context.Context, address string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "wallet", c.path("wallet", address), true, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// WalletTrades returns at most limit most recent trades; limit <= 0 means all
func (c *Client) WalletTrades(ctx context.Context, address string, limit int) ([]json.RawMessage, error) {
	var p tradesPayload
	if err := c.get(ctx, "wallet_trades", c.path("wallet", address, "trades"), true, &p); err != nil {
		return nil, err
	}

	if limit > 0 && len(p.Trades) > limit {
		p.Trades = p.Trades[:limit]
	}
	if p.Trades == nil {
		p.Trades = []json.RawMessage{}
	}
	return p.Trades, nil
}

func (c *Client) TopTraders(ctx context.Context) ([]domain.Trader, error) {
	u := c.path("top-traders", "all") + "?" + url.Values{
		"expandPnl": []string{"true"},
		"sortBy":    []string{"total"},
	}.Encode()

	var p topTradersPayload
	if err := c.get(ctx, "top_traders", u, true, &p); err != nil {
		return nil, err
	}

	out := make([]domain.Trader, 0, len(p.Wallets))
	for _, w := range p.Wallets {
		vol := w.Summary.TotalInvested
		if vol == 0 {
			vol = w.Summary.Total
		}
		out = append(out, domain.Trader{
			Address:   w.Wallet,
			TotalPnL:  w.Summary.Total,
			Trades:    w.Summary.TotalWins + w.Summary.TotalLosses,
			WinRate:   w.Summary.WinPercentage,
			VolumeUSD: vol,
		})
	}
	return out, nil
}

// Token returns the token document as-is
func (c *Client) Token(ctx context.Context, mint string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "token", c.path("tokens", mint), true, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// SolPrice queries the public spot price endpoint; the api key is not sent there
func (c *Client) SolPrice(ctx context.Context) (domain.SolPrice, error) {
	var p solPricePayload
	if err := c.get(ctx, "sol_price", c.priceURL, false, &p); err != nil {
		return domain.SolPrice{}, err
	}
	if p.Solana == nil {
		return domain.SolPrice{}, &FetchError{Op: "sol_price", Status: http.StatusOK, Err: errors.New("missing solana quote")}
	}

	return domain.SolPrice{PriceUSD: p.Solana.USD, Change24h: p.Solana.USD24hChange}, nil
}

func (c *Client) path(segments ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// get performs one bounded GET and decodes a JSON body into out
func (c *Client) get(ctx context.Context, op, rawURL string, withKey bool, out any) error {
	if rawURL == "" {
		return &FetchError{Op: op, Err: errors.New("empty url")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return &FetchError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &FetchError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if withKey && c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Op: op, Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	c.log.Debugf("Tracker %s -> %d in %s", op, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusNotFound {
		return &FetchError{Op: op, Status: resp.StatusCode, Err: ErrNotFound}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(snippet)))}
	}

	if err = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}
