package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/metrics"

	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDebounced   = errors.New("lookup debounced")
	ErrUnavailable = errors.New("data unavailable")
	ErrInvalidKey  = errors.New("invalid lookup key")
)

const (
	kindWallet     = "wallet"
	kindTopTraders = "top_traders"
	kindToken      = "token"
	kindSolPrice   = "sol_price"

	// single-entry listings
	listingKey = "all"
)

// Source is the upstream the lookups read through
type Source interface {
	Wallet(ctx context.Context, address string) (json.RawMessage, error)
	WalletTrades(ctx context.Context, address string, limit int) ([]json.RawMessage, error)
	TopTraders(ctx context.Context) ([]domain.Trader, error)
	Token(ctx context.Context, mint string) (json.RawMessage, error)
	TopHolders(ctx context.Context, mint string) ([]domain.Holder, error)
	SolPrice(ctx context.Context) (domain.SolPrice, error)
}

// Result is a lookup value and whether it was served past its TTL
type Result[V any] struct {
	Value V    `json:"value"`
	Stale bool `json:"stale"`
}

type Service struct {
	log         logger.Logger
	src         Source
	debounce    time.Duration
	tradesLimit int
	now         func() time.Time

	mu           sync.Mutex
	lastAccepted time.Time

	wallets *cache.Store[domain.WalletDetail]
	traders *cache.Store[domain.TopTraders]
	tokens  *cache.Store[domain.TokenDetail]
	sol     *cache.Store[domain.SolPrice]
}

type Option func(*Service)

// WithClock drives both the debounce window and cache staleness
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(log logger.Logger, cfg *config.Config, src Source, backends *Backends, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the lookup service")
	}
	if src == nil {
		return nil, errors.New("source is required to the lookup service")
	}
	if backends == nil {
		backends = MemoryBackends()
	}

	s := &Service{
		log:         log,
		src:         src,
		debounce:    cfg.Lookup.Debounce,
		tradesLimit: cfg.Lookup.TradesLimit,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	// sane defaults
	if s.debounce <= 0 {
		s.debounce = 500 * time.Millisecond
	}
	if s.tradesLimit <= 0 {
		s.tradesLimit = 5
	}

	listing := cacheOptions(&cfg.Cache, cfg.Cache.ListingTTL, 30*time.Second, s.now)
	detail := cacheOptions(&cfg.Cache, cfg.Cache.DetailTTL, 60*time.Second, s.now)

	var err error
	if s.wallets, err = cache.New[domain.WalletDetail](log, backends.Wallets, s.loadWallet, named(detail, kindWallet)); err != nil {
		return nil, fmt.Errorf("wallet cache: %w", err)
	}
	if s.traders, err = cache.New[domain.TopTraders](log, backends.Traders, s.loadTopTraders, named(listing, kindTopTraders)); err != nil {
		s.Close()
		return nil, fmt.Errorf("top traders cache: %w", err)
	}
	if s.tokens, err = cache.New[domain.TokenDetail](log, backends.Tokens, s.loadToken, named(detail, kindToken)); err != nil {
		s.Close()
		return nil, fmt.Errorf("token cache: %w", err)
	}
	if s.sol, err = cache.New[domain.SolPrice](log, backends.Sol, s.loadSolPrice, named(listing, kindSolPrice)); err != nil {
		s.Close()
		return nil, fmt.Errorf("sol price cache: %w", err)
	}

	return s, nil
}

func cacheOptions(cfg *config.CacheConfig, ttl, def time.Duration, now func() time.Time) cache.Options {
	if ttl <= 0 {
		ttl = def
	}
	return cache.Options{
		TTL:            ttl,
		JanitorEvery:   cfg.JanitorEvery,
		RefreshTimeout: cfg.RefreshTimeout,
		Clock:          now,
	}
}

func named(o cache.Options, name string) cache.Options {
	o.Name = name
	return o
}

// Wallet is a user-triggered lookup and goes through the global debounce
func (s *Service) Wallet(ctx context.Context, address string) (Result[domain.WalletDetail], error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Result[domain.WalletDetail]{}, ErrInvalidKey
	}
	if !s.accept() {
		metrics.LookupTotal.WithLabelValues(kindWallet, "debounced").Inc()
		return Result[domain.WalletDetail]{}, ErrDebounced
	}
	return get(ctx, s.wallets, kindWallet, address)
}

// Token is a user-triggered lookup and goes through the global debounce
func (s *Service) Token(ctx context.Context, mint string) (Result[domain.TokenDetail], error) {
	mint = strings.TrimSpace(mint)
	if mint == "" {
		return Result[domain.TokenDetail]{}, ErrInvalidKey
	}
	if !s.accept() {
		metrics.LookupTotal.WithLabelValues(kindToken, "debounced").Inc()
		return Result[domain.TokenDetail]{}, ErrDebounced
	}
	return get(ctx, s.tokens, kindToken, mint)
}

func (s *Service) TopTraders(ctx context.Context) (Result[domain.TopTraders], error) {
	return get(ctx, s.traders, kindTopTraders, listingKey)
}

func (s *Service) SolPrice(ctx context.Context) (Result[domain.SolPrice], error) {
	return get(ctx, s.sol, kindSolPrice, listingKey)
}

// InvalidateWallet drops a cached wallet so the next lookup fetches it synchronously
func (s *Service) InvalidateWallet(ctx context.Context, address string) error {
	return s.wallets.Invalidate(ctx, address)
}

func (s *Service) InvalidateToken(ctx context.Context, mint string) error {
	return s.tokens.Invalidate(ctx, mint)
}

// accept opens a new debounce window if the previous accepted request is older than it
func (s *Service) accept() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.lastAccepted.IsZero() && now.Sub(s.lastAccepted) < s.debounce {
		return false
	}
	s.lastAccepted = now
	return true
}

func get[V any](ctx context.Context, st *cache.Store[V], kind, key string) (Result[V], error) {
	v, stale, err := st.Get(ctx, key)
	if err != nil {
		metrics.LookupTotal.WithLabelValues(kind, "error").Inc()
		return Result[V]{}, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, kind, key, err)
	}

	outcome := "ok"
	if stale {
		outcome = "stale"
	}
	metrics.LookupTotal.WithLabelValues(kind, outcome).Inc()

	return Result[V]{Value: v, Stale: stale}, nil
}

// ---- loaders ----

func (s *Service) loadWallet(ctx context.Context, address string) (domain.WalletDetail, error) {
	out := domain.WalletDetail{Address: address}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Wallet, err = s.src.Wallet(gctx, address)
		return err
	})
	g.Go(func() (err error) {
		out.Trades, err = s.src.WalletTrades(gctx, address, s.tradesLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.WalletDetail{}, err
	}

	return out, nil
}

func (s *Service) loadToken(ctx context.Context, mint string) (domain.TokenDetail, error) {
	out := domain.TokenDetail{Mint: mint}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Token, err = s.src.Token(gctx, mint)
		return err
	})
	g.Go(func() (err error) {
		out.Holders, err = s.src.TopHolders(gctx, mint)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.TokenDetail{}, err
	}

	return out, nil
}

func (s *Service) loadTopTraders(ctx context.Context, _ string) (domain.TopTraders, error) {
	traders, err := s.src.TopTraders(ctx)
	if err != nil {
		return domain.TopTraders{}, err
	}
	return domain.TopTraders{Traders: traders, Stats: Summarize(traders)}, nil
}

func (s *Service) loadSolPrice(ctx context.Context, _ string) (domain.SolPrice, error) {
	return s.src.SolPrice(ctx)
}

// Summarize aggregates the leaderboard header figures
func Summarize(traders []domain.Trader) domain.TraderStats {
	st := domain.TraderStats{ActiveTraders: len(traders)}
	if len(traders) == 0 {
		return st
	}

	var winSum float64
	for _, t := range traders {
		st.TotalVolume += t.VolumeUSD
		winSum += t.WinRate
	}
	st.AvgWinRate = winSum / float64(len(traders))

	return st
}

// Close stops the cache collectors and waits for background refreshes
func (s *Service) Close() {
	if s.wallets != nil {
		s.wallets.Close()
	}
	if s.traders != nil {
		s.traders.Close()
	}
	if s.tokens != nil {
		s.tokens.Close()
	}
	if s.sol != nil {
		s.sol.Close()
	}
}

// Wait blocks until in-flight background refreshes are done
func (s *Service) Wait() {
	s.wallets.Wait()
	s.traders.Wait()
	s.tokens.Wait()
	s.sol.Wait()
}
