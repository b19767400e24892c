package lookup

import (
	"fmt"

	"marketpulse/internal/cache"
	"marketpulse/internal/domain"
	rdb "marketpulse/internal/stores/redis"
)

// Backends are the storage tiers of the four lookup caches
type Backends struct {
	Wallets cache.Backend[domain.WalletDetail]
	Traders cache.Backend[domain.TopTraders]
	Tokens  cache.Backend[domain.TokenDetail]
	Sol     cache.Backend[domain.SolPrice]
}

func MemoryBackends() *Backends {
	return &Backends{
		Wallets: cache.NewMemoryBackend[domain.WalletDetail](),
		Traders: cache.NewMemoryBackend[domain.TopTraders](),
		Tokens:  cache.NewMemoryBackend[domain.TokenDetail](),
		Sol:     cache.NewMemoryBackend[domain.SolPrice](),
	}
}

// RedisBackends shares the caches across instances; keys are "<prefix><kind>:<key>"
func RedisBackends(client *rdb.Client, prefix string) (*Backends, error) {
	wallets, err := cache.NewRedisBackend[domain.WalletDetail](client, prefix+kindWallet+":")
	if err != nil {
		return nil, fmt.Errorf("wallet backend: %w", err)
	}
	traders, err := cache.NewRedisBackend[domain.TopTraders](client, prefix+kindTopTraders+":")
	if err != nil {
		return nil, fmt.Errorf("top traders backend: %w", err)
	}
	tokens, err := cache.NewRedisBackend[domain.TokenDetail](client, prefix+kindToken+":")
	if err != nil {
		return nil, fmt.Errorf("token backend: %w", err)
	}
	sol, err := cache.NewRedisBackend[domain.SolPrice](client, prefix+kindSolPrice+":")
	if err != nil {
		return nil, fmt.Errorf("sol price backend: %w", err)
	}

	return &Backends{Wallets: wallets, Traders: traders, Tokens: tokens, Sol: sol}, nil
}
