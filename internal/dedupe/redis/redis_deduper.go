package redis

import (
	"context"
	"fmt"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/dedupe"
	rdb "marketpulse/internal/stores/redis"

	"gitlab.com/nevasik7/alerting/logger"
)

var _ dedupe.Deduper = (*RedisDedupe)(nil)

type RedisDedupe struct {
	log    logger.Logger
	rdb    *rdb.Client
	ttl    time.Duration
	prefix string
}

// Cluster-wide cooldown on Redis SETNX + TTL, so only one instance publishes a repeat
// prefix example "marketpulse:cooldown:"
func NewRedisDeduper(log logger.Logger, cfg *config.CooldownConfig, rdb *rdb.Client) (*RedisDedupe, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required to the redis deduper")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the redis deduper")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("positive ttl is required to the redis deduper")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cooldown:"
	}

	return &RedisDedupe{
		log:    log,
		rdb:    rdb,
		ttl:    cfg.TTL,
		prefix: prefix,
	}, nil
}

func (d *RedisDedupe) Seen(ctx context.Context, id string) (bool, error) {
	key := d.prefix + id
	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.log.Errorf("Redis SetNX error=%v", err)
		return false, fmt.Errorf("redis SetNX error=%w", err)
	}

	// ok=true -> first claim in this window; ok=false -> seen
	return !ok, nil
}
