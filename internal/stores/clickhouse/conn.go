package clickhouse

import (
	"context"
	"fmt"
	"time"

	"marketpulse/internal/config"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

type Conn struct {
	Native ch.Conn
}

func New(ctx context.Context, cfg *config.ClickHouseConfig) (*Conn, error) {
	if cfg == nil {
		return nil, fmt.Errorf("clickhouse config cannot be nil")
	}
	opts, err := ch.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed parse DSN ch, error=%w", err)
	}

	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	if opts.Compression == nil {
		opts.Compression = &ch.Compression{Method: ch.CompressionLZ4}
	}

	opts.ClientInfo = ch.ClientInfo{
		Products: []struct{ Name, Version string }{
			{
				Name:    "marketpulse",
				Version: "0.1.0",
			},
		},
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed Open ch, error=%w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err = conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed ping ch, error=%w", err)
	}

	return &Conn{Native: conn}, nil
}

// Migrate creates the archive table if it does not exist yet
func (c *Conn) Migrate(ctx context.Context) error {
	if err := c.Native.Exec(ctx, createAlertsTable); err != nil {
		return fmt.Errorf("failed create alerts table, error=%w", err)
	}
	return nil
}

func (c *Conn) Close() error {
	return c.Native.Close()
}

const createAlertsTable = `
	CREATE TABLE IF NOT EXISTS alerts (
		alert_id    String,
		kind        LowCardinality(String),
		category    LowCardinality(String),
		mint        String,
		symbol      String,
		priority    Float64,
		message     String,
		inputs      String,
		emitted_at  DateTime64(3, 'UTC'),
		instance_id LowCardinality(String)
	)
	ENGINE = MergeTree
	PARTITION BY toYYYYMM(emitted_at)
	ORDER BY (kind, emitted_at, alert_id)
`
