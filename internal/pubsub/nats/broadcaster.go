package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketpulse/internal/config"

	"github.com/nats-io/nats.go"
	"gitlab.com/nevasik7/alerting/logger"
)

const DefaultPrefix = "marketpulse.alerts"

var ErrNotReady = errors.New("nats connection not ready")

type Client struct {
	nc     *nats.Conn
	log    logger.Logger
	prefix string
}

func New(log logger.Logger, cfg *config.NATSConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("nats config is required")
	}

	url := cfg.URL
	if url == "" {
		return nil, errors.New("nats url is required")
	}

	prefix := strings.TrimSuffix(cfg.BroadcastPrefix, ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	opts := []nats.Option{
		nats.Name("marketpulse"),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1), // endless reconnected
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("NATS disconnected, error=%v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected, url=%s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Infof("Connected to NATS successfully, url=%s", url)

	return &Client{
		nc:     nc,
		log:    log,
		prefix: prefix,
	}, nil
}

// Subject resolves a relative subject under the broadcast prefix
func (c *Client) Subject(rel string) string {
	return c.prefix + "." + rel
}

// Publish sends data as JSON; messages are fire-and-forget and buffered while reconnecting
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.nc == nil || c.nc.IsClosed() {
		return ErrNotReady
	}

	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal nats payload for %s: %w", subject, err)
	}

	if err = c.nc.Publish(c.Subject(subject), b); err != nil {
		return fmt.Errorf("publish to %s: %w", c.Subject(subject), err)
	}
	return nil
}

func (c *Client) Health(_ context.Context) error {
	if !c.Ready() {
		return ErrNotReady
	}
	return nil
}

func (c *Client) Ready() bool {
	if c.nc == nil {
		return false
	}
	return c.nc.Status() == nats.CONNECTED
}

func (c *Client) Status() nats.Status {
	if c.nc == nil {
		return nats.DISCONNECTED
	}
	return c.nc.Status()
}

func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}

	// check not close this conn
	if c.nc.Status() == nats.CLOSED {
		return nil
	}

	if err := c.nc.Drain(); err != nil {
		c.log.Errorf("Failed to drain connection to NATS, error=%v", err)
		c.nc.Close()
		return fmt.Errorf("failed to drain connection to NATS: %w", err)
	}

	// Drain is asynchronous
	for i := 0; i < 50 && c.nc.Status() != nats.CLOSED; i++ {
		time.Sleep(20 * time.Millisecond)
	}
	c.nc.Close()
	c.log.Infof("NATS connection closed gracefully")
	return nil
}
