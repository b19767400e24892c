package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "marketpulse/internal/api/http"
	"marketpulse/internal/api/http/handlers"
	"marketpulse/internal/api/http/mw"
	"marketpulse/internal/config"
	"marketpulse/internal/dedupe"
	rdbDedupe "marketpulse/internal/dedupe/redis"
	"marketpulse/internal/ledger"
	"marketpulse/internal/lookup"
	"marketpulse/internal/metrics"
	"marketpulse/internal/poller"
	"marketpulse/internal/pubsub/nats"
	"marketpulse/internal/service"
	"marketpulse/internal/signal"
	"marketpulse/internal/source/tracker"
	"marketpulse/internal/stats"
	"marketpulse/internal/stores/clickhouse"
	"marketpulse/internal/stores/redis"
	"marketpulse/internal/stream"

	"github.com/grafana/pyroscope-go"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

type Container struct {
	app *App
	log logger.Logger

	// infra, nil when disabled
	redis    *redis.Client
	ch       *clickhouse.Conn
	chWriter *clickhouse.Writer
	nc       *nats.Client
	cooldown *dedupe.MemoryDedupe

	// services
	engine     *service.Engine
	lookups    *lookup.Service
	subscriber *stream.Subscriber

	// servers
	httpSrv *api.Server

	// metrics
	profiler *pyroscope.Profiler

	// background context of the stream subscriber
	cancelBg context.CancelFunc
}

func (c *Container) Start() error {
	return c.app.Start()
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		c.cleanup()
		return fmt.Errorf("app shutdown is failed, error=%w", err)
	}

	c.cleanup()
	return nil
}

// cleanup releases everything built so far; safe on a partially built container
func (c *Container) cleanup() {
	ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c.cancelBg != nil {
		c.cancelBg()
	}

	if c.subscriber != nil {
		c.subscriber.Stop()
	}

	if c.lookups != nil {
		c.lookups.Close()
	}

	// flush pending rows before the connection goes away
	if c.chWriter != nil {
		if err := c.chWriter.Close(ctxClean); err != nil {
			c.log.Errorf("Failed to close by cleanupF clickhouse writer: %v", err)
		}
	}

	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.log.Errorf("Failed to close by cleanupF clickhouse client: %v", err)
		}
	}

	if c.nc != nil {
		if err := c.nc.Close(); err != nil {
			c.log.Errorf("Failed to close by cleanupF nats client: %v", err)
		}
	}

	if c.cooldown != nil {
		c.cooldown.Close()
	}

	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.log.Errorf("Failed to close by cleanupF redis client: %v", err)
		}
	}

	if c.profiler != nil {
		if err := c.profiler.Stop(); err != nil {
			c.log.Errorf("Failed to stop profiler: %v", err)
		}
	}

	c.log.Info("Successfully cleaned up dependency")
}

// Build constructs the image of the app; on error everything built so far is released
func Build(ctx context.Context, cfg *config.Config) (_ *Container, err error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("Successfully initialize logger")

	c := &Container{log: lg}
	defer func() {
		if err != nil {
			c.cleanup()
		}
	}()

	if c.profiler, err = metrics.InitPProf(cfg.App.InstanceID, &cfg.Metrics.Pyroscope); err != nil {
		return nil, fmt.Errorf("pyroscope initialize failed: %w", err)
	}
	if c.profiler != nil {
		lg.Infof("Successfully initialize Pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerAddr, cfg.Metrics.Pyroscope.AppName)
	}

	// Redis client
	if cfg.Stores.Redis.Enabled {
		if c.redis, err = redis.New(ctx, &cfg.Stores.Redis); err != nil {
			return nil, fmt.Errorf("failed to initialize redis client: %w", err)
		}
		lg.Infof("Successfully initialize redis client, addr=%s", cfg.Stores.Redis.Addr)
	}

	// Upstream
	trackerCl, err := tracker.New(lg, &cfg.Tracker)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracker client: %w", err)
	}
	lg.Infof("Successfully initialize tracker client, base_url=%s", cfg.Tracker.BaseURL)

	p, err := poller.New(lg, cfg, trackerCl)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize poller: %w", err)
	}
	lg.Infof("Successfully initialize poller, interval=%s", cfg.Poller.Interval)

	engineOpts, err := c.buildOutputs(ctx, lg, cfg)
	if err != nil {
		return nil, err
	}

	// Service Layer
	c.engine, err = service.NewEngine(
		lg,
		p,
		signal.NewClassifier(lg, cfg.Signal),
		stats.NewIndex(lg),
		ledger.New(cfg.Ledger.Capacity),
		engineOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	lg.Info("Successfully initialize engine")

	// Push stream
	if cfg.Stream.Enabled {
		if c.subscriber, err = stream.NewSubscriber(lg, &cfg.Stream, c.engine); err != nil {
			return nil, fmt.Errorf("failed to initialize stream subscriber: %w", err)
		}

		var bg context.Context
		bg, c.cancelBg = context.WithCancel(context.Background())
		if err = c.subscriber.Start(bg); err != nil {
			return nil, fmt.Errorf("failed to start stream subscriber: %w", err)
		}
		c.engine.AttachStream(c.subscriber)
		lg.Infof("Successfully initialize stream subscriber, url=%s", cfg.Stream.URL)
	}

	// Lookups
	backends := lookup.MemoryBackends()
	if cfg.Cache.Backend == "redis" {
		if backends, err = lookup.RedisBackends(c.redis, cfg.Cache.Prefix); err != nil {
			return nil, fmt.Errorf("failed to initialize redis cache backends: %w", err)
		}
	}
	if c.lookups, err = lookup.New(lg, cfg, trackerCl, backends); err != nil {
		return nil, fmt.Errorf("failed to initialize lookup service: %w", err)
	}
	lg.Infof("Successfully initialize lookup service, cache backend=%s", cfg.Cache.Backend)

	// HTTP Server
	if c.httpSrv, err = c.buildHTTP(lg, cfg); err != nil {
		return nil, err
	}
	lg.Info("Successfully initialize HTTP server")

	c.app = NewApp(lg, c.httpSrv, c.engine)

	lg.Info("Successfully initialize Wiring")
	return c, nil
}

// buildOutputs wires the optional fan-out of committed alerts: NATS, its cooldown and the ClickHouse archive
func (c *Container) buildOutputs(ctx context.Context, lg logger.Logger, cfg *config.Config) ([]service.Option, error) {
	var opts []service.Option
	var err error

	if c.redis != nil {
		opts = append(opts, service.WithHealthCheck("Redis", c.redis.Health))
	}

	// NATS Broadcaster
	if cfg.PubSub.NATS.Enabled {
		if c.nc, err = nats.New(lg, &cfg.PubSub.NATS); err != nil {
			return nil, fmt.Errorf("failed to initialize nats client: %w", err)
		}
		opts = append(opts, service.WithBroadcaster(c.nc))
		lg.Infof("Successfully initialize nats client, url=%s", cfg.PubSub.NATS.URL)

		if cd := &cfg.PubSub.Cooldown; cd.Enabled {
			var d dedupe.Deduper
			if cd.Backend == "redis" {
				if d, err = rdbDedupe.NewRedisDeduper(lg, cd, c.redis); err != nil {
					return nil, fmt.Errorf("failed to initialize redis cooldown: %w", err)
				}
			} else {
				c.cooldown = dedupe.NewInMemoryDedupe(lg, cd.TTL, cd.JanitorEvery)
				d = c.cooldown
			}
			opts = append(opts, service.WithBroadcastCooldown(d))
			lg.Infof("Successfully initialize broadcast cooldown, backend=%s, ttl=%s", cd.Backend, cd.TTL)
		}
	}

	// ClickHouse archive
	if cfg.Stores.ClickHouse.Enabled {
		if c.ch, err = clickhouse.New(ctx, &cfg.Stores.ClickHouse); err != nil {
			return nil, fmt.Errorf("failed to initialize clickhouse client: %w", err)
		}
		url := strings.Split(cfg.Stores.ClickHouse.DSN, "?")
		lg.Infof("Successfully initialize clickhouse client, url=%s", url[0])

		if err = c.ch.Migrate(ctx); err != nil {
			return nil, err
		}

		if c.chWriter, err = clickhouse.NewWriter(lg, c.ch.Native, cfg.Stores.ClickHouse.Writer, cfg.App.InstanceID); err != nil {
			return nil, fmt.Errorf("failed to initialize clickhouse writer: %w", err)
		}
		opts = append(opts, service.WithArchive(c.chWriter))
		lg.Info("Successfully initialize clickhouse writer")
	}

	return opts, nil
}

func (c *Container) buildHTTP(lg logger.Logger, cfg *config.Config) (*api.Server, error) {
	var rateLimitMW *mw.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		rateLimitMW = mw.NewRateLimit(&cfg.RateLimit, c.redis)
	}

	var corsMW *mw.CORSMiddleware
	if cfg.API.HTTP.CORS.Enabled {
		corsMW = mw.NewCORSConfig(&cfg.API.HTTP.CORS)
	}

	router := api.BuildRouter(
		handlers.NewHandler(lg, c.engine, c.lookups),
		mw.NewLogging(lg),
		mw.NewGzip(cfg.API.HTTP.GzipLevel, lg),
		rateLimitMW,
		corsMW,
	)

	srv, err := api.NewServer(lg, &cfg.API.HTTP, router)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize http server: %w", err)
	}
	return srv, nil
}
