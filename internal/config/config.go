package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Poller    PollerConfig    `yaml:"poller"`
	Stream    StreamConfig    `yaml:"stream"`
	Signal    SignalConfig    `yaml:"signal"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Cache     CacheConfig     `yaml:"cache"`
	Lookup    LookupConfig    `yaml:"lookup"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Stores    StoresConfig    `yaml:"stores"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

const DefaultPriceURL = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd&include_24hr_change=true"

type TrackerConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	PriceURL       string        `yaml:"price_url"` // SOL spot price endpoint
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RPS            float64       `yaml:"rps"` // outbound pacing, 0 -> unlimited
	Burst          int           `yaml:"burst"`
	MaxInstruments int           `yaml:"max_instruments"`
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"` // whole poll cycle
}

type StreamConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReadLimitBytes    int64         `yaml:"read_limit_bytes"`
}

// Heuristic policy constants of the classifier
type SignalConfig struct {
	HotVolume         float64 `yaml:"hot_volume"`
	HotChangePct      float64 `yaml:"hot_change_pct"`
	HotVolumeUnit     float64 `yaml:"hot_volume_unit"`
	SpikeIntervals    float64 `yaml:"spike_intervals"` // 5m buckets per hour
	SpikeMultiplier   float64 `yaml:"spike_multiplier"`
	SpikeVolumeUnit   float64 `yaml:"spike_volume_unit"`
	BreakoutVolumeDiv float64 `yaml:"breakout_volume_div"`
	WhaleMinVolume    float64 `yaml:"whale_min_volume"`
	WhaleHourShare    float64 `yaml:"whale_hour_share"`
	SmartVolume       float64 `yaml:"smart_volume"`
	SmartBuySellRatio float64 `yaml:"smart_buy_sell_ratio"`
	SmartHolderUSD    float64 `yaml:"smart_holder_usd"`
	SmartMinWallets   int     `yaml:"smart_min_wallets"`
	SmartVolumeUnit   float64 `yaml:"smart_volume_unit"`
	ReversalChangePct float64 `yaml:"reversal_change_pct"`
	ReversalVolumeDiv float64 `yaml:"reversal_volume_div"`
}

type LedgerConfig struct {
	Capacity int `yaml:"capacity"`
}

type CacheConfig struct {
	Backend        string        `yaml:"backend"` // memory|redis
	Prefix         string        `yaml:"prefix"`
	ListingTTL     time.Duration `yaml:"listing_ttl"`
	DetailTTL      time.Duration `yaml:"detail_ttl"`
	JanitorEvery   time.Duration `yaml:"janitor_every"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

type LookupConfig struct {
	Debounce    time.Duration `yaml:"debounce"`
	TradesLimit int           `yaml:"trades_limit"`
}

type RateBucketConfig struct {
	RefillPerSec int           `yaml:"refill_per_sec"`
	Burst        int           `yaml:"burst"`
	TTL          time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	Enabled        bool             `yaml:"enabled"`
	ByIP           RateBucketConfig `yaml:"by_ip"`
	TrustedProxies []string         `yaml:"trusted_proxies"` // IPs or CIDRs allowed to set X-Forwarded-For
}

type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ClickHouseWriterConfig struct {
	BatchMaxRows     int           `yaml:"batch_max_rows"`
	BatchMaxInterval time.Duration `yaml:"batch_max_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type ClickHouseConfig struct {
	Enabled bool                   `yaml:"enabled"`
	DSN     string                 `yaml:"dsn"`
	Writer  ClickHouseWriterConfig `yaml:"writer"`
}

type StoresConfig struct {
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type NATSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	BroadcastPrefix string `yaml:"broadcast_prefix"`
}

// Suppresses re-publishing the same mint+kind alert within TTL
type CooldownConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Backend      string        `yaml:"backend"` // memory|redis
	Prefix       string        `yaml:"prefix"`
	TTL          time.Duration `yaml:"ttl"`
	JanitorEvery time.Duration `yaml:"janitor_every"`
}

type PubSubConfig struct {
	NATS     NATSConfig     `yaml:"nats"`
	Cooldown CooldownConfig `yaml:"cooldown"`
}

type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
	Headers []string `yaml:"headers"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	GzipLevel    int           `yaml:"gzip_level"`
	CORS         CORSConfig    `yaml:"cors"`
}

type APIConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

type PyroscopeConfig struct {
	Enabled    bool              `yaml:"enabled"`
	AppName    string            `yaml:"app_name"`
	ServerAddr string            `yaml:"server_addr"`
	AuthToken  string            `yaml:"auth_token"`
	Tags       map[string]string `yaml:"tags"`
}

type MetricsConfig struct {
	Pyroscope PyroscopeConfig `yaml:"pyroscope"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Secrets and endpoints may come from the environment (.env in dev)
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"TRACKER_API_KEY":  &c.Tracker.APIKey,
		"TRACKER_BASE_URL": &c.Tracker.BaseURL,
		"STREAM_URL":       &c.Stream.URL,
		"REDIS_ADDR":       &c.Stores.Redis.Addr,
		"NATS_URL":         &c.PubSub.NATS.URL,
		"CLICKHOUSE_DSN":   &c.Stores.ClickHouse.DSN,
	}

	for env, dst := range overrides {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

// Validate fills sane defaults and rejects unusable settings
func (c *Config) Validate() error {
	if c.Tracker.BaseURL == "" {
		return errors.New("tracker.base_url is required")
	}

	if c.App.ShutdownTimeout <= 0 {
		c.App.ShutdownTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Tracker.RequestTimeout <= 0 {
		c.Tracker.RequestTimeout = 10 * time.Second
	}
	if c.Tracker.MaxInstruments <= 0 {
		c.Tracker.MaxInstruments = 20
	}
	if c.Tracker.PriceURL == "" {
		c.Tracker.PriceURL = DefaultPriceURL
	}

	if c.Poller.Interval <= 0 {
		c.Poller.Interval = 30 * time.Second
	}
	if c.Poller.Timeout <= 0 || c.Poller.Timeout > c.Poller.Interval {
		c.Poller.Timeout = c.Poller.Interval
	}

	if c.Stream.Enabled && c.Stream.URL == "" {
		return errors.New("stream.url is required when stream is enabled")
	}
	if c.Stream.ReconnectInterval <= 0 {
		c.Stream.ReconnectInterval = 2 * time.Second
	}
	if c.Stream.WriteTimeout <= 0 {
		c.Stream.WriteTimeout = 5 * time.Second
	}
	if c.Stream.ReadLimitBytes <= 0 {
		c.Stream.ReadLimitBytes = 1 << 20
	}

	c.Signal = c.Signal.withDefaults()

	if c.Ledger.Capacity <= 0 {
		c.Ledger.Capacity = 20
	}

	switch c.Cache.Backend {
	case "":
		c.Cache.Backend = "memory"
	case "memory":
	case "redis":
		if !c.Stores.Redis.Enabled {
			return errors.New("cache.backend=redis requires stores.redis.enabled")
		}
	default:
		return errors.New("cache.backend must be memory or redis")
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "marketpulse:cache:"
	}
	if c.Cache.ListingTTL <= 0 {
		c.Cache.ListingTTL = 30 * time.Second
	}
	if c.Cache.DetailTTL <= 0 {
		c.Cache.DetailTTL = 60 * time.Second
	}
	if c.Cache.RefreshTimeout <= 0 {
		c.Cache.RefreshTimeout = 10 * time.Second
	}

	if c.Lookup.Debounce <= 0 {
		c.Lookup.Debounce = 500 * time.Millisecond
	}
	if c.Lookup.TradesLimit <= 0 {
		c.Lookup.TradesLimit = 5
	}

	if err := c.PubSub.Cooldown.validate(c.Stores.Redis.Enabled); err != nil {
		return err
	}

	if c.RateLimit.Enabled && !c.Stores.Redis.Enabled {
		return errors.New("rate_limit requires stores.redis.enabled")
	}

	if c.API.HTTP.Addr == "" {
		c.API.HTTP.Addr = ":8080"
	}

	return nil
}

func (cd *CooldownConfig) validate(redisEnabled bool) error {
	if !cd.Enabled {
		return nil
	}

	switch cd.Backend {
	case "", "memory":
		cd.Backend = "memory"
	case "redis":
		if !redisEnabled {
			return errors.New("pubsub.cooldown.backend=redis requires stores.redis.enabled")
		}
	default:
		return errors.New("pubsub.cooldown.backend must be memory or redis")
	}
	if cd.Prefix == "" {
		cd.Prefix = "marketpulse:cooldown:"
	}
	if cd.TTL <= 0 {
		cd.TTL = 5 * time.Minute
	}
	if cd.JanitorEvery <= 0 {
		cd.JanitorEvery = time.Minute
	}

	return nil
}

func (s SignalConfig) withDefaults() SignalConfig {
	def := DefaultSignal()
	setF := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}

	setF(&s.HotVolume, def.HotVolume)
	setF(&s.HotChangePct, def.HotChangePct)
	setF(&s.HotVolumeUnit, def.HotVolumeUnit)
	setF(&s.SpikeIntervals, def.SpikeIntervals)
	setF(&s.SpikeMultiplier, def.SpikeMultiplier)
	setF(&s.SpikeVolumeUnit, def.SpikeVolumeUnit)
	setF(&s.BreakoutVolumeDiv, def.BreakoutVolumeDiv)
	setF(&s.WhaleMinVolume, def.WhaleMinVolume)
	setF(&s.WhaleHourShare, def.WhaleHourShare)
	setF(&s.SmartVolume, def.SmartVolume)
	setF(&s.SmartBuySellRatio, def.SmartBuySellRatio)
	setF(&s.SmartHolderUSD, def.SmartHolderUSD)
	setF(&s.SmartVolumeUnit, def.SmartVolumeUnit)
	setF(&s.ReversalChangePct, def.ReversalChangePct)
	setF(&s.ReversalVolumeDiv, def.ReversalVolumeDiv)
	if s.SmartMinWallets <= 0 {
		s.SmartMinWallets = def.SmartMinWallets
	}

	return s
}

// DefaultSignal returns the thresholds the alert rules were tuned with
func DefaultSignal() SignalConfig {
	return SignalConfig{
		HotVolume:         10_000,
		HotChangePct:      3,
		HotVolumeUnit:     10_000,
		SpikeIntervals:    12,
		SpikeMultiplier:   2,
		SpikeVolumeUnit:   5_000,
		BreakoutVolumeDiv: 8,
		WhaleMinVolume:    5_000,
		WhaleHourShare:    0.1,
		SmartVolume:       5_000,
		SmartBuySellRatio: 1.5,
		SmartHolderUSD:    1_000,
		SmartMinWallets:   5,
		SmartVolumeUnit:   10_000,
		ReversalChangePct: 2,
		ReversalVolumeDiv: 10,
	}
}
