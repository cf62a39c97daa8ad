package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"price_watch/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath  = "configs/config.yaml"
	DefaultFeedBaseURL = "wss://stream.binance.com:9443"
	DefaultChannel     = "channel"
	DefaultAlertTopic  = "alerts"

	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config holds every setting of the service.
// LoadConfig applies the YAML file over DefaultConfig, then environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	HTTP struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Feed     FeedConfig     `yaml:"feed"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Broker   BrokerConfig   `yaml:"broker"`
	Listener ListenerConfig `yaml:"listener"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// FeedConfig configures the streaming trade clients
type FeedConfig struct {
	BaseURL          string          `yaml:"base_url"`
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration   `yaml:"read_timeout"`
	EventBuffer      int             `yaml:"event_buffer"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
	Symbols          []SymbolConfig  `yaml:"symbols"`
}

// ReconnectConfig is the bounded exponential backoff applied after a transport error.
// Disabled by default: a dropped connection ends the feed.
type ReconnectConfig struct {
	Enabled         bool          `yaml:"enabled"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

// SymbolConfig is a feed started at boot
type SymbolConfig struct {
	Symbol    string           `yaml:"symbol"`
	Threshold *decimal.Decimal `yaml:"threshold"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	RejectStale bool   `yaml:"reject_stale"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BrokerConfig struct {
	Backend       string `yaml:"backend"`
	TradeChannel  string `yaml:"trade_channel"`
	AlertChannel  string `yaml:"alert_channel"`
	PublishTrades bool   `yaml:"publish_trades"`
}

type ListenerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

// DefaultConfig returns a configuration that runs without any external service.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "price-watch"
	cfg.App.Version = "0.1.0"

	cfg.HTTP.Addr = ":5000"
	cfg.HTTP.ShutdownTimeout = 5 * time.Second

	cfg.Feed = FeedConfig{
		BaseURL:          DefaultFeedBaseURL,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		EventBuffer:      256,
		Reconnect: ReconnectConfig{
			InitialInterval: 1 * time.Second,
			MaxInterval:     30 * time.Second,
			MaxElapsed:      5 * time.Minute,
		},
	}

	cfg.Store.Backend = StoreMemory
	cfg.Store.SQLitePath = "data/price_watch.db"

	cfg.Redis.Addr = "localhost:6379"

	cfg.Broker = BrokerConfig{
		Backend:      StoreMemory,
		TradeChannel: DefaultChannel,
		AlertChannel: DefaultAlertTopic,
	}
	cfg.Listener.Channel = DefaultChannel

	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	cfg.Logging.File = "app.log"
	return cfg
}

// LoadConfig reads the YAML file at path over DefaultConfig.
// A missing file returns an error wrapping domain.ErrConfigNotFound.
func LoadConfig(path string) (*Config, error) {
	loadDotEnv()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadConfigOrDefault falls back to DefaultConfig (with env overrides) when path does not exist.
func LoadConfigOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if errors.Is(err, domain.ErrConfigNotFound) {
		cfg = DefaultConfig()
		overrideWithEnv(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return cfg, err
}

// loadDotEnv loads .env from the working directory when present
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env ignored: %v\n", err)
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasPrefix(c.Feed.BaseURL, "ws://") && !hasPrefix(c.Feed.BaseURL, "wss://") {
		return &domain.ConfigError{Field: "feed.base_url", Err: fmt.Errorf("not a websocket url: %q", c.Feed.BaseURL)}
	}
	if c.Feed.HandshakeTimeout <= 0 {
		return &domain.ConfigError{Field: "feed.handshake_timeout", Err: errors.New("must be positive")}
	}
	if c.Feed.ReadTimeout <= 0 {
		return &domain.ConfigError{Field: "feed.read_timeout", Err: errors.New("must be positive")}
	}
	if c.Feed.EventBuffer < 0 {
		return &domain.ConfigError{Field: "feed.event_buffer", Err: errors.New("must not be negative")}
	}
	if r := c.Feed.Reconnect; r.Enabled {
		if r.InitialInterval <= 0 || r.MaxInterval < r.InitialInterval {
			return &domain.ConfigError{Field: "feed.reconnect", Err: errors.New("intervals must satisfy 0 < initial <= max")}
		}
	}
	for i, s := range c.Feed.Symbols {
		if _, err := domain.NormalizeSymbol(s.Symbol); err != nil {
			return &domain.ConfigError{Field: fmt.Sprintf("feed.symbols[%d]", i), Err: err}
		}
	}

	switch c.Store.Backend {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		return &domain.ConfigError{Field: "store.backend", Err: fmt.Errorf("unknown backend %q", c.Store.Backend)}
	}

	switch c.Broker.Backend {
	case StoreMemory, StoreRedis:
	default:
		return &domain.ConfigError{Field: "broker.backend", Err: fmt.Errorf("unknown backend %q", c.Broker.Backend)}
	}
	if c.Broker.TradeChannel == "" {
		return &domain.ConfigError{Field: "broker.trade_channel", Err: errors.New("required")}
	}

	if c.usesRedis() && c.Redis.Addr == "" {
		return &domain.ConfigError{Field: "redis.addr", Err: errors.New("required for redis backend")}
	}
	return nil
}

func (c *Config) usesRedis() bool {
	return c.Store.Backend == StoreRedis || c.Broker.Backend == StoreRedis
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overwrites settings from PRICEWATCH_* variables when present.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("PRICEWATCH_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("PRICEWATCH_FEED_BASE_URL"); v != "" {
		cfg.Feed.BaseURL = v
	}
	if v := os.Getenv("PRICEWATCH_SYMBOLS"); v != "" {
		cfg.Feed.Symbols = cfg.Feed.Symbols[:0]
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Feed.Symbols = append(cfg.Feed.Symbols, SymbolConfig{Symbol: s})
			}
		}
	}
	if v := os.Getenv("PRICEWATCH_RECONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Feed.Reconnect.Enabled = b
		}
	}
	if v := os.Getenv("PRICEWATCH_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("PRICEWATCH_BROKER_BACKEND"); v != "" {
		cfg.Broker.Backend = v
	}
	if v := os.Getenv("PRICEWATCH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PRICEWATCH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PRICEWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
