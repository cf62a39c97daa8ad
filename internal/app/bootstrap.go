package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"price_watch/internal/alert"
	"price_watch/internal/broker"
	"price_watch/internal/domain"
	"price_watch/internal/infra"
	"price_watch/internal/infra/binance"
	"price_watch/internal/infra/storage"
	"price_watch/internal/listener"
	"price_watch/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config  *infra.Config
	Metrics *infra.Metrics
	KV      domain.KVStore // nil for the memory backend
	Broker  domain.Broker
	Alerts  *alert.Bus
	Feeds   *service.FeedService

	redis   *storage.RedisStore // shared by the redis store and broker
	closers []func() error
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	if configPath == "" {
		configPath = infra.DefaultConfigPath
	}
	return &Bootstrap{ConfigPath: configPath, Metrics: &infra.Metrics{}}
}

// Initialize performs the full startup: config, logger, storage, broker, alerts and the feed service.
// On failure every backend opened so far is closed again.
func (b *Bootstrap) Initialize() (err error) {
	defer func() {
		if err != nil {
			b.Shutdown()
		}
	}()

	if err := b.LoadConfig(); err != nil {
		return err
	}
	slog.Info("🚀 Bootstrapping Price Watch...",
		slog.String("version", b.Config.App.Version),
		slog.String("store", b.Config.Store.Backend),
		slog.String("broker", b.Config.Broker.Backend),
	)

	if err := b.OpenStore(); err != nil {
		return err
	}
	if err := b.OpenBroker(); err != nil {
		return err
	}
	if err := b.setupAlerts(); err != nil {
		return err
	}

	b.Feeds = service.NewFeedService(service.FeedServiceConfig{
		Store:         service.NewLastValueStore(b.KV, b.Config.Store.RejectStale),
		NewClient:     b.ClientFactory(),
		Sink:          b.Alerts,
		Broker:        b.Broker,
		TradeChannel:  b.Config.Broker.TradeChannel,
		PublishTrades: b.Config.Broker.PublishTrades,
		Metrics:       b.Metrics,
	})
	slog.Info("✅ Feed service ready")
	return nil
}

// LoadConfig reads the configuration and installs the default logger
func (b *Bootstrap) LoadConfig() error {
	cfg, err := infra.LoadConfigOrDefault(b.ConfigPath)
	if err != nil {
		return err
	}
	b.Config = cfg
	slog.SetDefault(infra.NewLogger(cfg))
	return nil
}

// OpenStore opens the configured KV backend. The memory backend has no KV store.
func (b *Bootstrap) OpenStore() error {
	switch b.Config.Store.Backend {
	case infra.StoreMemory:
		return nil
	case infra.StoreRedis:
		rs, err := b.redisStore()
		if err != nil {
			return err
		}
		b.KV = rs
	case infra.StoreSQLite:
		ss, err := storage.NewSQLiteStore(b.Config.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		b.KV = ss
		b.closers = append(b.closers, ss.Close)
	default:
		return &domain.ConfigError{Field: "store.backend", Err: fmt.Errorf("unknown backend %q", b.Config.Store.Backend)}
	}
	slog.Info("✅ Store initialized", slog.String("backend", b.Config.Store.Backend))
	return nil
}

// OpenBroker opens the configured distribution channel
func (b *Bootstrap) OpenBroker() error {
	switch b.Config.Broker.Backend {
	case infra.StoreMemory:
		mb := broker.NewMemory(b.Config.Feed.EventBuffer)
		b.Broker = mb
		b.closers = append(b.closers, mb.Close)
	case infra.StoreRedis:
		rs, err := b.redisStore()
		if err != nil {
			return err
		}
		b.Broker = rs
	default:
		return &domain.ConfigError{Field: "broker.backend", Err: fmt.Errorf("unknown backend %q", b.Config.Broker.Backend)}
	}
	slog.Info("✅ Broker initialized", slog.String("backend", b.Config.Broker.Backend))
	return nil
}

func (b *Bootstrap) redisStore() (*storage.RedisStore, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	rc := b.Config.Redis
	rs := storage.NewRedisStore(storage.NewRedisClient(rc.Addr, rc.Password, rc.DB))

	ctx, cancel := context.WithTimeout(context.Background(), b.Config.Feed.HandshakeTimeout)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		rs.Close()
		return nil, fmt.Errorf("connect redis %s: %w", rc.Addr, err)
	}

	b.redis = rs
	b.closers = append(b.closers, rs.Close)
	return rs, nil
}

// setupAlerts logs every alert and re-broadcasts it when an alert channel is configured
func (b *Bootstrap) setupAlerts() error {
	b.Alerts = alert.NewBus(alert.DefaultTopic)

	logSink := alert.LogSink{Logger: slog.Default()}
	if err := b.Alerts.Subscribe(func(ev domain.TradeEvent) {
		logSink.Forward(context.Background(), ev)
	}); err != nil {
		return fmt.Errorf("subscribe alert log: %w", err)
	}

	channel := b.Config.Broker.AlertChannel
	if channel == "" || b.Broker == nil {
		return nil
	}
	publish := alert.PublishSink{Broker: b.Broker, Channel: channel}
	if err := b.Alerts.Subscribe(func(ev domain.TradeEvent) {
		if err := publish.Forward(context.Background(), ev); err != nil {
			slog.Warn("Alert publish failed", slog.String("channel", channel), slog.Any("error", err))
			return
		}
		b.Metrics.RecordPublished()
	}); err != nil {
		return fmt.Errorf("subscribe alert publisher: %w", err)
	}
	return nil
}

// ClientFactory builds Binance trade clients from the feed configuration
func (b *Bootstrap) ClientFactory() service.ClientFactory {
	fc := b.Config.Feed
	opts := binance.Options{
		BaseURL:          fc.BaseURL,
		HandshakeTimeout: fc.HandshakeTimeout,
		ReadTimeout:      fc.ReadTimeout,
		EventBuffer:      fc.EventBuffer,
		Reconnect:        fc.Reconnect.Enabled,
		InitialInterval:  fc.Reconnect.InitialInterval,
		MaxInterval:      fc.Reconnect.MaxInterval,
		MaxElapsed:       fc.Reconnect.MaxElapsed,
	}
	return func(symbol string) domain.FeedClient {
		return binance.NewClient(symbol, opts)
	}
}

// StartConfiguredFeeds starts one feed per configured symbol
func (b *Bootstrap) StartConfiguredFeeds() error {
	var errs []error
	for _, sc := range b.Config.Feed.Symbols {
		if _, err := b.Feeds.StartFeed(sc.Symbol, domain.ThresholdFromPtr(sc.Threshold)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewListener creates a listener on the configured channel that logs every message
func (b *Bootstrap) NewListener(channel string) *listener.Listener {
	if channel == "" {
		channel = b.Config.Listener.Channel
	}
	return listener.New(b.Broker, channel, nil, b.Metrics)
}

// Shutdown stops every feed and closes the backends in reverse order
func (b *Bootstrap) Shutdown() {
	if b.Feeds != nil {
		b.Feeds.Close()
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("Close failed", slog.Any("error", err))
		}
	}
	b.closers = nil
	b.redis = nil
	slog.Info("👋 Shutdown complete")
}
