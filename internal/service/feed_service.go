package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"price_watch/internal/alert"
	"price_watch/internal/domain"
	"price_watch/internal/event"
	"price_watch/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClientFactory creates an unstarted feed client for symbol
type ClientFactory func(symbol string) domain.FeedClient

// FeedServiceConfig wires the service's collaborators. Store and NewClient are required.
type FeedServiceConfig struct {
	Store     *LastValueStore
	NewClient ClientFactory

	// Sink receives trades that pass a subscription's threshold
	Sink domain.AlertSink

	// Broker and TradeChannel re-broadcast every stored trade when PublishTrades is set
	Broker        domain.Broker
	TradeChannel  string
	PublishTrades bool

	Metrics *infra.Metrics
}

// SubscriptionHandle identifies a running feed
type SubscriptionHandle struct {
	ID        string
	Symbol    string
	Threshold domain.Threshold
	StartedAt time.Time

	seq      uint64
	client   domain.FeedClient
	filter   *alert.Filter
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// State returns the connection state of the underlying client
func (h *SubscriptionHandle) State() domain.ConnState { return h.client.State() }

// Done is closed once the feed has stopped and its last event was processed
func (h *SubscriptionHandle) Done() <-chan struct{} { return h.done }

// Err returns the transport error that ended the feed, if any
func (h *SubscriptionHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *SubscriptionHandle) setErr(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// FeedInfo describes an active subscription
type FeedInfo struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Threshold string    `json:"threshold"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// FeedService is the control surface: it starts and stops feeds and answers price lookups.
type FeedService struct {
	store     *LastValueStore
	newClient ClientFactory
	sink      domain.AlertSink

	broker        domain.Broker
	tradeChannel  string
	publishTrades bool

	metrics *infra.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	feeds      map[string]*SubscriptionHandle
	thresholds map[string]domain.Threshold // newest threshold per symbol
	nextSeq    uint64
	closed     bool
}

// NewFeedService creates the service. Feeds run until stopped or Close.
func NewFeedService(cfg FeedServiceConfig) *FeedService {
	ctx, cancel := context.WithCancel(context.Background())
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &FeedService{
		store:         cfg.Store,
		newClient:     cfg.NewClient,
		sink:          cfg.Sink,
		broker:        cfg.Broker,
		tradeChannel:  cfg.TradeChannel,
		publishTrades: cfg.PublishTrades && cfg.Broker != nil && cfg.TradeChannel != "",
		metrics:       metrics,
		ctx:           ctx,
		cancel:        cancel,
		feeds:         make(map[string]*SubscriptionHandle),
		thresholds:    make(map[string]domain.Threshold),
	}
}

// Store exposes the last-value store
func (s *FeedService) Store() *LastValueStore { return s.store }

// Metrics exposes the ingest counters
func (s *FeedService) Metrics() *infra.Metrics { return s.metrics }

// StartFeed starts a feed for symbol in its own goroutine and returns immediately.
func (s *FeedService) StartFeed(symbol string, threshold domain.Threshold) (*SubscriptionHandle, error) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrServiceClosed
	}

	client := s.newClient(sym)
	h := &SubscriptionHandle{
		ID:        uuid.NewString(),
		Symbol:    sym,
		Threshold: threshold,
		StartedAt: time.Now(),
		seq:       s.nextSeq,
		client:    client,
		filter:    alert.NewFilter(threshold, s.sink),
		done:      make(chan struct{}),
	}

	if err := client.Connect(s.ctx); err != nil {
		return nil, fmt.Errorf("start %s feed: %w", sym, err)
	}

	s.nextSeq++
	s.feeds[h.ID] = h
	s.thresholds[sym] = threshold
	s.metrics.FeedStarted()

	s.wg.Add(1)
	go s.ingest(h)

	slog.Info("Feed started",
		slog.String("id", h.ID),
		slog.String("symbol", sym),
		slog.String("threshold", threshold.String()),
	)
	return h, nil
}

// ingest drains one client until both of its channels are closed
func (s *FeedService) ingest(h *SubscriptionHandle) {
	defer s.wg.Done()
	defer close(h.done)
	defer func() {
		s.mu.Lock()
		delete(s.feeds, h.ID)
		s.mu.Unlock()
		s.metrics.FeedStopped()
	}()

	events, errs := h.client.Events(), h.client.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleTrade(h, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.handleError(h, err)
		}
	}

	slog.Info("Feed stopped", slog.String("id", h.ID), slog.String("symbol", h.Symbol))
}

func (s *FeedService) handleTrade(h *SubscriptionHandle, ev domain.TradeEvent) {
	ctx := s.ctx

	applied, err := s.store.SetLatest(ctx, ev)
	if err != nil {
		s.metrics.RecordStoreError()
		slog.Error("Failed to persist trade",
			slog.String("symbol", ev.Symbol),
			slog.String("price", ev.Price.String()),
			slog.Any("error", err),
		)
	}
	if !applied {
		s.metrics.RecordStaleDropped()
		slog.Debug("Stale trade dropped", slog.String("symbol", ev.Symbol), slog.Int64("event_time", ev.EventTimeMillis))
		return
	}
	s.metrics.RecordTrade(time.Since(ev.EventTime()))

	if s.publishTrades {
		s.publish(ctx, ev)
	}

	forwarded, err := h.filter.Apply(ctx, ev)
	if err != nil {
		slog.Warn("Alert delivery failed", slog.String("symbol", ev.Symbol), slog.Any("error", err))
		return
	}
	if forwarded {
		s.metrics.RecordAlert()
	}
}

func (s *FeedService) publish(ctx context.Context, ev domain.TradeEvent) {
	payload, err := event.Encode(event.NewTradeMessage(ev))
	if err == nil {
		err = s.broker.Publish(ctx, s.tradeChannel, payload)
	}
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Trade publish failed",
				slog.String("channel", s.tradeChannel),
				slog.Any("error", err),
			)
		}
		return
	}
	s.metrics.RecordPublished()
}

func (s *FeedService) handleError(h *SubscriptionHandle, err error) {
	var de *domain.DecodeError
	var te *domain.TransportError
	switch {
	case errors.As(err, &de):
		s.metrics.RecordDecodeError()
		slog.Warn("Dropped malformed frame",
			slog.String("symbol", h.Symbol),
			slog.Any("error", err),
		)
	case errors.As(err, &te):
		s.metrics.RecordTransportError()
		h.setErr(err)
		slog.Error("Feed transport error",
			slog.String("symbol", h.Symbol),
			slog.Bool("retriable", te.IsRetriable()),
			slog.Any("error", err),
		)
	default:
		slog.Error("Feed error", slog.String("symbol", h.Symbol), slog.Any("error", err))
	}
}

// StopFeed disconnects the feed and waits for its ingest loop to finish. Idempotent.
// It must not be called from an AlertSink or Bus handler: those run on the feed's
// own ingest goroutine, which would then wait on itself.
func (s *FeedService) StopFeed(h *SubscriptionHandle) {
	if h == nil {
		return
	}
	h.stopOnce.Do(h.client.Disconnect)
	<-h.done
}

// StopFeedByID stops an active feed. Returns domain.ErrFeedNotFound for unknown ids.
// The same restriction as StopFeed applies.
func (s *FeedService) StopFeedByID(id string) error {
	s.mu.Lock()
	h, ok := s.feeds[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrFeedNotFound, id)
	}
	s.StopFeed(h)
	return nil
}

// GetCurrentPrice returns the last known price for symbol; found is false before any trade.
func (s *FeedService) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	entry, err := s.GetLatest(ctx, symbol)
	if err != nil || entry == nil {
		return decimal.Zero, false, err
	}
	return entry.Price, true, nil
}

// GetLatest returns the full entry for symbol, or nil before any trade
func (s *FeedService) GetLatest(ctx context.Context, symbol string) (*domain.LastValueEntry, error) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return s.store.GetLatest(ctx, sym)
}

// GetCurrentSnapshot returns the latest {symbol, price} with the threshold of the
// newest feed started for that symbol. nil before any trade.
func (s *FeedService) GetCurrentSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil || snap == nil {
		return nil, err
	}

	s.mu.Lock()
	snap.Threshold = s.thresholds[snap.Symbol]
	s.mu.Unlock()
	return snap, nil
}

// Feeds lists active subscriptions, oldest first
func (s *FeedService) Feeds() []FeedInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	handles := make([]*SubscriptionHandle, 0, len(s.feeds))
	for _, h := range s.feeds {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].seq < handles[j].seq
	})

	result := make([]FeedInfo, len(handles))
	for i, h := range handles {
		result[i] = FeedInfo{
			ID:        h.ID,
			Symbol:    h.Symbol,
			Threshold: h.Threshold.String(),
			State:     h.State().String(),
			StartedAt: h.StartedAt,
		}
	}
	return result
}

// Close stops every feed and rejects new ones
func (s *FeedService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handles := make([]*SubscriptionHandle, 0, len(s.feeds))
	for _, h := range s.feeds {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.StopFeed(h)
	}
	s.cancel()
	s.wg.Wait()
}
