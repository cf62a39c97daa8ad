package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"price_watch/internal/alert"
	"price_watch/internal/broker"
	"price_watch/internal/domain"
	"price_watch/internal/event"
	"price_watch/internal/infra"
	"price_watch/internal/infra/binance"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// fakeClient is a FeedClient driven by the test
type fakeClient struct {
	symbol    string
	events    chan domain.TradeEvent
	errs      chan error
	state     atomic.Int32
	closeOnce sync.Once
}

func newFakeClient(symbol string) *fakeClient {
	return &fakeClient{
		symbol: symbol,
		events: make(chan domain.TradeEvent, 16),
		errs:   make(chan error, 16),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.state.Store(int32(domain.StateConnected))
	return nil
}

func (f *fakeClient) Disconnect() {
	f.closeOnce.Do(func() {
		f.state.Store(int32(domain.StateClosed))
		close(f.events)
		close(f.errs)
	})
}

func (f *fakeClient) State() domain.ConnState          { return domain.ConnState(f.state.Load()) }
func (f *fakeClient) Events() <-chan domain.TradeEvent { return f.events }
func (f *fakeClient) Errors() <-chan error             { return f.errs }

// fail simulates a transport error ending the connection
func (f *fakeClient) fail(err error) {
	f.errs <- err
	f.Disconnect()
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
}

func (ff *fakeFactory) New(symbol string) domain.FeedClient {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	c := newFakeClient(symbol)
	ff.clients = append(ff.clients, c)
	return c
}

func (ff *fakeFactory) last() *fakeClient {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.clients[len(ff.clients)-1]
}

type alertRecorder struct {
	mu  sync.Mutex
	got []domain.TradeEvent
}

func (r *alertRecorder) Forward(_ context.Context, ev domain.TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return nil
}

func (r *alertRecorder) prices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, ev := range r.got {
		out[i] = ev.Price.String()
	}
	return out
}

func newTestService(t *testing.T, cfg FeedServiceConfig) (*FeedService, *fakeFactory) {
	t.Helper()
	ff := &fakeFactory{}
	if cfg.Store == nil {
		cfg.Store = NewLastValueStore(nil, false)
	}
	if cfg.NewClient == nil {
		cfg.NewClient = ff.New
	}
	svc := NewFeedService(cfg)
	t.Cleanup(svc.Close)
	return svc, ff
}

func waitPrice(t *testing.T, svc *FeedService, symbol, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		p, ok, _ := svc.GetCurrentPrice(context.Background(), symbol)
		return ok && p.Equal(decimal.RequireFromString(want))
	}, waitFor, 5*time.Millisecond, "price of %s never became %s", symbol, want)
}

func TestFeedService_ThresholdAlerts(t *testing.T) {
	sink := &alertRecorder{}
	metrics := &infra.Metrics{}
	svc, ff := newTestService(t, FeedServiceConfig{Sink: sink, Metrics: metrics})

	h, err := svc.StartFeed("ethusdt", domain.Below(decimal.RequireFromString("1800.00")))
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", h.Symbol)

	c := ff.last()
	c.events <- ev("ETHUSDT", "1799.99", 1)
	c.events <- ev("ETHUSDT", "1800.01", 2)
	waitPrice(t, svc, "ETHUSDT", "1800.01")

	assert.Equal(t, []string{"1799.99"}, sink.prices())

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.TradesIngested)
	assert.Equal(t, uint64(1), snap.AlertsSent)
	assert.Equal(t, int32(1), snap.ActiveFeeds)
}

func TestFeedService_NoThresholdForwardsAll(t *testing.T) {
	sink := &alertRecorder{}
	svc, ff := newTestService(t, FeedServiceConfig{Sink: sink})

	_, err := svc.StartFeed("ETHUSDT", domain.NoThreshold())
	require.NoError(t, err)

	c := ff.last()
	c.events <- ev("ETHUSDT", "1", 1)
	c.events <- ev("ETHUSDT", "99999", 2)
	waitPrice(t, svc, "ETHUSDT", "99999")

	assert.Equal(t, []string{"1", "99999"}, sink.prices())
}

func TestFeedService_Snapshot(t *testing.T) {
	svc, ff := newTestService(t, FeedServiceConfig{})
	ctx := context.Background()

	snap, err := svc.GetCurrentSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap, "snapshot before any trade")

	_, found, err := svc.GetCurrentPrice(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = svc.StartFeed("ETHUSDT", domain.Below(decimal.NewFromInt(1800)))
	require.NoError(t, err)
	ff.last().events <- ev("ETHUSDT", "1800.50", 1700000000000)
	waitPrice(t, svc, "ETHUSDT", "1800.50")

	snap, err = svc.GetCurrentSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "ETHUSDT", snap.Symbol)
	assert.True(t, snap.Price.Equal(decimal.RequireFromString("1800.50")))
	th, set := snap.Threshold.Price()
	assert.True(t, set)
	assert.True(t, th.Equal(decimal.NewFromInt(1800)))
}

func TestFeedService_StopFeed(t *testing.T) {
	metrics := &infra.Metrics{}
	svc, _ := newTestService(t, FeedServiceConfig{Metrics: metrics})

	h1, err := svc.StartFeed("ETHUSDT", domain.NoThreshold())
	require.NoError(t, err)
	h2, err := svc.StartFeed("BTCUSDT", domain.NoThreshold())
	require.NoError(t, err)

	feeds := svc.Feeds()
	require.Len(t, feeds, 2)
	assert.Equal(t, h1.ID, feeds[0].ID)
	assert.Equal(t, "CONNECTED", feeds[0].State)

	svc.StopFeed(h1)
	svc.StopFeed(h1)
	assert.Equal(t, domain.StateClosed, h1.State())

	require.NoError(t, svc.StopFeedByID(h2.ID))
	assert.ErrorIs(t, svc.StopFeedByID(h2.ID), domain.ErrFeedNotFound)
	assert.ErrorIs(t, svc.StopFeedByID("nope"), domain.ErrFeedNotFound)

	assert.Empty(t, svc.Feeds())
	assert.Equal(t, int32(0), metrics.Snapshot().ActiveFeeds)
}

func TestFeedService_TransportErrorEndsFeed(t *testing.T) {
	metrics := &infra.Metrics{}
	svc, ff := newTestService(t, FeedServiceConfig{Metrics: metrics})

	h, err := svc.StartFeed("ETHUSDT", domain.NoThreshold())
	require.NoError(t, err)

	c := ff.last()
	c.errs <- &domain.DecodeError{Frame: []byte("x"), Err: errors.New("bad")}
	c.events <- ev("ETHUSDT", "1800", 1)
	waitPrice(t, svc, "ETHUSDT", "1800")

	c.fail(domain.NewTransportError("ETHUSDT", "read", errors.New("connection reset")))

	select {
	case <-h.Done():
	case <-time.After(waitFor):
		t.Fatal("feed did not stop after transport error")
	}

	var te *domain.TransportError
	assert.True(t, errors.As(h.Err(), &te))
	assert.Empty(t, svc.Feeds())

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.DecodeErrors)
	assert.Equal(t, uint64(1), snap.TransportErrors)

	// Last known value survives the feed
	p, ok, err := svc.GetCurrentPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(1800)))
}

func TestFeedService_StoreWriteFailure(t *testing.T) {
	kv, mr := newRedisKV(t)
	sink := &alertRecorder{}
	metrics := &infra.Metrics{}
	svc, ff := newTestService(t, FeedServiceConfig{
		Store:   NewLastValueStore(kv, false),
		Sink:    sink,
		Metrics: metrics,
	})

	_, err := svc.StartFeed("ETHUSDT", domain.NoThreshold())
	require.NoError(t, err)

	mr.SetError("LOADING redis is loading the dataset")
	ff.last().events <- ev("ETHUSDT", "1800.5", 1)

	// The feed keeps running and the in-memory value is still updated
	waitPrice(t, svc, "ETHUSDT", "1800.5")
	require.Eventually(t, func() bool {
		snap := metrics.Snapshot()
		return snap.StoreErrors == 1 && snap.TradesIngested == 1
	}, waitFor, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return len(sink.prices()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Len(t, svc.Feeds(), 1)
}

func TestFeedService_StaleDropped(t *testing.T) {
	sink := &alertRecorder{}
	metrics := &infra.Metrics{}
	svc, ff := newTestService(t, FeedServiceConfig{
		Store:   NewLastValueStore(nil, true),
		Sink:    sink,
		Metrics: metrics,
	})

	_, err := svc.StartFeed("ETHUSDT", domain.NoThreshold())
	require.NoError(t, err)

	c := ff.last()
	c.events <- ev("ETHUSDT", "1801", 5)
	c.events <- ev("ETHUSDT", "1700", 4) // older than the stored entry
	c.events <- ev("ETHUSDT", "1802", 6)
	waitPrice(t, svc, "ETHUSDT", "1802")

	require.Eventually(t, func() bool {
		return metrics.Snapshot().TradesIngested == 2
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, uint64(1), metrics.Snapshot().StaleDropped)
	assert.Eventually(t, func() bool { return len(sink.prices()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"1801", "1802"}, sink.prices(), "stale trades are not alerted")
}

func TestFeedService_PublishTrades(t *testing.T) {
	b := broker.NewMemory(16)
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "channel")
	require.NoError(t, err)
	defer sub.Close()

	svc, ff := newTestService(t, FeedServiceConfig{
		Broker:        b,
		TradeChannel:  "channel",
		PublishTrades: true,
	})

	_, err = svc.StartFeed("ETHUSDT", domain.NoThreshold())
	require.NoError(t, err)
	ff.last().events <- ev("ETHUSDT", "1800.50", 1)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	payload, err := sub.Receive(ctx)
	require.NoError(t, err)

	m := event.Decode(payload)
	require.Equal(t, event.KindTrade, m.Kind)
	assert.Equal(t, "ETHUSDT", m.Trade.Symbol)
	assert.True(t, m.Trade.Price.Equal(decimal.RequireFromString("1800.50")))
}

func TestFeedService_Validation(t *testing.T) {
	svc, _ := newTestService(t, FeedServiceConfig{})

	_, err := svc.StartFeed("   ", domain.NoThreshold())
	assert.ErrorIs(t, err, domain.ErrInvalidSymbol)

	_, _, err = svc.GetCurrentPrice(context.Background(), "eth/usdt")
	assert.ErrorIs(t, err, domain.ErrInvalidSymbol)

	svc.Close()
	_, err = svc.StartFeed("ETHUSDT", domain.NoThreshold())
	assert.ErrorIs(t, err, domain.ErrServiceClosed)
}

func TestFeedService_CloseStopsFeeds(t *testing.T) {
	svc, _ := newTestService(t, FeedServiceConfig{})

	h, err := svc.StartFeed("ETHUSDT", domain.NoThreshold())
	require.NoError(t, err)

	svc.Close()
	select {
	case <-h.Done():
	default:
		t.Fatal("Close should wait for every feed")
	}
	assert.Equal(t, domain.StateClosed, h.State())
}

// Full pipeline over a real websocket: frame -> store -> threshold -> bus
func TestFeedService_BinanceEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, p := range []string{"1799.99", "1800.01"} {
			frame := fmt.Sprintf(`{"e":"trade","E":1700000000000,"s":"ETHUSDT","t":1,"p":"%s","q":"0.5","T":1700000000000,"m":false,"M":true}`, p)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	bus := alert.NewBus("")
	var mu sync.Mutex
	var alerts []string
	require.NoError(t, bus.Subscribe(func(ev domain.TradeEvent) {
		mu.Lock()
		alerts = append(alerts, ev.Price.String())
		mu.Unlock()
	}))

	baseURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	svc, _ := newTestService(t, FeedServiceConfig{
		Sink: bus,
		NewClient: func(symbol string) domain.FeedClient {
			return binance.NewClient(symbol, binance.Options{BaseURL: baseURL, EventBuffer: 8})
		},
	})

	_, err := svc.StartFeed("ETHUSDT", domain.Below(decimal.RequireFromString("1800.00")))
	require.NoError(t, err)
	waitPrice(t, svc, "ETHUSDT", "1800.01")

	entry, err := svc.GetLatest(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1700000000000), entry.UpdatedAtMillis)
	assert.True(t, entry.Quantity.Equal(decimal.RequireFromString("0.5")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1799.99"}, alerts)
}
