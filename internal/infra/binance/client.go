package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"price_watch/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
	errBufferSize           = 16
)

var errAlreadyStarted = errors.New("feed client already started")

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	EventBuffer      int

	// Reconnect enables bounded exponential backoff after a retriable transport error.
	Reconnect       bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// Client streams trades for a single symbol
type Client struct {
	symbol string
	url    string
	opts   Options

	events chan domain.TradeEvent
	errs   chan error
	state  atomic.Int32

	conn   *websocket.Conn
	mu     sync.RWMutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewClient creates a client for symbol. Nothing is dialed until Connect.
func NewClient(symbol string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "wss://stream.binance.com:9443"
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.EventBuffer < 0 {
		opts.EventBuffer = 0
	}

	return &Client{
		symbol: symbol,
		url:    StreamURL(opts.BaseURL, symbol),
		opts:   opts,
		events: make(chan domain.TradeEvent, opts.EventBuffer),
		errs:   make(chan error, errBufferSize),
	}
}

// Symbol returns the subscribed symbol
func (c *Client) Symbol() string { return c.symbol }

// Events returns decoded trades. Closed when the connection loop ends.
func (c *Client) Events() <-chan domain.TradeEvent { return c.events }

// Errors returns decode and transport errors. Closed when the connection loop ends.
func (c *Client) Errors() <-chan error { return c.errs }

// State returns the current connection state
func (c *Client) State() domain.ConnState {
	return domain.ConnState(c.state.Load())
}

func (c *Client) setState(s domain.ConnState) {
	c.state.Store(int32(s))
}

// Connect starts the connection loop in its own goroutine and returns immediately.
// A client can be started once.
func (c *Client) Connect(ctx context.Context) error {
	started := false
	c.startOnce.Do(func() {
		started = true

		c.mu.Lock()
		ctx, c.cancel = context.WithCancel(ctx)
		c.mu.Unlock()

		c.setState(domain.StateConnecting)
		c.wg.Add(1)
		go c.connectionLoop(ctx)
	})
	if !started {
		return errAlreadyStarted
	}
	return nil
}

// connectionLoop dials, reads until failure and optionally reconnects with backoff
func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.setState(domain.StateClosed)
		close(c.events)
		close(c.errs)
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed panic recovered", slog.String("symbol", c.symbol), slog.Any("panic", r))
		}
	}()

	policy := c.newBackOff()

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(domain.StateConnecting)
		err := c.connect(ctx)
		if err == nil {
			if policy != nil {
				policy.Reset()
			}
			c.setState(domain.StateConnected)
			err = c.readLoop(ctx)
		}
		c.closeConnection()

		// Explicit stop
		if ctx.Err() != nil {
			return
		}

		c.setState(domain.StateDisconnected)
		slog.Warn("Feed connection lost",
			slog.String("symbol", c.symbol),
			slog.Any("error", err),
		)
		c.report(ctx, err)

		if policy == nil || !domain.IsRetriable(err) {
			return
		}

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			slog.Error("Feed reconnect budget exhausted", slog.String("symbol", c.symbol))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// newBackOff returns nil when reconnection is disabled
func (c *Client) newBackOff() backoff.BackOff {
	if !c.opts.Reconnect {
		return nil
	}
	eb := backoff.NewExponentialBackOff()
	if c.opts.InitialInterval > 0 {
		eb.InitialInterval = c.opts.InitialInterval
	}
	if c.opts.MaxInterval > 0 {
		eb.MaxInterval = c.opts.MaxInterval
	}
	eb.MaxElapsedTime = c.opts.MaxElapsed
	eb.Reset()
	return eb
}

// connect performs the websocket handshake
func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		// A 4xx handshake (unknown stream, bad request) will not heal on retry
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return domain.NewFatalTransportError(c.symbol, "handshake", fmt.Errorf("%s: %w", http.StatusText(resp.StatusCode), err))
		}
		return domain.NewTransportError(c.symbol, "dial", err)
	}

	readTimeout := c.opts.ReadTimeout
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("Feed connected", slog.String("symbol", c.symbol), slog.String("url", c.url))
	return nil
}

// readLoop reads frames until the connection fails or ctx is cancelled
func (c *Client) readLoop(ctx context.Context) error {
	// ReadMessage ignores ctx; closing the conn unblocks it
	stop := context.AfterFunc(ctx, c.closeConnection)
	defer stop()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return domain.NewTransportError(c.symbol, "read", errors.New("connection closed"))
		}

		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			return domain.NewTransportError(c.symbol, "read", err)
		}

		if err := c.handleMessage(ctx, message); err != nil {
			return err
		}
	}
}

// handleMessage decodes one frame. Only a cancelled context is returned as an error;
// decode failures are reported and the connection stays up.
func (c *Client) handleMessage(ctx context.Context, message []byte) error {
	ev, err := decodeTrade(message)
	if err != nil {
		select {
		case c.errs <- err:
		default:
			slog.Warn("Feed error channel full, dropping decode error", slog.String("symbol", c.symbol))
		}
		return nil
	}
	if ev == nil {
		return nil
	}

	select {
	case c.events <- *ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// report delivers a transport error without outliving ctx
func (c *Client) report(ctx context.Context, err error) {
	select {
	case c.errs <- err:
	case <-ctx.Done():
	}
}

// closeConnection safely closes the WebSocket connection
func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Disconnect stops the client and waits for the connection loop to end. Idempotent.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		// Never started: close the channels here
		c.startOnce.Do(func() {
			c.setState(domain.StateClosed)
			close(c.events)
			close(c.errs)
		})

		if !c.State().IsTerminal() {
			c.setState(domain.StateClosing)
		}

		c.mu.RLock()
		cancel := c.cancel
		c.mu.RUnlock()
		if cancel != nil {
			cancel()
		}

		c.closeConnection()
		c.wg.Wait()
		c.setState(domain.StateClosed)
		slog.Info("Feed disconnected", slog.String("symbol", c.symbol))
	})
}
