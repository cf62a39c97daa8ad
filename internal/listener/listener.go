package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"price_watch/internal/domain"
	"price_watch/internal/event"
	"price_watch/internal/infra"
)

// State is the listener lifecycle: Idle -> Subscribed -> Running -> Stopped
type State int32

const (
	StateIdle State = iota
	StateSubscribed
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

var ErrAlreadyStarted = errors.New("listener already started")

// Handler processes one data message. Errors are logged, not fatal.
type Handler func(ctx context.Context, m event.Message) error

// LogHandler logs every message it receives
func LogHandler(channel string) Handler {
	return func(ctx context.Context, m event.Message) error {
		slog.InfoContext(ctx, "Listener received message",
			slog.String("channel", channel),
			slog.String("kind", string(m.Kind)),
			slog.String("message", m.String()),
		)
		return nil
	}
}

// Listener consumes one broker channel until it sees the stop signal
type Listener struct {
	broker  domain.Broker
	channel string
	handler Handler
	metrics *infra.Metrics

	state    atomic.Int32
	started  atomic.Bool
	received atomic.Uint64

	mu       sync.RWMutex
	lastSeen *event.Message
	cancel   context.CancelFunc

	done chan struct{}
	err  error
}

// New creates a listener. A nil handler logs messages; metrics may be nil.
func New(b domain.Broker, channel string, handler Handler, metrics *infra.Metrics) *Listener {
	if handler == nil {
		handler = LogHandler(channel)
	}
	return &Listener{
		broker:  b,
		channel: channel,
		handler: handler,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

func (l *Listener) Channel() string { return l.channel }

func (l *Listener) State() State { return State(l.state.Load()) }

// Received returns the number of data messages handled
func (l *Listener) Received() uint64 { return l.received.Load() }

// LastSeen returns a copy of the last data message, or nil
func (l *Listener) LastSeen() *event.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.lastSeen == nil {
		return nil
	}
	m := *l.lastSeen
	return &m
}

// Start runs the listener in its own goroutine
func (l *Listener) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx = l.withCancel(ctx)
	go func() {
		l.err = l.run(ctx)
		close(l.done)
	}()
	return nil
}

// Run blocks until the stop signal arrives, ctx is done, or Stop is called.
// All three are a clean exit and return nil.
func (l *Listener) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx = l.withCancel(ctx)
	l.err = l.run(ctx)
	close(l.done)
	return l.err
}

// Done is closed when the listener has stopped
func (l *Listener) Done() <-chan struct{} { return l.done }

// Err returns the terminal error after Done is closed
func (l *Listener) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Stop unsubscribes without waiting for the stop signal
func (l *Listener) Stop() {
	l.mu.RLock()
	cancel := l.cancel
	l.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the listener stops or timeout elapses
func (l *Listener) Wait(timeout time.Duration) bool {
	select {
	case <-l.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (l *Listener) withCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	return ctx
}

func (l *Listener) run(ctx context.Context) (err error) {
	defer l.state.Store(int32(StateStopped))
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Listener panic recovered", slog.String("channel", l.channel), slog.Any("panic", r))
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()

	sub, err := l.broker.Subscribe(ctx, l.channel)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", l.channel, err)
	}
	defer sub.Close()

	l.state.Store(int32(StateSubscribed))
	slog.Info("Listener subscribed", slog.String("channel", l.channel))

	if l.metrics != nil {
		l.metrics.ListenerStarted()
		defer l.metrics.ListenerStopped()
	}

	l.state.Store(int32(StateRunning))
	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrSubscriptionClosed) {
				slog.Info("Listener stopping", slog.String("channel", l.channel))
				return nil
			}
			return fmt.Errorf("receive %s: %w", l.channel, err)
		}

		m := event.Decode(payload)
		if m.IsStop() {
			sub.Close()
			slog.Info("Listener received stop signal, unsubscribed", slog.String("channel", l.channel))
			return nil
		}
		if m.IsControl() {
			slog.Warn("Listener ignoring unknown control signal",
				slog.String("channel", l.channel),
				slog.String("signal", string(m.Signal)),
			)
			continue
		}

		l.mu.Lock()
		l.lastSeen = &m
		l.mu.Unlock()
		l.received.Add(1)

		if err := l.handler(ctx, m); err != nil {
			slog.Warn("Listener handler failed",
				slog.String("channel", l.channel),
				slog.Any("error", err),
			)
		}
	}
}

// SendStop publishes the stop signal on channel; every listener on it exits
func SendStop(ctx context.Context, b domain.Broker, channel string) error {
	payload, err := event.Encode(event.NewStopMessage())
	if err != nil {
		return err
	}
	return b.Publish(ctx, channel, payload)
}
