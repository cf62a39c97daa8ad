package broker

import (
	"context"
	"errors"
	"sync"

	"price_watch/internal/domain"
)

const defaultBuffer = 64

// ErrBrokerClosed is returned by Publish and Subscribe after Close
var ErrBrokerClosed = errors.New("broker closed")

// Memory is an in-process broadcast broker.
// Every subscriber of a channel receives every message published after it subscribed.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	buffer int
	closed bool
}

var _ domain.Broker = (*Memory)(nil)

// NewMemory creates a broker whose subscribers buffer up to buffer messages
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Memory{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

// Publish delivers payload to every current subscriber.
// A slow subscriber applies backpressure until ctx is done.
func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrBrokerClosed
	}
	targets := make([]*memorySubscription, 0, len(m.subs[channel]))
	for s := range m.subs[channel] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	msg := append([]byte(nil), payload...)
	for _, s := range targets {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a subscriber on channel
func (m *Memory) Subscribe(ctx context.Context, channel string) (domain.BrokerSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrBrokerClosed
	}

	s := &memorySubscription{
		broker:  m,
		channel: channel,
		ch:      make(chan []byte, m.buffer),
		done:    make(chan struct{}),
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySubscription]struct{})
	}
	m.subs[channel][s] = struct{}{}
	return s, nil
}

// Subscribers returns the number of live subscriptions on channel
func (m *Memory) Subscribers(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[channel])
}

// Close terminates every subscription
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*memorySubscription
	for _, set := range m.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}

func (m *Memory) remove(s *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set := m.subs[s.channel]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(m.subs, s.channel)
		}
	}
}

type memorySubscription struct {
	broker    *Memory
	channel   string
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Receive blocks until a message arrives, ctx is done, or the subscription is closed.
func (s *memorySubscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-s.done:
		return nil, domain.ErrSubscriptionClosed
	default:
	}

	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return nil, domain.ErrSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unsubscribes. Idempotent.
func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.broker.remove(s)
	})
	return nil
}
