package domain

import (
	"context"
)

// FeedClient defines a single-symbol streaming connection.
// Events and Errors are closed by the client when its connection loop ends.
type FeedClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() ConnState
	Events() <-chan TradeEvent
	Errors() <-chan error
}

// KVStore is the durable key/value boundary used to persist last-known prices.
type KVStore interface {
	Set(ctx context.Context, key, value string) error
	// Get returns found=false for a missing key
	Get(ctx context.Context, key string) (value string, found bool, err error)
	MSet(ctx context.Context, values map[string]string) error
	// MGet returns one element per key, in order; nil marks a missing key
	MGet(ctx context.Context, keys ...string) ([]*string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Broker is a publish/subscribe channel keyed by name. Delivery is broadcast.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (BrokerSubscription, error)
	Close() error
}

// BrokerSubscription is a blocking iterator over one channel's messages.
type BrokerSubscription interface {
	// Receive blocks until the next message, ctx is done, or Close is called
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// AlertSink receives trades that passed a subscription's threshold
type AlertSink interface {
	Forward(ctx context.Context, ev TradeEvent) error
}
