package alert

import (
	"context"

	"price_watch/internal/domain"

	"github.com/asaskevich/EventBus"
)

// DefaultTopic is the in-process topic alerts are published on
const DefaultTopic = "alert:price"

// Handler receives alerts published on a Bus
type Handler func(ev domain.TradeEvent)

// Bus is an in-process alert fan-out. Handlers run synchronously in
// registration order on the forwarding goroutine.
type Bus struct {
	bus   EventBus.Bus
	topic string
}

// NewBus creates a bus publishing on topic (DefaultTopic when empty)
func NewBus(topic string) *Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Bus{bus: EventBus.New(), topic: topic}
}

// Subscribe registers h for every alert
func (b *Bus) Subscribe(h Handler) error {
	return b.bus.Subscribe(b.topic, func(ev domain.TradeEvent) { h(ev) })
}

// Forward implements domain.AlertSink
func (b *Bus) Forward(_ context.Context, ev domain.TradeEvent) error {
	b.bus.Publish(b.topic, ev)
	return nil
}

// HasHandlers reports whether anything is subscribed
func (b *Bus) HasHandlers() bool {
	return b.bus.HasCallback(b.topic)
}
