package alert

import (
	"context"
	"errors"
	"log/slog"

	"price_watch/internal/domain"
	"price_watch/internal/event"
)

// SinkFunc adapts a function to domain.AlertSink
type SinkFunc func(ctx context.Context, ev domain.TradeEvent) error

func (f SinkFunc) Forward(ctx context.Context, ev domain.TradeEvent) error {
	return f(ctx, ev)
}

// LogSink writes every alert to a structured logger
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Forward(ctx context.Context, ev domain.TradeEvent) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Price alert",
		slog.String("symbol", ev.Symbol),
		slog.String("price", ev.Price.String()),
		slog.String("quantity", ev.Quantity.String()),
		slog.Int64("event_time", ev.EventTimeMillis),
	)
	return nil
}

// PublishSink re-broadcasts alerts on a broker channel as event.KindAlert envelopes
type PublishSink struct {
	Broker  domain.Broker
	Channel string
}

func (s PublishSink) Forward(ctx context.Context, ev domain.TradeEvent) error {
	payload, err := event.Encode(event.NewAlertMessage(ev))
	if err != nil {
		return err
	}
	return s.Broker.Publish(ctx, s.Channel, payload)
}

// Multi forwards to every sink and joins their errors
type Multi []domain.AlertSink

func (m Multi) Forward(ctx context.Context, ev domain.TradeEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Forward(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
