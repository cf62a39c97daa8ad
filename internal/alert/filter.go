// Package alert gates trades through a subscription's threshold and delivers
// the survivors to a secondary sink.
package alert

import (
	"context"
	"fmt"

	"price_watch/internal/domain"
)

// Filter forwards trades that pass Threshold to Sink.
// It never touches the last-value store.
type Filter struct {
	Threshold domain.Threshold
	Sink      domain.AlertSink
}

// NewFilter creates a filter; a nil sink only evaluates the predicate
func NewFilter(threshold domain.Threshold, sink domain.AlertSink) *Filter {
	return &Filter{Threshold: threshold, Sink: sink}
}

// Apply evaluates ev and forwards it when it passes.
// Returns forwarded=false when the trade was filtered out or the sink failed.
func (f *Filter) Apply(ctx context.Context, ev domain.TradeEvent) (bool, error) {
	if !f.Threshold.Passes(ev.Price) {
		return false, nil
	}
	if f.Sink == nil {
		return true, nil
	}
	if err := f.Sink.Forward(ctx, ev); err != nil {
		return false, fmt.Errorf("forward %s alert: %w", ev.Symbol, err)
	}
	return true, nil
}
