package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"price_watch/internal/broker"
	"price_watch/internal/domain"
	"price_watch/internal/event"

	"github.com/shopspring/decimal"
)

func trade(price string) domain.TradeEvent {
	return domain.TradeEvent{
		Symbol:          "ETHUSDT",
		Price:           decimal.RequireFromString(price),
		Quantity:        decimal.RequireFromString("0.5"),
		EventTimeMillis: 1700000000000,
	}
}

type recordingSink struct {
	got []domain.TradeEvent
	err error
}

func (r *recordingSink) Forward(_ context.Context, ev domain.TradeEvent) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, ev)
	return nil
}

func TestFilter_Apply(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	f := NewFilter(domain.Below(decimal.RequireFromString("1800.00")), sink)

	tests := []struct {
		price string
		want  bool
	}{
		{"1799.99", true},
		{"1800.00", false},
		{"1800.01", false},
		{"0", true},
	}

	for _, tt := range tests {
		got, err := f.Apply(ctx, trade(tt.price))
		if err != nil {
			t.Fatalf("Apply(%s) error: %v", tt.price, err)
		}
		if got != tt.want {
			t.Errorf("Apply(%s) = %v, want %v", tt.price, got, tt.want)
		}
	}

	if len(sink.got) != 2 {
		t.Fatalf("Expected 2 forwarded trades, got %d", len(sink.got))
	}
	if !sink.got[0].Price.Equal(decimal.RequireFromString("1799.99")) {
		t.Errorf("Unexpected first alert: %v", sink.got[0].Price)
	}
}

func TestFilter_NoThresholdForwardsAll(t *testing.T) {
	sink := &recordingSink{}
	f := NewFilter(domain.NoThreshold(), sink)

	for _, p := range []string{"1", "1800", "99999"} {
		if ok, _ := f.Apply(context.Background(), trade(p)); !ok {
			t.Errorf("Expected %s to be forwarded", p)
		}
	}
	if len(sink.got) != 3 {
		t.Errorf("Expected 3 forwarded trades, got %d", len(sink.got))
	}
}

func TestFilter_SinkError(t *testing.T) {
	boom := errors.New("sink down")
	f := NewFilter(domain.NoThreshold(), &recordingSink{err: boom})

	ok, err := f.Apply(context.Background(), trade("1"))
	if ok {
		t.Error("Failed forward must not report forwarded")
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped sink error, got %v", err)
	}
}

func TestFilter_NilSink(t *testing.T) {
	f := NewFilter(domain.Below(decimal.NewFromInt(10)), nil)

	if ok, err := f.Apply(context.Background(), trade("9")); !ok || err != nil {
		t.Errorf("Expected pass without sink, got %v %v", ok, err)
	}
}

func TestBus(t *testing.T) {
	b := NewBus("")
	if b.HasHandlers() {
		t.Fatal("New bus should have no handlers")
	}

	var first, second []string
	if err := b.Subscribe(func(ev domain.TradeEvent) { first = append(first, ev.Price.String()) }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe(func(ev domain.TradeEvent) { second = append(second, ev.Price.String()) }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	f := NewFilter(domain.Below(decimal.NewFromInt(1800)), b)
	f.Apply(context.Background(), trade("1790"))
	f.Apply(context.Background(), trade("1810"))

	if len(first) != 1 || first[0] != "1790" {
		t.Errorf("First handler got %v", first)
	}
	if len(second) != 1 || second[0] != "1790" {
		t.Errorf("Second handler got %v", second)
	}
}

func TestPublishSink(t *testing.T) {
	b := broker.NewMemory(4)
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "alerts")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	sink := PublishSink{Broker: b, Channel: "alerts"}
	if err := sink.Forward(ctx, trade("1700")); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	payload, err := sub.Receive(rctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	m := event.Decode(payload)
	if m.Kind != event.KindAlert || m.Trade == nil || m.Trade.Symbol != "ETHUSDT" {
		t.Errorf("Unexpected alert message: %+v", m)
	}
}

func TestMulti(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{err: errors.New("b down")}
	err := Multi{a, b, LogSink{}}.Forward(context.Background(), trade("1"))

	if len(a.got) != 1 {
		t.Error("First sink should still receive the alert")
	}
	if err == nil {
		t.Error("Expected joined error")
	}
}
