package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"uppercase", "ETHUSDT", "ETHUSDT", false},
		{"lowercase", "ethusdt", "ETHUSDT", false},
		{"padded", "  btcusdt ", "BTCUSDT", false},
		{"empty", "", "", true},
		{"blank", "   ", "", true},
		{"path traversal", "../eth", "", true},
		{"stream suffix", "eth@trade", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSymbol(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSymbol) {
					t.Errorf("NormalizeSymbol(%q) error = %v, want ErrInvalidSymbol", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeSymbol(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLastValueEntry(t *testing.T) {
	ev := TradeEvent{
		Symbol:          "ETHUSDT",
		Price:           decimal.RequireFromString("1800.50"),
		Quantity:        decimal.RequireFromString("0.5"),
		EventTimeMillis: 1700000000000,
	}

	entry := NewLastValueEntry(ev)

	if entry.Symbol != "ETHUSDT" {
		t.Errorf("Expected ETHUSDT, got %s", entry.Symbol)
	}
	if !entry.Price.Equal(decimal.RequireFromString("1800.5")) {
		t.Errorf("Expected 1800.50, got %v", entry.Price)
	}
	if entry.Quantity == nil || !entry.Quantity.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Expected quantity 0.5, got %v", entry.Quantity)
	}
	if entry.UpdatedAtMillis != 1700000000000 {
		t.Errorf("Expected 1700000000000, got %d", entry.UpdatedAtMillis)
	}
	if ev.EventTime().UnixMilli() != 1700000000000 {
		t.Errorf("EventTime mismatch: %v", ev.EventTime())
	}
}

func TestConnState_String(t *testing.T) {
	states := map[ConnState]string{
		StateDisconnected: "DISCONNECTED",
		StateConnecting:   "CONNECTING",
		StateConnected:    "CONNECTED",
		StateClosing:      "CLOSING",
		StateClosed:       "CLOSED",
		ConnState(99):     "UNKNOWN",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("ConnState(%d).String() = %s, want %s", s, s.String(), want)
		}
	}
	if !StateClosed.IsTerminal() || StateDisconnected.IsTerminal() {
		t.Error("Only CLOSED is terminal")
	}
}
