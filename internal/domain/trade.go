package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeEvent represents a single trade observed on the feed
type TradeEvent struct {
	Symbol          string          `json:"symbol"`     // Uppercase instrument id (e.g., "ETHUSDT")
	Price           decimal.Decimal `json:"price"`      // Trade price
	Quantity        decimal.Decimal `json:"quantity"`   // Trade quantity
	EventTimeMillis int64           `json:"event_time"` // Exchange event time (Unix ms)
}

// EventTime returns the exchange event time as time.Time
func (e TradeEvent) EventTime() time.Time {
	return time.UnixMilli(e.EventTimeMillis)
}

// LastValueEntry is the current snapshot for a single symbol.
type LastValueEntry struct {
	Symbol          string           `json:"symbol"`
	Price           decimal.Decimal  `json:"price"`
	Quantity        *decimal.Decimal `json:"quantity,omitempty"`
	UpdatedAtMillis int64            `json:"updated_at"`
}

// NewLastValueEntry builds the store entry for a trade.
func NewLastValueEntry(ev TradeEvent) LastValueEntry {
	qty := ev.Quantity
	return LastValueEntry{
		Symbol:          ev.Symbol,
		Price:           ev.Price,
		Quantity:        &qty,
		UpdatedAtMillis: ev.EventTimeMillis,
	}
}

// Snapshot is the {symbol, price} pair shown by the live price view.
type Snapshot struct {
	Symbol    string
	Price     decimal.Decimal
	Threshold Threshold
}

// NormalizeSymbol trims and uppercases a symbol.
// Returns ErrInvalidSymbol when the result is empty or contains non-alphanumeric characters.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", ErrInvalidSymbol
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", ErrInvalidSymbol
		}
	}
	return s, nil
}
