package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"price_watch/internal/domain"

	"github.com/shopspring/decimal"
)

// tradeFrame represents a Binance <symbol>@trade stream payload.
// Reference: https://developers.binance.com/docs/binance-spot-api-docs/web-socket-streams#trade-streams
//
// Required fields are pointers so an absent key is distinguishable from a zero value.
// The e/E, t/T and m/M pairs are all declared because encoding/json falls back
// to case-insensitive matching and would otherwise mix them up.
type tradeFrame struct {
	EventType    *string `json:"e"` // "trade"
	EventTime    *int64  `json:"E"` // Event time (ms)
	Symbol       *string `json:"s"`
	TradeID      int64   `json:"t"`
	Price        *string `json:"p"`
	Quantity     *string `json:"q"`
	TradeTime    int64   `json:"T"`
	IsBuyerMaker bool    `json:"m"`
	Ignore       bool    `json:"M"`
}

// decodeTrade turns one frame into a TradeEvent.
// Returns (nil, nil) for frames of another event type.
func decodeTrade(frame []byte) (*domain.TradeEvent, error) {
	var f tradeFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, &domain.DecodeError{Frame: frame, Err: err}
	}

	if f.EventType != nil && *f.EventType != "trade" {
		return nil, nil
	}

	switch {
	case f.Symbol == nil || *f.Symbol == "":
		return nil, missing(frame, "s")
	case f.Price == nil:
		return nil, missing(frame, "p")
	case f.Quantity == nil:
		return nil, missing(frame, "q")
	case f.EventTime == nil:
		return nil, missing(frame, "E")
	}

	price, err := decimal.NewFromString(*f.Price)
	if err != nil {
		return nil, &domain.DecodeError{Frame: frame, Err: fmt.Errorf("price %q: %w", *f.Price, err)}
	}
	qty, err := decimal.NewFromString(*f.Quantity)
	if err != nil {
		return nil, &domain.DecodeError{Frame: frame, Err: fmt.Errorf("quantity %q: %w", *f.Quantity, err)}
	}

	return &domain.TradeEvent{
		Symbol:          strings.ToUpper(*f.Symbol),
		Price:           price,
		Quantity:        qty,
		EventTimeMillis: *f.EventTime,
	}, nil
}

func missing(frame []byte, field string) error {
	return &domain.DecodeError{Frame: frame, Err: fmt.Errorf("%w: %s", domain.ErrMissingField, field)}
}

// StreamURL builds the raw trade stream endpoint for symbol
func StreamURL(baseURL, symbol string) string {
	return strings.TrimRight(baseURL, "/") + "/ws/" + strings.ToLower(symbol) + "@trade"
}
