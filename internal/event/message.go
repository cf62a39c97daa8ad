package event

import (
	"encoding/json"
	"fmt"

	"price_watch/internal/domain"
)

// Kind identifies the payload carried by a Message
type Kind string

const (
	KindTrade   Kind = "trade"
	KindAlert   Kind = "alert"
	KindControl Kind = "control"
	// KindRaw marks a payload published by something that does not speak the envelope
	KindRaw Kind = "raw"
)

// ControlSignal is a reserved instruction for listeners
type ControlSignal string

// SignalStop tells every listener on the channel to unsubscribe and exit.
const SignalStop ControlSignal = "stop"

// Message is the envelope carried on the distribution channel.
//
// Wire format:
//
//	{"kind":"trade","trade":{"symbol":"ETHUSDT","price":"1800.5",...}}
//	{"kind":"control","signal":"stop"}
//
// Anything that does not decode to a known kind becomes KindRaw with the
// payload preserved, so a data string can never be mistaken for a control signal.
type Message struct {
	Kind    Kind               `json:"kind"`
	Trade   *domain.TradeEvent `json:"trade,omitempty"`
	Signal  ControlSignal      `json:"signal,omitempty"`
	Payload string             `json:"-"`
}

// NewTradeMessage wraps a trade
func NewTradeMessage(ev domain.TradeEvent) Message {
	return Message{Kind: KindTrade, Trade: &ev}
}

// NewAlertMessage wraps a trade that crossed a subscription threshold
func NewAlertMessage(ev domain.TradeEvent) Message {
	return Message{Kind: KindAlert, Trade: &ev}
}

// NewStopMessage returns the listener shutdown sentinel
func NewStopMessage() Message {
	return Message{Kind: KindControl, Signal: SignalStop}
}

// IsControl reports whether m is a control message
func (m Message) IsControl() bool {
	return m.Kind == KindControl
}

// IsStop reports whether m is the shutdown sentinel
func (m Message) IsStop() bool {
	return m.Kind == KindControl && m.Signal == SignalStop
}

// String renders the message for logs
func (m Message) String() string {
	switch m.Kind {
	case KindTrade, KindAlert:
		if m.Trade == nil {
			return string(m.Kind)
		}
		return fmt.Sprintf("%s %s price=%s qty=%s", m.Kind, m.Trade.Symbol, m.Trade.Price, m.Trade.Quantity)
	case KindControl:
		return "control " + string(m.Signal)
	default:
		return m.Payload
	}
}

// Encode serializes an envelope. Raw messages are sent as their payload.
func Encode(m Message) ([]byte, error) {
	if m.Kind == KindRaw {
		return []byte(m.Payload), nil
	}
	return json.Marshal(m)
}

// Decode parses a payload received from a broker. It never fails:
// unknown or malformed payloads come back as KindRaw.
func Decode(payload []byte) Message {
	raw := Message{Kind: KindRaw, Payload: string(payload)}

	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return raw
	}

	switch m.Kind {
	case KindTrade, KindAlert:
		if m.Trade == nil {
			return raw
		}
	case KindControl:
		if m.Signal == "" {
			return raw
		}
	default:
		return raw
	}
	m.Payload = string(payload)
	return m
}
