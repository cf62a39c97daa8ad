package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// TransportError represents a failure of the streaming connection
type TransportError struct {
	Op        string // Operation that failed (e.g., "dial", "read")
	Symbol    string // Feed symbol
	Err       error  // Underlying error
	Retriable bool   // Whether reconnecting may help
}

func (e *TransportError) Error() string {
	if e.Symbol == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Symbol + " " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) IsRetriable() bool {
	return e.Retriable
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new retriable transport error
func NewTransportError(symbol, op string, err error) *TransportError {
	return &TransportError{Op: op, Symbol: symbol, Err: err, Retriable: true}
}

// NewFatalTransportError creates a non-retriable transport error
func NewFatalTransportError(symbol, op string, err error) *TransportError {
	return &TransportError{Op: op, Symbol: symbol, Err: err, Retriable: false}
}

// DecodeError is returned for a frame that could not be turned into a TradeEvent.
// The frame is dropped; the connection stays up.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return "decode frame: " + e.Err.Error()
}

func (e *DecodeError) IsRetriable() bool {
	return false
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StoreError wraps a failure of the shared key/value store.
// errors.Is(err, ErrStoreUnavailable) is true for every StoreError.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) IsRetriable() bool {
	return true
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// NewStoreError wraps err, returning nil when err is nil
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrStoreUnavailable matches every StoreError.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidSymbol is returned when a symbol is empty or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrMissingField is wrapped by DecodeError when a required frame field is absent
	ErrMissingField = errors.New("missing required field")

	// ErrFeedNotFound is returned when stopping an unknown subscription
	ErrFeedNotFound = errors.New("feed not found")

	// ErrServiceClosed is returned by StartFeed after Close
	ErrServiceClosed = errors.New("feed service closed")

	// ErrSubscriptionClosed is returned by Receive after Close
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
