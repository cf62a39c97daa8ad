package domain

// ConnState is the lifecycle state of a feed connection.
//
//	Disconnected -> Connecting -> Connected -> (Disconnected | Closing) -> Closed
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String returns the string representation of ConnState
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further events can be produced
func (s ConnState) IsTerminal() bool {
	return s == StateClosed
}
