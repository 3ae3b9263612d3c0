package ws

// State is the connection state of the widget transport. Exactly one value
// holds at a time; transitions are driven only by transport events and the
// local retry policy, never set speculatively by callers.
type State int

const (
	// StateDisconnected means no transport exists and no retry is pending.
	StateDisconnected State = iota

	// StateConnecting means the first attempt of a connect cycle is in
	// flight (or waiting out the warm-up delay).
	StateConnecting

	// StateConnected means a live transport is established.
	StateConnected

	// StateReconnecting means the transport was lost and a bounded retry
	// is in flight.
	StateReconnecting
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChange describes one transition of the connection state machine. Err
// is set when a transport failure caused the transition.
type StateChange struct {
	Old State
	New State
	Err error
}
