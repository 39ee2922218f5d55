package bridge

// State is the lifecycle state of one bridged call.
type State int

const (
	// StateConnecting means the telephony stream is open and the upstream is
	// being dialed.
	StateConnecting State = iota
	// StateActive means audio is relayed in both directions.
	StateActive
	// StateClosing means one side has gone away.
	StateClosing
	// StateClosed means both sides are torn down and the session is removed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
