package client

// State is the connection lifecycle state.
type State int32

const (
	// StateDisconnected means no transport exists and none is being
	// established. The initial and terminal state.
	StateDisconnected State = iota
	// StateConnecting means a dial attempt is in flight.
	StateConnecting
	// StateAuthenticating means the transport is up and the login handshake
	// is running.
	StateAuthenticating
	// StateReady means the session is established and calls flow.
	StateReady
	// StateReconnecting means the transport dropped and the backoff
	// schedule is driving re-establishment attempts.
	StateReconnecting
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
