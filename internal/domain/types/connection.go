package types

// ConnectionState is the lifecycle state of the real-time connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StatePaused
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ConnectionStatus is a point-in-time snapshot of the connection.
type ConnectionStatus struct {
	State     ConnectionState
	Identity  IdentityID
	Rooms     []RoomID
	Attempts  int
	Degraded  bool
	Transport string
}
