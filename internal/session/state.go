package session

// State is the connection lifecycle position of a Controller.
//
//	Idle → Connecting → Connected → Disconnected
//	                ↘ Disconnected → Connecting (reconnect)
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// canConnect reports whether Connect may start from s.
func (s State) canConnect() bool {
	return s == StateIdle || s == StateDisconnected
}

// live reports whether s owns (or is acquiring) a connection.
func (s State) live() bool {
	return s == StateConnecting || s == StateConnected
}
