package client

// ConnectionState represents the lifecycle state of the managed connection.
type ConnectionState int

const (
	// StateNotConnected indicates no connection exists.
	StateNotConnected ConnectionState = iota
	// StateConnecting indicates a handshake is in progress.
	StateConnecting
	// StateConnected indicates the handshake completed and the connection is usable.
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateNotConnected:
		return "not connected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
