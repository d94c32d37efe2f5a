package feed

// ConnectionState tracks the push-feed connection lifecycle.
//
// Transitions: DISCONNECTED -> CONNECTING -> CONNECTED; CONNECTED ->
// RECONNECTING on transport loss; RECONNECTING -> CONNECTED on success or
// RECONNECTING -> ERROR once reconnect attempts run out; ERROR -> CONNECTING
// on manual retry; any state -> DISCONNECTED on explicit teardown.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
