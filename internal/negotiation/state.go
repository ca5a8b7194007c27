package negotiation

import "github.com/pion/webrtc/v4"

// State is the connection status shown to the user for a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// stateFor maps the peer connection's aggregate state onto a Session state.
// ok is false for states that leave the Session state untouched.
func stateFor(pcs webrtc.PeerConnectionState) (s State, ok bool) {
	switch pcs {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return StateConnected, true
	case webrtc.PeerConnectionStateFailed:
		return StateFailed, true
	case webrtc.PeerConnectionStateDisconnected:
		return StateReconnecting, true
	case webrtc.PeerConnectionStateClosed:
		return StateIdle, true
	default:
		return 0, false
	}
}
