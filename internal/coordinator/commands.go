package coordinator

import (
	"encoding/json"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

// Command is one unit of work for the coordinator loop.
type Command interface {
	apply(c *Coordinator)
}

// Connect registers a new live connection and its outbound sink.
type Connect struct {
	Conn matchmaking.ConnID
	User matchmaking.UserID
	Sink Sink
}

// Disconnect forgets a connection, ending its room or queue entry.
type Disconnect struct {
	Conn matchmaking.ConnID
}

type JoinQueue struct {
	Conn      matchmaking.ConnID
	Interests []string
}

type LeaveQueue struct {
	Conn matchmaking.ConnID
}

type SendMessage struct {
	Conn    matchmaking.ConnID
	RoomID  matchmaking.RoomID
	Content string
}

type SetTyping struct {
	Conn   matchmaking.ConnID
	RoomID matchmaking.RoomID
	Typing bool
}

type RelaySignal struct {
	Conn   matchmaking.ConnID
	RoomID matchmaking.RoomID
	Type   protocol.SignalType
	Data   json.RawMessage
}

// Next ends the connection's current room without re-queueing it.
type Next struct {
	Conn matchmaking.ConnID
}

// EndChat ends RoomID when Conn is one of its members.
type EndChat struct {
	Conn   matchmaking.ConnID
	RoomID matchmaking.RoomID
}

// snapshotQuery reads the state for the HTTP views.
type snapshotQuery struct {
	reply chan Snapshot
}

// CommandFor maps a decoded inbound frame from conn onto its command.
func CommandFor(conn matchmaking.ConnID, msg protocol.Inbound) Command {
	switch m := msg.(type) {
	case protocol.QueueJoin:
		return JoinQueue{Conn: conn, Interests: m.Interests}
	case protocol.QueueLeave:
		return LeaveQueue{Conn: conn}
	case protocol.MessageSend:
		return SendMessage{Conn: conn, RoomID: matchmaking.RoomID(m.RoomID), Content: m.Content}
	case protocol.Typing:
		return SetTyping{Conn: conn, RoomID: matchmaking.RoomID(m.RoomID), Typing: m.Started}
	case protocol.SignalSend:
		return RelaySignal{Conn: conn, RoomID: matchmaking.RoomID(m.RoomID), Type: m.Type, Data: m.Data}
	case protocol.ChatNext:
		return Next{Conn: conn}
	case protocol.ChatDisconnect:
		return EndChat{Conn: conn, RoomID: matchmaking.RoomID(m.RoomID)}
	default:
		return nil
	}
}
