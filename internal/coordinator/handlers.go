package coordinator

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

func (cmd Connect) apply(c *Coordinator) {
	if cmd.Sink == nil {
		return
	}
	if _, dup := c.conns[cmd.Conn]; dup {
		c.log.Warn("duplicate connect ignored", "conn_id", cmd.Conn)
		return
	}
	c.conns[cmd.Conn] = &connState{user: cmd.User, sink: cmd.Sink}
	c.log.Debug("connected", "conn_id", cmd.Conn, "user_id", cmd.User, "online", len(c.conns))
	c.broadcastStats()
}

func (cmd Disconnect) apply(c *Coordinator) {
	if _, ok := c.conns[cmd.Conn]; !ok {
		return
	}
	_, term, ended := c.mm.Disconnect(cmd.Conn)
	delete(c.conns, cmd.Conn)
	if ended {
		c.notifyEnded(term, protocol.ReasonDisconnect)
	}
	c.log.Debug("disconnected", "conn_id", cmd.Conn, "online", len(c.conns))
	c.broadcastStats()
}

func (cmd JoinQueue) apply(c *Coordinator) {
	st, ok := c.conns[cmd.Conn]
	if !ok {
		return
	}
	c.metrics.Event(string(protocol.EventQueueJoin))

	res, err := c.mm.Join(matchmaking.Participant{
		Conn:      cmd.Conn,
		User:      st.user,
		Interests: cmd.Interests,
		JoinedAt:  c.now(),
	})
	if res.Ended != nil {
		c.notifyEnded(*res.Ended, protocol.ReasonNext)
	}
	if err != nil {
		c.log.Error("queue join failed", "conn_id", cmd.Conn, "err", err)
		c.mm.Leave(cmd.Conn)
		c.send(cmd.Conn, protocol.Error{Code: protocol.CodeQueueError, Message: "Failed to join queue."})
		c.broadcastStats()
		return
	}

	if m := res.Match; m != nil {
		c.metrics.Match()
		c.log.Info("match",
			"room_id", m.Room.ID,
			"initiator", m.Self.Conn,
			"responder", m.Partner.Conn,
			"shared_interests", matchmaking.SharedInterests(m.Self.Interests, m.Partner.Interests),
		)
		c.send(m.Self.Conn, protocol.MatchFound{
			RoomID:      string(m.Room.ID),
			PeerID:      string(m.Partner.User),
			IsInitiator: true,
		})
		c.send(m.Partner.Conn, protocol.MatchFound{
			RoomID:      string(m.Room.ID),
			PeerID:      string(m.Self.User),
			IsInitiator: false,
		})
	} else {
		c.send(cmd.Conn, protocol.QueueWaiting{Position: res.Position})
	}
	c.broadcastStats()
}

func (cmd LeaveQueue) apply(c *Coordinator) {
	if _, ok := c.conns[cmd.Conn]; !ok {
		return
	}
	c.metrics.Event(string(protocol.EventQueueLeave))
	if c.mm.Leave(cmd.Conn) {
		c.broadcastStats()
	}
}

func (cmd SendMessage) apply(c *Coordinator) {
	if _, ok := c.conns[cmd.Conn]; !ok {
		return
	}
	c.metrics.Event(string(protocol.EventMessageSend))

	partner, ok := c.mm.Partner(cmd.RoomID, cmd.Conn)
	if !ok {
		c.send(cmd.Conn, protocol.Error{Code: protocol.CodeNotInRoom, Message: "You are not in a chat room."})
		return
	}
	content := protocol.SanitizeContent(cmd.Content, c.maxMessageRunes)
	if content == "" {
		c.metrics.Dropped("empty_message")
		return
	}
	c.send(partner, protocol.MessageReceive{
		RoomID:    string(cmd.RoomID),
		Content:   content,
		MessageID: c.newMessageID(),
		Timestamp: c.now().UnixMilli(),
	})
}

func (cmd SetTyping) apply(c *Coordinator) {
	if _, ok := c.conns[cmd.Conn]; !ok {
		return
	}
	partner, ok := c.mm.Partner(cmd.RoomID, cmd.Conn)
	if !ok {
		return
	}
	c.send(partner, protocol.TypingUpdate{RoomID: string(cmd.RoomID), IsTyping: cmd.Typing})
}

// Signals that fail validation are dropped without telling the sender.
func (cmd RelaySignal) apply(c *Coordinator) {
	if _, ok := c.conns[cmd.Conn]; !ok {
		return
	}
	c.metrics.Event(string(protocol.EventSignalSend))
	if !cmd.Type.Valid() {
		c.metrics.Dropped("signal_bad_type")
		return
	}
	partner, ok := c.mm.Partner(cmd.RoomID, cmd.Conn)
	if !ok {
		c.metrics.Dropped("signal_not_member")
		c.log.Debug("signal dropped", "conn_id", cmd.Conn, "room_id", cmd.RoomID, "type", cmd.Type)
		return
	}
	c.send(partner, protocol.SignalReceive{RoomID: string(cmd.RoomID), Type: cmd.Type, Data: cmd.Data})
}

func (cmd Next) apply(c *Coordinator) {
	if _, ok := c.conns[cmd.Conn]; !ok {
		return
	}
	c.metrics.Event(string(protocol.EventChatNext))
	term, ok := c.mm.Terminate(cmd.Conn)
	if !ok {
		return
	}
	c.notifyEnded(term, protocol.ReasonNext)
	c.broadcastStats()
}

func (cmd EndChat) apply(c *Coordinator) {
	if _, ok := c.conns[cmd.Conn]; !ok {
		return
	}
	c.metrics.Event(string(protocol.EventChatDisconnect))
	term, ok := c.mm.TerminateRoom(cmd.RoomID, cmd.Conn)
	if !ok {
		return
	}
	c.notifyEnded(term, protocol.ReasonDisconnect)
	c.broadcastStats()
}

func (q snapshotQuery) apply(c *Coordinator) {
	q.reply <- c.snapshot()
}
