package protocol

import "encoding/json"

// Inbound is implemented by every client to coordinator payload.
type Inbound interface {
	Event() Event
	inbound()
}

// Outbound is implemented by every coordinator to client payload.
type Outbound interface {
	Event() Event
}

type QueueJoin struct {
	Interests []string `json:"interests,omitempty"`
}

type QueueLeave struct{}

// MessageSend carries a chat line. MessageID and Timestamp are the sender's
// optimistic values; the coordinator assigns its own before relaying.
type MessageSend struct {
	RoomID    string `json:"roomId"`
	Content   string `json:"content"`
	MessageID string `json:"messageId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Typing is the payload of both typing:start and typing:stop; Started tells
// them apart after decoding.
type Typing struct {
	RoomID  string `json:"roomId"`
	Started bool   `json:"-"`
}

type SignalSend struct {
	RoomID string          `json:"roomId"`
	Type   SignalType      `json:"type"`
	Data   json.RawMessage `json:"data"`
}

type ChatNext struct{}

type ChatDisconnect struct {
	RoomID string `json:"roomId"`
}

func (QueueJoin) Event() Event      { return EventQueueJoin }
func (QueueLeave) Event() Event     { return EventQueueLeave }
func (MessageSend) Event() Event    { return EventMessageSend }
func (SignalSend) Event() Event     { return EventSignalSend }
func (ChatNext) Event() Event       { return EventChatNext }
func (ChatDisconnect) Event() Event { return EventChatDisconnect }

func (QueueJoin) inbound()      {}
func (QueueLeave) inbound()     {}
func (MessageSend) inbound()    {}
func (Typing) inbound()         {}
func (SignalSend) inbound()     {}
func (ChatNext) inbound()       {}
func (ChatDisconnect) inbound() {}

func (t Typing) Event() Event {
	if t.Started {
		return EventTypingStart
	}
	return EventTypingStop
}

type QueueWaiting struct {
	Position int `json:"position"`
}

type MatchFound struct {
	RoomID      string `json:"roomId"`
	PeerID      string `json:"peerId"`
	IsInitiator bool   `json:"isInitiator"`
}

type MessageReceive struct {
	RoomID    string `json:"roomId"`
	Content   string `json:"content"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

type TypingUpdate struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type SignalReceive struct {
	RoomID string          `json:"roomId"`
	Type   SignalType      `json:"type"`
	Data   json.RawMessage `json:"data"`
}

type StrangerDisconnected struct {
	RoomID string `json:"roomId,omitempty"`
	Reason string `json:"reason"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Stats struct {
	Online   int `json:"online"`
	Waiting  int `json:"waiting"`
	Chatting int `json:"chatting"`
}

func (QueueWaiting) Event() Event         { return EventQueueWaiting }
func (MatchFound) Event() Event           { return EventMatchFound }
func (MessageReceive) Event() Event       { return EventMessageReceive }
func (TypingUpdate) Event() Event         { return EventTypingUpdate }
func (SignalReceive) Event() Event        { return EventSignalReceive }
func (StrangerDisconnected) Event() Event { return EventStrangerDisconnected }
func (Error) Event() Event                { return EventError }
func (Stats) Event() Event                { return EventStatsUpdate }

func (e Error) Error() string { return e.Code + ": " + e.Message }
