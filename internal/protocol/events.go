package protocol

// Event names one message kind on the duplex channel.
type Event string

// Client to coordinator.
const (
	EventQueueJoin      Event = "queue:join"
	EventQueueLeave     Event = "queue:leave"
	EventMessageSend    Event = "message:send"
	EventTypingStart    Event = "typing:start"
	EventTypingStop     Event = "typing:stop"
	EventSignalSend     Event = "signal:send"
	EventChatNext       Event = "chat:next"
	EventChatDisconnect Event = "chat:disconnect"
)

// Coordinator to client.
const (
	EventQueueWaiting         Event = "queue:waiting"
	EventMatchFound           Event = "match:found"
	EventMessageReceive       Event = "message:receive"
	EventTypingUpdate         Event = "typing:update"
	EventSignalReceive        Event = "signal:receive"
	EventStrangerDisconnected Event = "chat:stranger_disconnected"
	EventError                Event = "error"
	EventStatsUpdate          Event = "stats:update"
)

var inboundEvents = map[Event]bool{
	EventQueueJoin:      true,
	EventQueueLeave:     true,
	EventMessageSend:    true,
	EventTypingStart:    true,
	EventTypingStop:     true,
	EventSignalSend:     true,
	EventChatNext:       true,
	EventChatDisconnect: true,
}

var outboundEvents = map[Event]bool{
	EventQueueWaiting:         true,
	EventMatchFound:           true,
	EventMessageReceive:       true,
	EventTypingUpdate:         true,
	EventSignalReceive:        true,
	EventStrangerDisconnected: true,
	EventError:                true,
	EventStatsUpdate:          true,
}

// IsInbound reports whether clients may send e.
func (e Event) IsInbound() bool { return inboundEvents[e] }

// IsOutbound reports whether the coordinator may send e.
func (e Event) IsOutbound() bool { return outboundEvents[e] }

// SignalType is the kind of negotiation payload carried by a signal event.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	default:
		return false
	}
}

// Error codes carried by the error event.
const (
	CodeRateLimit        = "RATE_LIMIT"
	CodeNotInRoom        = "NOT_IN_ROOM"
	CodeQueueError       = "QUEUE_ERROR"
	CodeBadMessage       = "BAD_MESSAGE"
	CodeOriginNotAllowed = "ORIGIN_NOT_ALLOWED"
	CodeInternal         = "INTERNAL"
)

// Reasons carried by chat:stranger_disconnected.
const (
	ReasonNext       = "next"
	ReasonDisconnect = "disconnect"
)
