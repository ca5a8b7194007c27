package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrUnknownEvent   = errors.New("protocol: unknown event")
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

const (
	DefaultMaxInterests     = 10
	DefaultMaxInterestRunes = 32
	DefaultMaxRoomIDBytes   = 128
)

// Limits bounds inbound payloads at decode time.
type Limits struct {
	MaxInterests     int
	MaxInterestRunes int
	MaxRoomIDBytes   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxInterests:     DefaultMaxInterests,
		MaxInterestRunes: DefaultMaxInterestRunes,
		MaxRoomIDBytes:   DefaultMaxRoomIDBytes,
	}
}

// DecodeError reports a frame that failed boundary validation. Event is set
// when the envelope itself parsed and named a known inbound event.
type DecodeError struct {
	Event Event
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Event == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Event Event `json:"event"`
	Data  any   `json:"data"`
}

// Encode serialises a payload into a single envelope frame.
func Encode(msg interface{ Event() Event }) ([]byte, error) {
	return json.Marshal(outEnvelope{Event: msg.Event(), Data: msg})
}

// DecodeInbound parses and validates one client frame.
func DecodeInbound(frame []byte, lim Limits) (Inbound, error) {
	var env envelope
	if err := decodeStrict(frame, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
	}
	if !env.Event.IsInbound() {
		return nil, &DecodeError{Err: fmt.Errorf("%w %q", ErrUnknownEvent, env.Event)}
	}

	msg, err := decodeInboundData(env.Event, env.Data, lim)
	if err != nil {
		return nil, &DecodeError{Event: env.Event, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
	}
	return msg, nil
}

func decodeInboundData(ev Event, data json.RawMessage, lim Limits) (Inbound, error) {
	switch ev {
	case EventQueueJoin:
		var p QueueJoin
		if err := decodeStrictOptional(data, &p); err != nil {
			return nil, err
		}
		p.Interests = NormalizeInterests(p.Interests, lim.MaxInterests, lim.MaxInterestRunes)
		return p, nil

	case EventQueueLeave:
		if err := decodeStrictOptional(data, &struct{}{}); err != nil {
			return nil, err
		}
		return QueueLeave{}, nil

	case EventChatNext:
		if err := decodeStrictOptional(data, &struct{}{}); err != nil {
			return nil, err
		}
		return ChatNext{}, nil

	case EventMessageSend:
		var p MessageSend
		if err := decodeStrict(data, &p); err != nil {
			return nil, err
		}
		if err := validRoomID(p.RoomID, lim); err != nil {
			return nil, err
		}
		return p, nil

	case EventTypingStart, EventTypingStop:
		var p Typing
		if err := decodeStrict(data, &p); err != nil {
			return nil, err
		}
		if err := validRoomID(p.RoomID, lim); err != nil {
			return nil, err
		}
		p.Started = ev == EventTypingStart
		return p, nil

	case EventSignalSend:
		var p SignalSend
		if err := decodeStrict(data, &p); err != nil {
			return nil, err
		}
		if !p.Type.Valid() {
			return nil, fmt.Errorf("unsupported signal type %q", p.Type)
		}
		if err := validRoomID(p.RoomID, lim); err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(p.Data)) == 0 || bytes.Equal(bytes.TrimSpace(p.Data), []byte("null")) {
			return nil, errors.New("signal missing data")
		}
		return p, nil

	case EventChatDisconnect:
		var p ChatDisconnect
		if err := decodeStrict(data, &p); err != nil {
			return nil, err
		}
		if err := validRoomID(p.RoomID, lim); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownEvent, ev)
}

// DecodeOutbound parses a coordinator frame on the client side. Unknown
// fields are tolerated so older clients keep working against newer servers.
func DecodeOutbound(frame []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var out Outbound
	switch env.Event {
	case EventQueueWaiting:
		out = &QueueWaiting{}
	case EventMatchFound:
		out = &MatchFound{}
	case EventMessageReceive:
		out = &MessageReceive{}
	case EventTypingUpdate:
		out = &TypingUpdate{}
	case EventSignalReceive:
		out = &SignalReceive{}
	case EventStrangerDisconnected:
		out = &StrangerDisconnected{}
	case EventError:
		out = &Error{}
	case EventStatsUpdate:
		out = &Stats{}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEvent, env.Event)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", env.Event, ErrInvalidPayload, err)
		}
	}
	return deref(out), nil
}

func deref(out Outbound) Outbound {
	switch v := out.(type) {
	case *QueueWaiting:
		return *v
	case *MatchFound:
		return *v
	case *MessageReceive:
		return *v
	case *TypingUpdate:
		return *v
	case *SignalReceive:
		return *v
	case *StrangerDisconnected:
		return *v
	case *Error:
		return *v
	case *Stats:
		return *v
	}
	return out
}

// NormalizeInterests lowercases and trims tags, drops empties and
// duplicates, and keeps at most max of them in their original order.
func NormalizeInterests(raw []string, max, maxRunes int) []string {
	if len(raw) == 0 {
		return nil
	}
	if max <= 0 {
		max = DefaultMaxInterests
	}
	out := make([]string, 0, min(len(raw), max))
	seen := make(map[string]struct{}, len(raw))
	for _, tag := range raw {
		if len(out) == max {
			break
		}
		tag = strings.ToLower(strings.TrimSpace(tag))
		if maxRunes > 0 {
			tag = truncateRunes(tag, maxRunes)
		}
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func validRoomID(id string, lim Limits) error {
	if id == "" {
		return errors.New("missing roomId")
	}
	max := lim.MaxRoomIDBytes
	if max <= 0 {
		max = DefaultMaxRoomIDBytes
	}
	if len(id) > max {
		return fmt.Errorf("roomId longer than %d bytes", max)
	}
	return nil
}

func decodeStrictOptional(data json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return decodeStrict(trimmed, v)
}

func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("missing data")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}
