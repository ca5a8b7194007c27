package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeInbound_QueueJoinNormalizesInterests(t *testing.T) {
	frame := []byte(`{"event":"queue:join","data":{"interests":[" Music ","ART","music","", "coding"]}}`)
	msg, err := DecodeInbound(frame, DefaultLimits())
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	join, ok := msg.(QueueJoin)
	if !ok {
		t.Fatalf("msg=%T, want QueueJoin", msg)
	}
	want := []string{"music", "art", "coding"}
	if !reflect.DeepEqual(join.Interests, want) {
		t.Fatalf("interests=%v, want %v", join.Interests, want)
	}
}

func TestDecodeInbound_QueueJoinCapsInterestCount(t *testing.T) {
	tags := make([]string, 15)
	for i := range tags {
		tags[i] = string(rune('a' + i))
	}
	data, _ := json.Marshal(QueueJoin{Interests: tags})
	frame := []byte(`{"event":"queue:join","data":` + string(data) + `}`)

	msg, err := DecodeInbound(frame, DefaultLimits())
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if got := len(msg.(QueueJoin).Interests); got != DefaultMaxInterests {
		t.Fatalf("len(interests)=%d, want %d", got, DefaultMaxInterests)
	}
}

func TestDecodeInbound_EventsWithoutData(t *testing.T) {
	for _, frame := range []string{
		`{"event":"queue:join"}`,
		`{"event":"queue:leave"}`,
		`{"event":"chat:next","data":null}`,
		`{"event":"chat:next","data":{}}`,
	} {
		if _, err := DecodeInbound([]byte(frame), DefaultLimits()); err != nil {
			t.Fatalf("DecodeInbound(%s): %v", frame, err)
		}
	}
}

func TestDecodeInbound_Typing(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"event":"typing:start","data":{"roomId":"r1"}}`), DefaultLimits())
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	typing := msg.(Typing)
	if !typing.Started || typing.RoomID != "r1" {
		t.Fatalf("typing=%+v, want started in r1", typing)
	}
	if typing.Event() != EventTypingStart {
		t.Fatalf("event=%q, want %q", typing.Event(), EventTypingStart)
	}

	msg, err = DecodeInbound([]byte(`{"event":"typing:stop","data":{"roomId":"r1"}}`), DefaultLimits())
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if msg.(Typing).Started {
		t.Fatalf("typing:stop decoded as started")
	}
}

func TestDecodeInbound_SignalKeepsOpaqueData(t *testing.T) {
	raw := `{"type":"offer","sdp":"v=0\r\n","extra":{"nested":[1,2,3]}}`
	frame := []byte(`{"event":"signal:send","data":{"roomId":"r1","type":"offer","data":` + raw + `}}`)
	msg, err := DecodeInbound(frame, DefaultLimits())
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	sig := msg.(SignalSend)
	if string(sig.Data) != raw {
		t.Fatalf("data=%s, want %s", sig.Data, raw)
	}
}

func TestDecodeInbound_Rejects(t *testing.T) {
	cases := map[string]struct {
		frame     string
		wantEvent Event
		wantErr   error
	}{
		"not json":            {`{`, "", ErrInvalidPayload},
		"unknown event":       {`{"event":"admin:kick"}`, "", ErrUnknownEvent},
		"outbound event":      {`{"event":"match:found","data":{}}`, "", ErrUnknownEvent},
		"unknown field":       {`{"event":"chat:disconnect","data":{"roomId":"r","x":1}}`, EventChatDisconnect, ErrInvalidPayload},
		"trailing data":       {`{"event":"queue:leave"}{}`, "", ErrInvalidPayload},
		"bad signal type":     {`{"event":"signal:send","data":{"roomId":"r","type":"renegotiate","data":{}}}`, EventSignalSend, ErrInvalidPayload},
		"signal without data": {`{"event":"signal:send","data":{"roomId":"r","type":"offer"}}`, EventSignalSend, ErrInvalidPayload},
		"missing room":        {`{"event":"message:send","data":{"content":"hi"}}`, EventMessageSend, ErrInvalidPayload},
		"long room":           {`{"event":"typing:start","data":{"roomId":"` + strings.Repeat("r", 200) + `"}}`, EventTypingStart, ErrInvalidPayload},
		"wrong shape":         {`{"event":"queue:join","data":{"interests":"music"}}`, EventQueueJoin, ErrInvalidPayload},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(tc.frame), DefaultLimits())
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v, want %v", err, tc.wantErr)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err=%T, want *DecodeError", err)
			}
			if de.Event != tc.wantEvent {
				t.Fatalf("event=%q, want %q", de.Event, tc.wantEvent)
			}
		})
	}
}

func TestEncodeThenDecodeOutbound(t *testing.T) {
	frame, err := Encode(MatchFound{RoomID: "r1", PeerID: "u2", IsInitiator: true})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := `{"event":"match:found","data":{"roomId":"r1","peerId":"u2","isInitiator":true}}`; string(frame) != want {
		t.Fatalf("frame=%s, want %s", frame, want)
	}

	out, err := DecodeOutbound(frame)
	if err != nil {
		t.Fatalf("DecodeOutbound: %v", err)
	}
	mf, ok := out.(MatchFound)
	if !ok || !mf.IsInitiator || mf.PeerID != "u2" {
		t.Fatalf("out=%#v", out)
	}
}

func TestEncode_StrangerDisconnectedOmitsEmptyRoom(t *testing.T) {
	frame, err := Encode(StrangerDisconnected{Reason: ReasonDisconnect})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := `{"event":"chat:stranger_disconnected","data":{"reason":"disconnect"}}`; string(frame) != want {
		t.Fatalf("frame=%s, want %s", frame, want)
	}
}

func TestDecodeOutbound_UnknownEvent(t *testing.T) {
	_, err := DecodeOutbound([]byte(`{"event":"queue:join","data":{}}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("err=%v, want ErrUnknownEvent", err)
	}
}

func TestEventSetsAreDisjoint(t *testing.T) {
	for ev := range inboundEvents {
		if ev.IsOutbound() {
			t.Fatalf("%q is both inbound and outbound", ev)
		}
	}
	if len(inboundEvents) != 8 || len(outboundEvents) != 8 {
		t.Fatalf("inbound=%d outbound=%d, want 8 each", len(inboundEvents), len(outboundEvents))
	}
}
