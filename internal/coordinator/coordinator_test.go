package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

type fakeSink struct {
	mu     sync.Mutex
	msgs   []protocol.Outbound
	limit  int
	kicked string
}

func (s *fakeSink) Send(msg protocol.Outbound) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.msgs) >= s.limit {
		return false
	}
	s.msgs = append(s.msgs, msg)
	return true
}

func (s *fakeSink) Kick(reason string) {
	s.mu.Lock()
	s.kicked = reason
	s.mu.Unlock()
}

// take returns and clears everything received so far.
func (s *fakeSink) take() []protocol.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.msgs
	s.msgs = nil
	return out
}

func only[T protocol.Outbound](msgs []protocol.Outbound) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func lastStats(t *testing.T, msgs []protocol.Outbound) protocol.Stats {
	t.Helper()
	stats := only[protocol.Stats](msgs)
	if len(stats) == 0 {
		t.Fatalf("no stats:update in %v", msgs)
	}
	return stats[len(stats)-1]
}

type harness struct {
	t     *testing.T
	c     *Coordinator
	sinks map[matchmaking.ConnID]*fakeSink
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, sinks: map[matchmaking.ConnID]*fakeSink{}, now: time.Unix(1_700_000_000, 0)}
	msgSeq, roomSeq := 0, 0
	h.c = New(Config{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics.New(),
		Now:     func() time.Time { return h.now },
		NewMessageID: func() string {
			msgSeq++
			return fmt.Sprintf("msg-%d", msgSeq)
		},
		Matchmaking: matchmaking.Config{
			HistoryCapacity: 10,
			NewRoomID: func() matchmaking.RoomID {
				roomSeq++
				return matchmaking.RoomID(fmt.Sprintf("room-%d", roomSeq))
			},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// do submits cmds and waits until the loop has applied them.
func (h *harness) do(cmds ...Command) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, cmd := range cmds {
		if err := h.c.Submit(ctx, cmd); err != nil {
			h.t.Fatalf("Submit: %v", err)
		}
	}
	if _, err := h.c.Snapshot(ctx); err != nil {
		h.t.Fatalf("Snapshot: %v", err)
	}
}

func (h *harness) connect(conns ...string) {
	h.t.Helper()
	for _, conn := range conns {
		s := &fakeSink{}
		h.sinks[matchmaking.ConnID(conn)] = s
		h.do(Connect{Conn: matchmaking.ConnID(conn), User: matchmaking.UserID("user-" + conn), Sink: s})
	}
}

func (h *harness) sink(conn string) *fakeSink { return h.sinks[matchmaking.ConnID(conn)] }

func (h *harness) drain() {
	for _, s := range h.sinks {
		s.take()
	}
}

func (h *harness) pair(a, b string) string {
	h.t.Helper()
	h.do(JoinQueue{Conn: matchmaking.ConnID(a)}, JoinQueue{Conn: matchmaking.ConnID(b)})
	found := only[protocol.MatchFound](h.sink(a).take())
	if len(found) != 1 {
		h.t.Fatalf("%s got %d match:found, want 1", a, len(found))
	}
	h.drain()
	return found[0].RoomID
}

func TestScenario_InterestOverlapMatch(t *testing.T) {
	h := newHarness(t)
	h.connect("x", "y")
	h.drain()

	h.do(JoinQueue{Conn: "x", Interests: []string{"music", "art"}})
	waiting := only[protocol.QueueWaiting](h.sink("x").take())
	if len(waiting) != 1 || waiting[0].Position != 1 {
		t.Fatalf("x queue:waiting=%v, want position 1", waiting)
	}

	h.do(JoinQueue{Conn: "y", Interests: []string{"art", "coding"}})
	fx := only[protocol.MatchFound](h.sink("x").take())
	fy := only[protocol.MatchFound](h.sink("y").take())
	if len(fx) != 1 || len(fy) != 1 {
		t.Fatalf("match:found x=%d y=%d, want 1 each", len(fx), len(fy))
	}
	if fx[0].RoomID != fy[0].RoomID {
		t.Fatalf("room ids differ: %q vs %q", fx[0].RoomID, fy[0].RoomID)
	}
	if fx[0].IsInitiator == fy[0].IsInitiator {
		t.Fatalf("isInitiator x=%v y=%v, want exactly one true", fx[0].IsInitiator, fy[0].IsInitiator)
	}
	if !fy[0].IsInitiator {
		t.Fatalf("the joining side should initiate")
	}
	if fx[0].PeerID != "user-y" || fy[0].PeerID != "user-x" {
		t.Fatalf("peer ids x=%q y=%q", fx[0].PeerID, fy[0].PeerID)
	}
}

func TestScenario_ThreeJoinInOrder(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b", "c")
	h.drain()

	h.do(JoinQueue{Conn: "a"}, JoinQueue{Conn: "b"}, JoinQueue{Conn: "c"})

	if len(only[protocol.MatchFound](h.sink("a").take())) != 1 {
		t.Fatalf("a was not matched")
	}
	if len(only[protocol.MatchFound](h.sink("b").take())) != 1 {
		t.Fatalf("b was not matched")
	}
	cmsgs := h.sink("c").take()
	if len(only[protocol.MatchFound](cmsgs)) != 0 {
		t.Fatalf("c was matched")
	}
	waiting := only[protocol.QueueWaiting](cmsgs)
	if len(waiting) != 1 || waiting[0].Position != 1 {
		t.Fatalf("c queue:waiting=%v, want position 1", waiting)
	}
	if got := lastStats(t, cmsgs); got != (protocol.Stats{Online: 3, Waiting: 1, Chatting: 2}) {
		t.Fatalf("stats=%+v", got)
	}
}

func TestScenario_RematchViaHistoryFallback(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b")
	first := h.pair("a", "b")

	h.do(Next{Conn: "a"})
	h.drain()
	h.do(JoinQueue{Conn: "a"}, JoinQueue{Conn: "b"})

	found := only[protocol.MatchFound](h.sink("b").take())
	if len(found) != 1 {
		t.Fatalf("expected rematch, got %d match:found", len(found))
	}
	if found[0].RoomID == first {
		t.Fatalf("rematch reused room %s", first)
	}
}

func TestScenario_UnexpectedDisconnect(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b", "q")
	h.pair("a", "b")
	h.do(JoinQueue{Conn: "q"})
	h.drain()

	snap, err := h.c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	before := snap.Stats
	h.do(Disconnect{Conn: "a"})

	msgs := h.sink("b").take()
	gone := only[protocol.StrangerDisconnected](msgs)
	if len(gone) != 1 || gone[0].Reason != protocol.ReasonDisconnect {
		t.Fatalf("b stranger_disconnected=%v, want one with reason disconnect", gone)
	}
	after := lastStats(t, msgs)
	if after.Chatting != before.Chatting-2 {
		t.Fatalf("chatting %d -> %d, want -2", before.Chatting, after.Chatting)
	}
	if after.Waiting != before.Waiting {
		t.Fatalf("waiting %d -> %d, want unchanged", before.Waiting, after.Waiting)
	}
	if after.Online != before.Online-1 {
		t.Fatalf("online %d -> %d, want -1", before.Online, after.Online)
	}
}

func TestNextNotifiesPartnerWithReason(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b")
	room := h.pair("a", "b")

	h.do(Next{Conn: "a"})
	gone := only[protocol.StrangerDisconnected](h.sink("b").take())
	if len(gone) != 1 || gone[0].Reason != protocol.ReasonNext || gone[0].RoomID != room {
		t.Fatalf("stranger_disconnected=%v, want reason next in %s", gone, room)
	}
	if len(only[protocol.StrangerDisconnected](h.sink("a").take())) != 0 {
		t.Fatalf("the leaving side was notified")
	}

	// A second next with no room is a no-op.
	h.do(Next{Conn: "a"})
	if msgs := h.sink("b").take(); len(msgs) != 0 {
		t.Fatalf("unexpected events after idempotent next: %v", msgs)
	}
}

func TestJoinWhileInRoomEndsRoomFirst(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b")
	h.pair("a", "b")

	h.do(JoinQueue{Conn: "a"})
	gone := only[protocol.StrangerDisconnected](h.sink("b").take())
	if len(gone) != 1 || gone[0].Reason != protocol.ReasonNext {
		t.Fatalf("b stranger_disconnected=%v", gone)
	}
	amsgs := h.sink("a").take()
	if w := only[protocol.QueueWaiting](amsgs); len(w) != 1 || w[0].Position != 1 {
		t.Fatalf("a queue:waiting=%v", w)
	}
	if got := lastStats(t, amsgs); got.Chatting != 0 || got.Waiting != 1 {
		t.Fatalf("stats=%+v", got)
	}
}

func TestEndChatRequiresMembership(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b", "c")
	room := h.pair("a", "b")

	h.do(EndChat{Conn: "c", RoomID: matchmaking.RoomID(room)})
	if msgs := h.sink("b").take(); len(msgs) != 0 {
		t.Fatalf("non-member ended the room: %v", msgs)
	}

	h.do(EndChat{Conn: "b", RoomID: matchmaking.RoomID(room)})
	gone := only[protocol.StrangerDisconnected](h.sink("a").take())
	if len(gone) != 1 || gone[0].Reason != protocol.ReasonDisconnect || gone[0].RoomID != room {
		t.Fatalf("a stranger_disconnected=%v", gone)
	}
	h.do(EndChat{Conn: "b", RoomID: matchmaking.RoomID(room)})
	if msgs := h.sink("a").take(); len(msgs) != 0 {
		t.Fatalf("second end was not a no-op: %v", msgs)
	}
}

func TestSendMessageRelaysSanitizedWithServerIDs(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b")
	room := h.pair("a", "b")

	h.do(SendMessage{Conn: "a", RoomID: matchmaking.RoomID(room), Content: "  <hi> & bye "})
	got := only[protocol.MessageReceive](h.sink("b").take())
	if len(got) != 1 {
		t.Fatalf("b got %d messages, want 1", len(got))
	}
	want := protocol.MessageReceive{
		RoomID:    room,
		Content:   "&lt;hi&gt; &amp; bye",
		MessageID: "msg-1",
		Timestamp: h.now.UnixMilli(),
	}
	if got[0] != want {
		t.Fatalf("message=%+v, want %+v", got[0], want)
	}
	if len(only[protocol.MessageReceive](h.sink("a").take())) != 0 {
		t.Fatalf("sender was echoed")
	}

	h.do(SendMessage{Conn: "a", RoomID: matchmaking.RoomID(room), Content: "   "})
	if msgs := h.sink("b").take(); len(msgs) != 0 {
		t.Fatalf("empty message was relayed: %v", msgs)
	}
}

func TestSendMessageOutsideRoomErrors(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b", "c")
	room := h.pair("a", "b")

	h.do(SendMessage{Conn: "c", RoomID: matchmaking.RoomID(room), Content: "hello"})
	errs := only[protocol.Error](h.sink("c").take())
	if len(errs) != 1 || errs[0].Code != protocol.CodeNotInRoom {
		t.Fatalf("c errors=%v, want NOT_IN_ROOM", errs)
	}
	if msgs := h.sink("b").take(); len(msgs) != 0 {
		t.Fatalf("intruder message reached b: %v", msgs)
	}
}

func TestTypingRelay(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b", "c")
	room := h.pair("a", "b")

	h.do(SetTyping{Conn: "a", RoomID: matchmaking.RoomID(room), Typing: true},
		SetTyping{Conn: "a", RoomID: matchmaking.RoomID(room), Typing: false},
		SetTyping{Conn: "c", RoomID: matchmaking.RoomID(room), Typing: true})

	got := only[protocol.TypingUpdate](h.sink("b").take())
	if len(got) != 2 || !got[0].IsTyping || got[1].IsTyping {
		t.Fatalf("typing updates=%v, want [true false]", got)
	}
	if msgs := h.sink("c").take(); len(msgs) != 0 {
		t.Fatalf("non-member typing produced events: %v", msgs)
	}
}

func TestRelaySignalPassesPayloadThrough(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b")
	room := h.pair("a", "b")

	data := json.RawMessage(`{"type":"offer","sdp":"v=0\r\nopaque","x":[1,{"y":null}]}`)
	h.do(RelaySignal{Conn: "a", RoomID: matchmaking.RoomID(room), Type: protocol.SignalOffer, Data: data})

	got := only[protocol.SignalReceive](h.sink("b").take())
	if len(got) != 1 {
		t.Fatalf("b got %d signals, want 1", len(got))
	}
	if string(got[0].Data) != string(data) || got[0].Type != protocol.SignalOffer || got[0].RoomID != room {
		t.Fatalf("signal=%+v", got[0])
	}
}

func TestRelaySignalDropsSilently(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b", "c")
	room := h.pair("a", "b")
	data := json.RawMessage(`{}`)

	h.do(
		RelaySignal{Conn: "c", RoomID: matchmaking.RoomID(room), Type: protocol.SignalOffer, Data: data},
		RelaySignal{Conn: "a", RoomID: "room-unknown", Type: protocol.SignalOffer, Data: data},
		RelaySignal{Conn: "a", RoomID: matchmaking.RoomID(room), Type: "bogus", Data: data},
	)
	for _, conn := range []string{"a", "b", "c"} {
		if msgs := h.sink(conn).take(); len(msgs) != 0 {
			t.Fatalf("%s received %v, want nothing", conn, msgs)
		}
	}
}

func TestSignalAfterTerminationIsDropped(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b")
	room := h.pair("a", "b")

	h.do(Next{Conn: "b"}, RelaySignal{Conn: "a", RoomID: matchmaking.RoomID(room), Type: protocol.SignalICECandidate, Data: json.RawMessage(`{"candidate":""}`)})
	if got := only[protocol.SignalReceive](h.sink("b").take()); len(got) != 0 {
		t.Fatalf("signal crossed a terminated room: %v", got)
	}
}

func TestLeaveQueue(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b")
	h.do(JoinQueue{Conn: "a"})
	h.drain()

	h.do(LeaveQueue{Conn: "a"})
	if got := lastStats(t, h.sink("b").take()); got.Waiting != 0 {
		t.Fatalf("waiting=%d after leave, want 0", got.Waiting)
	}
	h.do(LeaveQueue{Conn: "a"})
	if msgs := h.sink("b").take(); len(msgs) != 0 {
		t.Fatalf("no-op leave broadcast %v", msgs)
	}

	// b joins alone; a must not be picked after leaving.
	h.do(JoinQueue{Conn: "b"})
	if found := only[protocol.MatchFound](h.sink("b").take()); len(found) != 0 {
		t.Fatalf("b matched with a departed participant")
	}
}

func TestStatsBroadcastToEveryone(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b", "c")
	h.drain()

	h.do(JoinQueue{Conn: "a"})
	for _, conn := range []string{"a", "b", "c"} {
		got := lastStats(t, h.sink(conn).take())
		if got != (protocol.Stats{Online: 3, Waiting: 1, Chatting: 0}) {
			t.Fatalf("%s stats=%+v", conn, got)
		}
	}
}

func TestSlowConsumerIsKicked(t *testing.T) {
	h := newHarness(t)
	slow := &fakeSink{limit: 1}
	h.sinks["slow"] = slow
	h.do(Connect{Conn: "slow", User: "user-slow", Sink: slow})
	h.connect("other")

	slow.mu.Lock()
	kicked := slow.kicked
	slow.mu.Unlock()
	if kicked == "" {
		t.Fatalf("expected slow sink to be kicked")
	}
}

func TestSnapshotListsRooms(t *testing.T) {
	h := newHarness(t)
	h.connect("a", "b", "c")
	room := h.pair("a", "b")
	h.do(JoinQueue{Conn: "c"})

	h.now = h.now.Add(1500 * time.Millisecond)
	snap, err := h.c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Queue != 1 || len(snap.Rooms) != 1 {
		t.Fatalf("queue=%d rooms=%d, want 1,1", snap.Queue, len(snap.Rooms))
	}
	r := snap.Rooms[0]
	if r.ID != room || r.Duration != 1500 || len(r.Users) != 2 {
		t.Fatalf("room view=%+v", r)
	}
	if snap.Stats != (protocol.Stats{Online: 3, Waiting: 1, Chatting: 2}) {
		t.Fatalf("stats=%+v", snap.Stats)
	}
}

func TestUnknownConnectionIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.connect("a")
	h.drain()
	h.do(JoinQueue{Conn: "ghost"}, Disconnect{Conn: "ghost"}, Next{Conn: "ghost"})
	if msgs := h.sink("a").take(); len(msgs) != 0 {
		t.Fatalf("ghost commands produced events: %v", msgs)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	c := New(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := c.Submit(context.Background(), LeaveQueue{Conn: "x"}); err != ErrStopped {
		t.Fatalf("Submit err=%v, want ErrStopped", err)
	}
	if _, err := c.Snapshot(context.Background()); err != ErrStopped {
		t.Fatalf("Snapshot err=%v, want ErrStopped", err)
	}
}
