package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCoordinatorServer(t *testing.T) string {
	t.Helper()
	coord := coordinator.New(coordinator.Config{Logger: discardLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = coord.Run(ctx) }()
	t.Cleanup(cancel)

	srv := signaling.NewServer(signaling.Config{Coordinator: coord, Logger: discardLogger()})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + signaling.Path
}

type participant struct {
	chat   *Chat
	events chan protocol.Outbound
	states chan negotiation.State
}

func join(t *testing.T, url string, cfg ChatConfig) *participant {
	t.Helper()
	conn, err := Dial(context.Background(), Options{URL: url, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	p := &participant{
		events: make(chan protocol.Outbound, 256),
		states: make(chan negotiation.State, 32),
	}
	cfg.Conn = conn
	cfg.Logger = discardLogger()
	cfg.OnEvent = func(msg protocol.Outbound) { p.events <- msg }
	cfg.OnState = func(st negotiation.State) {
		select {
		case p.states <- st:
		default:
		}
	}
	p.chat = NewChat(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.chat.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	if err := p.chat.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	return p
}

func waitFor[T protocol.Outbound](t *testing.T, p *participant) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-p.events:
			if v, ok := msg.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %s", zero.Event())
		}
	}
}

func waitState(t *testing.T, p *participant, want negotiation.State) {
	t.Helper()
	timeout := time.After(15 * time.Second)
	for {
		select {
		case st := <-p.states:
			if st == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func newVNetAPIs(t *testing.T) (*webrtc.API, *webrtc.API) {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	var apis []*webrtc.API
	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
		if err != nil {
			t.Fatalf("new net %s: %v", ip, err)
		}
		if err := router.AddNet(n); err != nil {
			t.Fatalf("add net %s: %v", ip, err)
		}
		api, err := negotiation.NewAPI(negotiation.APIConfig{Net: n})
		if err != nil {
			t.Fatalf("new api: %v", err)
		}
		apis = append(apis, api)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	return apis[0], apis[1]
}

func TestChat_MatchNegotiatesAndRelaysMessages(t *testing.T) {
	url := newCoordinatorServer(t)
	apiA, apiB := newVNetAPIs(t)

	a := join(t, url, ChatConfig{Interests: []string{"music"}, API: apiA, Media: negotiation.NoDevices{}})
	if w := waitFor[protocol.QueueWaiting](t, a); w.Position != 1 {
		t.Fatalf("position=%d, want 1", w.Position)
	}
	b := join(t, url, ChatConfig{Interests: []string{"music"}, API: apiB, Media: negotiation.SyntheticSource{Audio: true}})

	mb := waitFor[protocol.MatchFound](t, b)
	ma := waitFor[protocol.MatchFound](t, a)
	if ma.IsInitiator == mb.IsInitiator {
		t.Fatalf("initiator flags a=%v b=%v, want exactly one", ma.IsInitiator, mb.IsInitiator)
	}
	if a.chat.RoomID() != ma.RoomID || b.chat.RoomID() != ma.RoomID {
		t.Fatalf("room ids a=%q b=%q, want %q", a.chat.RoomID(), b.chat.RoomID(), ma.RoomID)
	}

	waitState(t, a, negotiation.StateConnected)
	waitState(t, b, negotiation.StateConnected)
	if !errors.Is(a.chat.Session().MediaError(), negotiation.ErrNoDevice) {
		t.Fatalf("a media error=%v, want ErrNoDevice", a.chat.Session().MediaError())
	}

	sent, err := a.chat.SendMessage("hi <b>")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	got := waitFor[protocol.MessageReceive](t, b)
	if got.Content != "hi &lt;b&gt;" || got.RoomID != sent.RoomID {
		t.Fatalf("received %+v, want escaped content in %s", got, sent.RoomID)
	}
}

// heldMedia blocks Acquire until released.
type heldMedia struct {
	entered chan struct{}
	release chan struct{}
}

func (h heldMedia) Acquire(ctx context.Context) (*negotiation.LocalMedia, error) {
	select {
	case h.entered <- struct{}{}:
	default:
	}
	select {
	case <-h.release:
		return nil, negotiation.ErrNoDevice
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestChat_MediaAcquisitionDoesNotStallEvents(t *testing.T) {
	url := newCoordinatorServer(t)
	apiA, apiB := newVNetAPIs(t)
	media := heldMedia{entered: make(chan struct{}, 1), release: make(chan struct{})}

	a := join(t, url, ChatConfig{API: apiA, Media: media})
	waitFor[protocol.QueueWaiting](t, a)
	b := join(t, url, ChatConfig{API: apiB, Media: negotiation.NoDevices{}})
	waitFor[protocol.MatchFound](t, b)
	waitFor[protocol.MatchFound](t, a)

	select {
	case <-media.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("media acquisition never started")
	}

	// a is still waiting on its devices.
	if _, err := b.chat.SendMessage("hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := waitFor[protocol.MessageReceive](t, a); got.Content != "hello" {
		t.Fatalf("received %q, want hello", got.Content)
	}
	if err := b.chat.Typing(); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if u := waitFor[protocol.TypingUpdate](t, a); !u.IsTyping {
		t.Fatalf("typing update=%+v, want isTyping", u)
	}

	close(media.release)
	waitState(t, a, negotiation.StateConnected)
	waitState(t, b, negotiation.StateConnected)
	if !errors.Is(a.chat.Session().MediaError(), negotiation.ErrNoDevice) {
		t.Fatalf("a media error=%v, want ErrNoDevice", a.chat.Session().MediaError())
	}
}

func TestChat_NextRequeuesAndNotifiesPartner(t *testing.T) {
	url := newCoordinatorServer(t)

	a := join(t, url, ChatConfig{})
	waitFor[protocol.QueueWaiting](t, a)
	b := join(t, url, ChatConfig{})
	m := waitFor[protocol.MatchFound](t, b)
	waitFor[protocol.MatchFound](t, a)

	if err := a.chat.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if a.chat.Session() != nil || a.chat.RoomID() != "" {
		t.Fatalf("a still holds room %q after Next", a.chat.RoomID())
	}
	sd := waitFor[protocol.StrangerDisconnected](t, b)
	if sd.Reason != protocol.ReasonNext || sd.RoomID != m.RoomID {
		t.Fatalf("stranger disconnected=%+v, want reason next in %s", sd, m.RoomID)
	}
	if w := waitFor[protocol.QueueWaiting](t, a); w.Position != 1 {
		t.Fatalf("position=%d, want 1", w.Position)
	}
	if b.chat.Session() != nil {
		t.Fatalf("b session survived partner leaving")
	}
	if _, err := b.chat.SendMessage("anyone?"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("send err=%v, want ErrNotInRoom", err)
	}
}

func TestChat_DisconnectInRoom(t *testing.T) {
	url := newCoordinatorServer(t)

	a := join(t, url, ChatConfig{})
	waitFor[protocol.QueueWaiting](t, a)
	b := join(t, url, ChatConfig{})
	waitFor[protocol.MatchFound](t, b)
	waitFor[protocol.MatchFound](t, a)

	if err := b.chat.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	sd := waitFor[protocol.StrangerDisconnected](t, a)
	if sd.Reason != protocol.ReasonDisconnect {
		t.Fatalf("reason=%q, want %q", sd.Reason, protocol.ReasonDisconnect)
	}

	// Not in a room any more, so this leaves the queue instead.
	if err := a.chat.Join(); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	waitFor[protocol.QueueWaiting](t, a)
	for waitFor[protocol.Stats](t, a).Waiting != 1 {
	}
	if err := a.chat.Disconnect(); err != nil {
		t.Fatalf("disconnect from queue: %v", err)
	}
	for waitFor[protocol.Stats](t, a).Waiting != 0 {
	}
	if got := a.chat.Stats(); got.Chatting != 0 {
		t.Fatalf("chatting=%d, want 0", got.Chatting)
	}
}

func TestChat_TypingStopsAutomatically(t *testing.T) {
	url := newCoordinatorServer(t)

	a := join(t, url, ChatConfig{TypingTimeout: 50 * time.Millisecond})
	waitFor[protocol.QueueWaiting](t, a)
	b := join(t, url, ChatConfig{})
	waitFor[protocol.MatchFound](t, b)
	waitFor[protocol.MatchFound](t, a)

	if err := a.chat.Typing(); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if err := a.chat.Typing(); err != nil {
		t.Fatalf("typing again: %v", err)
	}
	if u := waitFor[protocol.TypingUpdate](t, b); !u.IsTyping {
		t.Fatalf("first typing update=%+v, want isTyping", u)
	}
	if u := waitFor[protocol.TypingUpdate](t, b); u.IsTyping {
		t.Fatalf("second typing update=%+v, want stop", u)
	}
}

func TestDial_ConnectionLimitRejects(t *testing.T) {
	coord := coordinator.New(coordinator.Config{Logger: discardLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = coord.Run(ctx) }()
	srv := signaling.NewServer(signaling.Config{
		Coordinator:     coord,
		Logger:          discardLogger(),
		ConnectionLimit: signaling.Limit{Max: 1, Window: time.Minute},
	})
	defer srv.Close()
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()
	url := ts.URL + signaling.Path

	first, err := Dial(ctx, Options{URL: url, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()

	second, err := Dial(ctx, Options{URL: url, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()

	var rejected bool
	for msg := range second.Events() {
		if e, ok := msg.(protocol.Error); ok && e.Code == protocol.CodeRateLimit {
			rejected = true
		}
	}
	if !rejected {
		t.Fatalf("second connection was not rejected")
	}
	if second.Err() == nil {
		t.Fatalf("Err()=nil, want policy violation close")
	}
	if err := second.Send(protocol.QueueLeave{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close err=%v, want ErrClosed", err)
	}
}
