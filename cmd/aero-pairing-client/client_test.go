package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

func withFlags(t *testing.T, server, apiKey string) {
	t.Helper()
	prevServer, prevKey := flagServer, flagAPIKey
	flagServer, flagAPIKey = server, apiKey
	t.Cleanup(func() {
		flagServer, flagAPIKey = prevServer, prevKey
	})
}

func TestEndpoint(t *testing.T) {
	cases := []struct {
		server string
		path   string
		want   string
	}{
		{"http://127.0.0.1:3001", "/health", "http://127.0.0.1:3001/health"},
		{"127.0.0.1:3001/", "/ws", "http://127.0.0.1:3001/ws"},
		{"wss://pairing.example.com/ws", "/ws", "https://pairing.example.com/ws"},
		{"https://example.com/pairing", "/admin/rooms", "https://example.com/pairing/admin/rooms"},
	}
	for _, tc := range cases {
		withFlags(t, tc.server, "")
		got, err := endpoint(tc.path)
		if err != nil {
			t.Fatalf("endpoint(%q, %q): %v", tc.server, tc.path, err)
		}
		if got != tc.want {
			t.Fatalf("endpoint(%q, %q)=%q, want %q", tc.server, tc.path, got, tc.want)
		}
	}
}

func TestUsableICEServers_DropsTURNWithoutCredentials(t *testing.T) {
	in := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"turn:turn.example.com:3478"}},
		{URLs: []string{"turns:turn.example.com:5349"}, Username: "u", Credential: "p"},
	}
	got := usableICEServers(in)
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2 (%#v)", len(got), got)
	}
	if got[1].Username != "u" {
		t.Fatalf("kept the wrong TURN entry: %#v", got[1])
	}
}

func TestGetJSON_SendsAPIKeyAndReportsErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"invalid credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"rooms":[{"id":"r1","users":["a","b"],"createdAt":0,"duration":1500}],"queue":3}`))
	}))
	defer ts.Close()

	var body struct {
		Rooms []coordinator.RoomView `json:"rooms"`
		Queue int                    `json:"queue"`
	}

	withFlags(t, ts.URL, "wrong")
	err := getJSON(context.Background(), "/admin/rooms", &body)
	if err == nil || !strings.Contains(err.Error(), "401 invalid credentials") {
		t.Fatalf("err=%v, want 401 invalid credentials", err)
	}

	withFlags(t, ts.URL, "secret")
	if err := getJSON(context.Background(), "/admin/rooms", &body); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if len(body.Rooms) != 1 || body.Queue != 3 {
		t.Fatalf("body=%+v, want one room and queue 3", body)
	}

	var out bytes.Buffer
	renderRooms(&out, body.Rooms, body.Queue)
	for _, want := range []string{"r1", "2s", "Queue 3"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("rooms table missing %q:\n%s", want, out.String())
		}
	}
}

func TestRenderStats(t *testing.T) {
	var out bytes.Buffer
	renderStats(&out, protocol.Stats{Online: 5, Waiting: 1, Chatting: 4})
	for _, want := range []string{"Online", "5", "Waiting", "Chatting", "4"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("stats table missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrintEvent_UnescapesStrangerMessages(t *testing.T) {
	var out bytes.Buffer
	tr := &transcript{out: &out}
	printEvent(tr, protocol.MessageReceive{Content: "a &lt;b&gt; &amp; c"})
	if !strings.Contains(out.String(), "a <b> & c") {
		t.Fatalf("transcript=%q, want unescaped content", out.String())
	}
}
