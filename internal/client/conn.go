package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

var ErrClosed = errors.New("client: connection closed")

const (
	writeWait        = 10 * time.Second
	maxMessageSize   = 64 * 1024
	defaultSendQueue = 64
)

type Options struct {
	// URL is the coordinator WebSocket endpoint, e.g. ws://127.0.0.1:3001/ws.
	URL string
	// Origin is sent as the Origin header when set.
	Origin string
	// UserID keeps partner history across reconnects. Empty lets the
	// coordinator assign one.
	UserID    string
	Dialer    *websocket.Dialer
	Logger    *slog.Logger
	SendQueue int
}

// Conn is one participant connection to the coordinator.
type Conn struct {
	ws       *websocket.Conn
	log      *slog.Logger
	incoming chan protocol.Outbound
	outgoing chan []byte
	done     chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func Dial(ctx context.Context, opts Options) (*Conn, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if opts.UserID != "" {
		q := u.Query()
		q.Set("userId", opts.UserID)
		u.RawQuery = q.Encode()
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if opts.Origin != "" {
		header.Set("Origin", opts.Origin)
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queue := opts.SendQueue
	if queue <= 0 {
		queue = defaultSendQueue
	}
	c := &Conn{
		ws:       ws,
		log:      logger,
		incoming: make(chan protocol.Outbound, queue),
		outgoing: make(chan []byte, queue),
		done:     make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)

	go c.readPump()
	go c.writePump()
	return c, nil
}

// readPump decodes coordinator events until the socket fails. Unknown
// events are skipped.
func (c *Conn) readPump() {
	defer func() {
		c.shutdown(nil)
		close(c.incoming)
	}()

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		msg, err := protocol.DecodeOutbound(frame)
		if err != nil {
			c.log.Debug("skipping coordinator frame", "err", err)
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump owns every write to the socket. Pings from the coordinator are
// answered by the default ping handler.
func (c *Conn) writePump() {
	defer c.ws.Close()
	for {
		select {
		case frame := <-c.outgoing:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues one event for the coordinator.
func (c *Conn) Send(msg protocol.Inbound) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Events delivers coordinator events in arrival order. It is closed when
// the connection ends.
func (c *Conn) Events() <-chan protocol.Outbound { return c.incoming }

func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. A close initiated by Close yields
// nil.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
		}
		close(c.done)
		// Unblock readPump.
		_ = c.ws.SetReadDeadline(time.Now())
	})
}

// roomSignaler relays negotiation payloads to the partner in one room.
type roomSignaler struct {
	conn   *Conn
	roomID string
}

func (s roomSignaler) SendSignal(ctx context.Context, typ protocol.SignalType, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return s.conn.Send(protocol.SignalSend{RoomID: s.roomID, Type: typ, Data: raw})
}
