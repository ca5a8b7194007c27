package signaling

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

const wsWriteWait = 1 * time.Second

// wsConn is the coordinator's Sink for one socket. The write pump is the only
// goroutine writing data frames; close frames go through WriteControl, which
// gorilla allows concurrently.
type wsConn struct {
	id   matchmaking.ConnID
	user matchmaking.UserID
	ws   *websocket.Conn
	srv  *Server

	out  chan protocol.Outbound
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newWSConn(srv *Server, ws *websocket.Conn, id matchmaking.ConnID, user matchmaking.UserID, queue int) *wsConn {
	return &wsConn{
		id:   id,
		user: user,
		ws:   ws,
		srv:  srv,
		out:  make(chan protocol.Outbound, queue),
		done: make(chan struct{}),
	}
}

// Send queues msg without blocking. Events for a connection that is already
// going away are discarded.
func (c *wsConn) Send(msg protocol.Outbound) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

func (c *wsConn) Kick(reason string) {
	c.shutdown(websocket.ClosePolicyViolation, reason)
}

func (c *wsConn) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// reply queues a transport-level event; a full queue kicks the connection.
func (c *wsConn) reply(msg protocol.Outbound) {
	if !c.Send(msg) {
		c.srv.metrics.Dropped("slow_consumer")
		c.Kick("slow consumer")
	}
}

func (c *wsConn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				c.shutdown(websocket.CloseInternalServerErr, "")
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(websocket.CloseGoingAway, "")
				_ = c.ws.Close()
				return
			}
		case <-c.done:
			// Flush what is already queued so a final error event lands
			// before the close frame.
			c.drain()
			writeClose(c.ws, c.closeCode, c.closeReason)
			_ = c.ws.Close()
			return
		}
	}
}

func (c *wsConn) drain() {
	for {
		select {
		case msg := <-c.out:
			if c.write(msg) != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(msg protocol.Outbound) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.srv.log.Error("encode outbound event", "conn_id", c.id, "event", msg.Event(), "err", err)
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
