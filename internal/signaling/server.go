package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/ratelimit"
)

const (
	DefaultMaxMessageBytes    = int64(64 * 1024)
	DefaultMaxFramesPerSecond = 50
	DefaultIdleTimeout        = 20 * time.Second
	DefaultPingInterval       = 10 * time.Second
	DefaultSendQueue          = 256

	// Path is where the duplex event channel is served.
	Path = "/ws"

	disconnectSubmitTimeout = 5 * time.Second

	msgTooManyConnections = "Too many connections. Please try again later."
	msgTooManyMessages    = "You are sending messages too fast."
	msgOriginNotAllowed   = "Origin not allowed."
)

// Submitter is the part of the coordinator the transport drives.
type Submitter interface {
	Submit(ctx context.Context, cmd coordinator.Command) error
}

// Limit is a fixed-window budget; Max <= 0 disables it.
type Limit struct {
	Max    int
	Window time.Duration
}

type Config struct {
	Coordinator Submitter
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Clock       ratelimit.Clock

	Origins           origin.Policy
	TrustProxyHeaders bool

	// ConnectionLimit bounds new connections per client address.
	ConnectionLimit Limit
	// MessageLimit bounds message:send events per connection.
	MessageLimit Limit

	Limits             protocol.Limits
	MaxMessageBytes    int64
	MaxFramesPerSecond int
	IdleTimeout        time.Duration
	PingInterval       time.Duration
	SendQueue          int
}

// Server accepts duplex channel connections.
type Server struct {
	coord   Submitter
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	origins    origin.Policy
	trustProxy bool

	connLimiter *ratelimit.KeyedLimiter
	msgLimiter  *ratelimit.KeyedLimiter

	limits             protocol.Limits
	maxMessageBytes    int64
	maxFramesPerSecond int
	idleTimeout        time.Duration
	pingInterval       time.Duration
	sendQueue          int

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	if cfg.Limits == (protocol.Limits{}) {
		cfg.Limits = protocol.DefaultLimits()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 2
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}

	s := &Server{
		coord:              cfg.Coordinator,
		log:                cfg.Logger,
		metrics:            cfg.Metrics,
		clock:              cfg.Clock,
		origins:            cfg.Origins,
		trustProxy:         cfg.TrustProxyHeaders,
		limits:             cfg.Limits,
		maxMessageBytes:    cfg.MaxMessageBytes,
		maxFramesPerSecond: cfg.MaxFramesPerSecond,
		idleTimeout:        cfg.IdleTimeout,
		pingInterval:       cfg.PingInterval,
		sendQueue:          cfg.SendQueue,
		conns:              make(map[*wsConn]struct{}),
	}
	if cfg.ConnectionLimit.Max > 0 {
		s.connLimiter = ratelimit.NewKeyedLimiter(ratelimit.KeyedLimiterConfig{
			Clock:  cfg.Clock,
			Limit:  cfg.ConnectionLimit.Max,
			Window: cfg.ConnectionLimit.Window,
		})
	}
	if cfg.MessageLimit.Max > 0 {
		s.msgLimiter = ratelimit.NewKeyedLimiter(ratelimit.KeyedLimiterConfig{
			Clock:  cfg.Clock,
			Limit:  cfg.MessageLimit.Max,
			Window: cfg.MessageLimit.Window,
		})
	}
	s.upgrader = websocket.Upgrader{
		// The Origin policy runs before the upgrade in ServeHTTP.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+Path, s.ServeHTTP)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := s.log.With("remote_addr", r.RemoteAddr)

	if originHeader := r.Header.Get("Origin"); !s.origins.Check(originHeader, r.Host) {
		log.Warn("rejected connection from disallowed origin", "origin", originHeader)
		s.metrics.Dropped("origin")
		writeHTTPError(w, http.StatusForbidden, protocol.Error{Code: protocol.CodeOriginNotAllowed, Message: msgOriginNotAllowed})
		return
	}

	key := clientKey(r, s.trustProxy)
	admitted := s.connLimiter == nil || s.connLimiter.Allow(key)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if !admitted {
		log.Warn("connection rate limit exceeded", "client", key)
		s.metrics.RateLimited(metrics.LimiterConnection)
		rejectConnection(ws, protocol.Error{Code: protocol.CodeRateLimit, Message: msgTooManyConnections})
		return
	}

	user := matchmaking.UserID(r.URL.Query().Get("userId"))
	if _, err := uuid.Parse(string(user)); err != nil {
		user = matchmaking.UserID(uuid.NewString())
	}
	c := newWSConn(s, ws, matchmaking.ConnID(uuid.NewString()), user, s.sendQueue)

	if !s.track(c) {
		writeClose(ws, websocket.CloseGoingAway, "server shutting down")
		_ = ws.Close()
		return
	}
	defer s.untrack(c)

	if err := s.coord.Submit(r.Context(), coordinator.Connect{Conn: c.id, User: c.user, Sink: c}); err != nil {
		writeClose(ws, websocket.CloseGoingAway, "server shutting down")
		_ = ws.Close()
		return
	}
	log = log.With("conn_id", c.id, "user_id", c.user)
	log.Debug("connection opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(s.pingInterval)
	}()

	reason := s.readPump(c, log)
	c.shutdown(websocket.CloseNormalClosure, reason)
	<-writerDone

	ctx, cancel := context.WithTimeout(context.Background(), disconnectSubmitTimeout)
	defer cancel()
	if err := s.coord.Submit(ctx, coordinator.Disconnect{Conn: c.id}); err != nil && !errors.Is(err, coordinator.ErrStopped) {
		log.Warn("failed to submit disconnect", "err", err)
	}
	if s.msgLimiter != nil {
		s.msgLimiter.Forget(string(c.id))
	}
	log.Debug("connection closed", "reason", reason)
}

// readPump decodes frames until the socket fails or the connection is
// kicked. The returned reason ends up in the close frame.
func (s *Server) readPump(c *wsConn, log *slog.Logger) string {
	c.ws.SetReadLimit(s.maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.idleTimeout))
	})

	flood := ratelimit.NewFrameBudget(s.clock, s.maxFramesPerSecond, s.maxFramesPerSecond)

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				return "idle timeout"
			case errors.Is(err, websocket.ErrReadLimit):
				c.shutdown(websocket.CloseMessageTooBig, "message too large")
				return "message too large"
			}
			return ""
		}
		// The frame is read before the flood check so the close frame is not
		// lost behind unread bytes.
		if !flood.Allow() {
			s.metrics.RateLimited(metrics.LimiterFrame)
			log.Warn("frame rate limit exceeded; closing")
			c.shutdown(websocket.ClosePolicyViolation, "rate limit exceeded")
			return "rate limit exceeded"
		}
		if msgType != websocket.TextMessage {
			c.shutdown(websocket.CloseUnsupportedData, "expected text message")
			return "expected text message"
		}

		msg, err := protocol.DecodeInbound(frame, s.limits)
		if err != nil {
			var decErr *protocol.DecodeError
			if errors.As(err, &decErr) && decErr.Event == protocol.EventSignalSend {
				s.metrics.Dropped("invalid_signal")
				log.Debug("dropped invalid signal", "err", err)
				continue
			}
			s.metrics.Dropped("bad_message")
			c.reply(protocol.Error{Code: protocol.CodeBadMessage, Message: err.Error()})
			continue
		}

		if msg.Event() == protocol.EventMessageSend && s.msgLimiter != nil && !s.msgLimiter.Allow(string(c.id)) {
			s.metrics.RateLimited(metrics.LimiterMessage)
			c.reply(protocol.Error{Code: protocol.CodeRateLimit, Message: msgTooManyMessages})
			continue
		}

		if err := s.coord.Submit(context.Background(), coordinator.CommandFor(c.id, msg)); err != nil {
			c.shutdown(websocket.CloseGoingAway, "server shutting down")
			return "server shutting down"
		}

		select {
		case <-c.done:
			return c.closeReason
		default:
		}
	}
}

// Close kicks every live connection and waits for their handlers to finish.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
		// Unblock a reader parked in ReadMessage.
		_ = c.ws.SetReadDeadline(time.Now())
	}
	s.wg.Wait()
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func rejectConnection(ws *websocket.Conn, msg protocol.Error) {
	if frame, err := protocol.Encode(msg); err == nil {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	writeClose(ws, websocket.ClosePolicyViolation, "rate limit exceeded")
	_ = ws.Close()
}

func writeHTTPError(w http.ResponseWriter, status int, msg protocol.Error) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		http.Error(w, msg.Message, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(frame)
}
