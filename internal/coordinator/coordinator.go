package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

var ErrStopped = errors.New("coordinator: stopped")

const DefaultCommandQueue = 1024

// Sink delivers events to one connection. Send must not block; it returns
// false when the event could not be queued. Kick asks the transport to close
// the connection.
type Sink interface {
	Send(msg protocol.Outbound) bool
	Kick(reason string)
}

type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Matchmaking     matchmaking.Config
	MaxMessageRunes int
	CommandQueue    int

	Now          func() time.Time
	NewMessageID func() string
}

type connState struct {
	user matchmaking.UserID
	sink Sink
}

// Coordinator owns the matchmaking state. Only the Run goroutine touches it.
type Coordinator struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	mm      *matchmaking.Matchmaker

	maxMessageRunes int
	now             func() time.Time
	newMessageID    func() string

	conns map[matchmaking.ConnID]*connState

	cmds    chan Command
	stopped chan struct{}
}

func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewMessageID == nil {
		cfg.NewMessageID = uuid.NewString
	}
	if cfg.CommandQueue <= 0 {
		cfg.CommandQueue = DefaultCommandQueue
	}
	if cfg.MaxMessageRunes <= 0 {
		cfg.MaxMessageRunes = protocol.DefaultMaxMessageRunes
	}
	if cfg.Matchmaking.Now == nil {
		cfg.Matchmaking.Now = cfg.Now
	}
	return &Coordinator{
		log:             cfg.Logger,
		metrics:         cfg.Metrics,
		mm:              matchmaking.New(cfg.Matchmaking),
		maxMessageRunes: cfg.MaxMessageRunes,
		now:             cfg.Now,
		newMessageID:    cfg.NewMessageID,
		conns:           make(map[matchmaking.ConnID]*connState),
		cmds:            make(chan Command, cfg.CommandQueue),
		stopped:         make(chan struct{}),
	}
}

// Run applies commands until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("coordinator stopping", "connections", len(c.conns), "waiting", c.mm.Waiting(), "rooms", c.mm.RoomCount())
			return ctx.Err()
		case cmd := <-c.cmds:
			c.exec(cmd)
		}
	}
}

// Submit enqueues cmd. It blocks while the queue is full, until ctx is done
// or the coordinator stops.
func (c *Coordinator) Submit(ctx context.Context, cmd Command) error {
	if cmd == nil {
		return nil
	}
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a consistent read of the current state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	q := snapshotQuery{reply: make(chan Snapshot, 1)}
	if err := c.Submit(ctx, q); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-q.reply:
		return snap, nil
	case <-c.stopped:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Coordinator) exec(cmd Command) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("panic in coordinator command", "command", commandName(cmd), "recover", rec, "stack", string(debug.Stack()))
			if conn, ok := commandConn(cmd); ok {
				c.send(conn, protocol.Error{Code: protocol.CodeInternal, Message: "Internal error."})
			}
		}
	}()
	cmd.apply(c)
}

// send delivers msg to conn; a full sink gets the connection kicked.
func (c *Coordinator) send(conn matchmaking.ConnID, msg protocol.Outbound) {
	st, ok := c.conns[conn]
	if !ok {
		return
	}
	if !st.sink.Send(msg) {
		c.log.Warn("outbound queue full; kicking connection", "conn_id", conn, "event", msg.Event())
		c.metrics.Dropped("slow_consumer")
		st.sink.Kick("slow consumer")
	}
}

func (c *Coordinator) stats() protocol.Stats {
	return protocol.Stats{
		Online:   len(c.conns),
		Waiting:  c.mm.Waiting(),
		Chatting: c.mm.RoomCount() * 2,
	}
}

// broadcastStats pushes fresh counts to every live connection.
func (c *Coordinator) broadcastStats() {
	s := c.stats()
	c.metrics.SetStats(s.Online, s.Waiting, s.Chatting)
	for conn := range c.conns {
		c.send(conn, s)
	}
}

func (c *Coordinator) notifyEnded(term matchmaking.Termination, reason string) {
	c.metrics.Terminated(reason)
	c.log.Debug("room terminated", "room_id", term.Room.ID, "partner", term.Partner, "reason", reason)
	c.send(term.Partner, protocol.StrangerDisconnected{RoomID: string(term.Room.ID), Reason: reason})
}

func commandConn(cmd Command) (matchmaking.ConnID, bool) {
	switch v := cmd.(type) {
	case JoinQueue:
		return v.Conn, true
	case LeaveQueue:
		return v.Conn, true
	case SendMessage:
		return v.Conn, true
	case SetTyping:
		return v.Conn, true
	case RelaySignal:
		return v.Conn, true
	case Next:
		return v.Conn, true
	case EndChat:
		return v.Conn, true
	case Disconnect:
		return v.Conn, true
	case Connect:
		return v.Conn, true
	}
	return "", false
}

func commandName(cmd Command) string {
	switch cmd.(type) {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case JoinQueue:
		return string(protocol.EventQueueJoin)
	case LeaveQueue:
		return string(protocol.EventQueueLeave)
	case SendMessage:
		return string(protocol.EventMessageSend)
	case SetTyping:
		return "typing"
	case RelaySignal:
		return string(protocol.EventSignalSend)
	case Next:
		return string(protocol.EventChatNext)
	case EndChat:
		return string(protocol.EventChatDisconnect)
	case snapshotQuery:
		return "snapshot"
	}
	return "unknown"
}
