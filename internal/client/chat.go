package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

var ErrNotInRoom = errors.New("client: not in a room")

const DefaultTypingTimeout = 2 * time.Second

type ChatConfig struct {
	Conn      *Conn
	Interests []string

	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	// Media is acquired for every match. Nil negotiates receive-only.
	Media negotiation.MediaSource

	Logger        *slog.Logger
	TypingTimeout time.Duration

	// OnEvent sees every coordinator event after Chat has acted on it. It runs
	// on the Run goroutine.
	OnEvent       func(protocol.Outbound)
	OnState       func(negotiation.State)
	OnRemoteTrack func(*webrtc.TrackRemote)
	OnMediaError  func(error)
}

// Chat follows one participant through queue, room and negotiation.
type Chat struct {
	cfg ChatConfig
	log *slog.Logger

	mu          sync.Mutex
	roomID      string
	session     *negotiation.Session
	worker      *sessionWorker
	typing      bool
	typingTimer *time.Timer
	stats       protocol.Stats
}

func NewChat(cfg ChatConfig) *Chat {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	return &Chat{cfg: cfg, log: cfg.Logger}
}

// Run dispatches coordinator events until the connection ends or ctx is
// cancelled. The active negotiation session is closed on return.
func (c *Chat) Run(ctx context.Context) error {
	defer c.endSession()
	events := c.cfg.Conn.Events()
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return c.cfg.Conn.Err()
			}
			c.handle(ctx, msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Chat) handle(ctx context.Context, msg protocol.Outbound) {
	switch m := msg.(type) {
	case protocol.MatchFound:
		c.startSession(ctx, m)
	case protocol.SignalReceive:
		if w := c.workerFor(m.RoomID); w != nil {
			w.enqueue(m)
		}
	case protocol.StrangerDisconnected:
		if m.RoomID == "" || m.RoomID == c.RoomID() {
			c.endSession()
		}
	case protocol.Stats:
		c.mu.Lock()
		c.stats = m
		c.mu.Unlock()
	case protocol.Error:
		c.log.Warn("coordinator error", "code", m.Code, "message", m.Message)
	}
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(msg)
	}
}

func (c *Chat) startSession(ctx context.Context, m protocol.MatchFound) {
	c.endSession()
	log := c.log.With("room_id", m.RoomID)
	sess, err := negotiation.New(negotiation.Config{
		API:           c.cfg.API,
		ICEServers:    c.cfg.ICEServers,
		Initiator:     m.IsInitiator,
		Signaler:      roomSignaler{conn: c.cfg.Conn, roomID: m.RoomID},
		Media:         c.cfg.Media,
		Logger:        log,
		OnStateChange: c.cfg.OnState,
		OnRemoteTrack: c.cfg.OnRemoteTrack,
		OnMediaError:  c.cfg.OnMediaError,
	})
	if err != nil {
		c.log.Error("create negotiation session", "err", err)
		return
	}
	w := newSessionWorker(ctx, sess, log)
	c.mu.Lock()
	c.roomID = m.RoomID
	c.session = sess
	c.worker = w
	c.mu.Unlock()
	go w.run()
}

func (c *Chat) workerFor(roomID string) *sessionWorker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if roomID != c.roomID {
		return nil
	}
	return c.worker
}

func (c *Chat) endSession() {
	c.mu.Lock()
	w := c.worker
	c.worker = nil
	c.session = nil
	c.roomID = ""
	c.typing = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.mu.Unlock()
	if w != nil {
		w.stop()
	}
}

func (c *Chat) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Session is the negotiation session of the current room, or nil.
func (c *Chat) Session() *negotiation.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Stats is the last stats:update seen.
func (c *Chat) Stats() protocol.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Chat) Join() error {
	return c.cfg.Conn.Send(protocol.QueueJoin{Interests: c.cfg.Interests})
}

// SendMessage sends content to the partner and returns the message for
// local display. The partner receives the coordinator's sanitised copy.
func (c *Chat) SendMessage(content string) (protocol.MessageSend, error) {
	roomID := c.RoomID()
	if roomID == "" {
		return protocol.MessageSend{}, ErrNotInRoom
	}
	c.StopTyping()
	msg := protocol.MessageSend{
		RoomID:    roomID,
		Content:   content,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
	}
	return msg, c.cfg.Conn.Send(msg)
}

// Typing announces typing and schedules typing:stop after the typing
// timeout unless called again.
func (c *Chat) Typing() error {
	c.mu.Lock()
	roomID := c.roomID
	if roomID == "" {
		c.mu.Unlock()
		return ErrNotInRoom
	}
	start := !c.typing
	c.typing = true
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(c.cfg.TypingTimeout, func() { _ = c.StopTyping() })
	c.mu.Unlock()

	if !start {
		return nil
	}
	return c.cfg.Conn.Send(protocol.Typing{RoomID: roomID, Started: true})
}

func (c *Chat) StopTyping() error {
	c.mu.Lock()
	if !c.typing || c.roomID == "" {
		c.mu.Unlock()
		return nil
	}
	roomID := c.roomID
	c.typing = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.mu.Unlock()
	return c.cfg.Conn.Send(protocol.Typing{RoomID: roomID})
}

// Next leaves the current partner and rejoins the queue with the same
// interests.
func (c *Chat) Next() error {
	c.endSession()
	if err := c.cfg.Conn.Send(protocol.ChatNext{}); err != nil {
		return err
	}
	return c.Join()
}

// Disconnect ends the current room, or leaves the queue when not in one.
func (c *Chat) Disconnect() error {
	roomID := c.RoomID()
	c.endSession()
	if roomID != "" {
		return c.cfg.Conn.Send(protocol.ChatDisconnect{RoomID: roomID})
	}
	return c.cfg.Conn.Send(protocol.QueueLeave{})
}
