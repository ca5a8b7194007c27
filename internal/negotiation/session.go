package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

var (
	ErrClosed              = errors.New("negotiation: session closed")
	ErrNotStarted          = errors.New("negotiation: session not started")
	ErrStarted             = errors.New("negotiation: session already started")
	ErrNoRemoteDescription = errors.New("negotiation: no remote description")
)

// Signaler delivers negotiation payloads to the other member of the room.
type Signaler interface {
	SendSignal(ctx context.Context, typ protocol.SignalType, data any) error
}

type Config struct {
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	// Initiator is the side that creates offers, including ICE restart offers.
	Initiator bool
	Signaler  Signaler
	// Media may be nil for a receive-only session.
	Media  MediaSource
	Logger *slog.Logger

	// Callbacks run on pion or caller goroutines and must not call back into
	// the Session synchronously.
	OnStateChange func(State)
	OnRemoteTrack func(*webrtc.TrackRemote)
	OnMediaError  func(error)

	MaxPendingCandidates int
}

type Session struct {
	cfg    Config
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// opMu serialises everything that touches pc, pending, remoteSet and the
	// signals queued while Start is running.
	opMu         sync.Mutex
	pc           *webrtc.PeerConnection
	pending      *candidateQueue
	remoteSet    bool
	starting     bool
	early        []queuedSignal
	addCandidate func(webrtc.ICECandidateInit) error

	// Local candidates wait in outbox until the description they belong to
	// has been signalled.
	outMu    sync.Mutex
	descSent bool
	outbox   []webrtc.ICECandidateInit

	mu       sync.Mutex
	closed   bool
	state    State
	local    *LocalMedia
	remote   []*webrtc.TrackRemote
	mediaErr error
}

type queuedSignal struct {
	typ  protocol.SignalType
	data json.RawMessage
}

func New(cfg Config) (*Session, error) {
	if cfg.Signaler == nil {
		return nil, errors.New("negotiation: signaler is required")
	}
	if cfg.API == nil {
		api, err := NewAPI(APIConfig{})
		if err != nil {
			return nil, err
		}
		cfg.API = api
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:     cfg,
		log:     logger.With("initiator", cfg.Initiator),
		ctx:     ctx,
		cancel:  cancel,
		pending: newCandidateQueue(cfg.MaxPendingCandidates),
	}, nil
}

// opContext ties ctx to the session lifetime so Close interrupts in-flight
// work.
func (s *Session) opContext(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Start creates the peer connection, acquires local media and, on the
// initiating side, sends the first offer. A media failure is recorded and
// reported through OnMediaError but does not stop negotiation.
//
// Media is acquired without holding the session: signals handled meanwhile
// are queued and applied in arrival order once Start has added the local
// tracks.
func (s *Session) Start(ctx context.Context) error {
	ctx, done := s.opContext(ctx)
	defer done()

	if err := s.open(); err != nil {
		return err
	}
	return s.finishStart(ctx, s.acquire(ctx))
}

func (s *Session) open() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return ErrClosed
	}
	if s.pc != nil {
		return ErrStarted
	}
	s.setState(StateConnecting)

	pc, err := s.cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		return s.failed("new peer connection", err)
	}
	s.pc = pc
	if s.addCandidate == nil {
		s.addCandidate = pc.AddICECandidate
	}
	pc.OnICECandidate(s.onLocalCandidate)
	pc.OnTrack(s.onTrack)
	pc.OnConnectionStateChange(s.onConnectionState)
	s.starting = true
	return nil
}

func (s *Session) acquire(ctx context.Context) *LocalMedia {
	if s.cfg.Media == nil {
		return nil
	}
	m, err := s.cfg.Media.Acquire(ctx)
	if err != nil {
		if s.isClosed() {
			return nil
		}
		s.log.Warn("local media unavailable", "err", err)
		s.mu.Lock()
		s.mediaErr = err
		s.mu.Unlock()
		if s.cfg.OnMediaError != nil {
			s.cfg.OnMediaError(err)
		}
		return nil
	}
	return m
}

func (s *Session) finishStart(ctx context.Context, local *LocalMedia) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	early := s.early
	s.early = nil
	s.starting = false

	if s.isClosed() {
		if local != nil {
			local.Stop()
		}
		return ErrClosed
	}
	if local != nil {
		s.mu.Lock()
		s.local = local
		s.mu.Unlock()
		for _, t := range local.Tracks() {
			if _, err := s.pc.AddTrack(t.track); err != nil {
				return s.failed("add track", err)
			}
		}
	}

	if s.cfg.Initiator {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if local != nil && local.has(kind) {
				continue
			}
			if _, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
				return s.failed("add transceiver", err)
			}
		}
		if err := s.offer(ctx, nil); err != nil {
			return err
		}
	}

	for _, sig := range early {
		if err := s.apply(ctx, sig.typ, sig.data); err != nil {
			s.log.Warn("queued signal not applied", "type", sig.typ, "err", err)
		}
	}
	return nil
}

func (s *Session) offer(ctx context.Context, opts *webrtc.OfferOptions) error {
	offer, err := s.pc.CreateOffer(opts)
	if err != nil {
		return s.failed("create offer", err)
	}
	s.holdCandidates()
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return s.failed("set local description", err)
	}
	if err := s.sendDescription(ctx, protocol.SignalOffer, offer); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	return nil
}

func (s *Session) answer(ctx context.Context) error {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return s.failed("create answer", err)
	}
	s.holdCandidates()
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return s.failed("set local description", err)
	}
	if err := s.sendDescription(ctx, protocol.SignalAnswer, answer); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// holdCandidates makes local candidates wait for the next description.
// Gathering starts at SetLocalDescription, before that description is sent.
func (s *Session) holdCandidates() {
	s.outMu.Lock()
	s.descSent = false
	s.outMu.Unlock()
}

// sendDescription signals desc, then the local candidates gathered while it
// was pending.
func (s *Session) sendDescription(ctx context.Context, typ protocol.SignalType, desc webrtc.SessionDescription) error {
	if err := s.cfg.Signaler.SendSignal(ctx, typ, protocol.SessionDescriptionFromPion(desc)); err != nil {
		return err
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	held := s.outbox
	s.outbox = nil
	s.descSent = true
	for _, c := range held {
		s.sendCandidate(c)
	}
	return nil
}

// HandleSignal applies one relayed payload. Candidates that arrive before
// the remote description are buffered and applied in arrival order once it
// is set. Signals that arrive while Start is still running are queued and
// applied when it finishes.
func (s *Session) HandleSignal(ctx context.Context, typ protocol.SignalType, data json.RawMessage) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return ErrClosed
	}
	if s.pc == nil {
		return ErrNotStarted
	}
	if s.starting {
		return s.queue(typ, data)
	}
	ctx, done := s.opContext(ctx)
	defer done()
	return s.apply(ctx, typ, data)
}

func (s *Session) queue(typ protocol.SignalType, data json.RawMessage) error {
	switch typ {
	case protocol.SignalOffer, protocol.SignalAnswer, protocol.SignalICECandidate:
	default:
		return fmt.Errorf("%w: signal type %q", protocol.ErrInvalidPayload, typ)
	}
	if len(s.early) >= s.pending.max {
		s.log.Warn("signal queue full, dropped oldest", "max", s.pending.max)
		s.early = append(s.early[:0], s.early[1:]...)
	}
	s.early = append(s.early, queuedSignal{typ: typ, data: append(json.RawMessage(nil), data...)})
	return nil
}

func (s *Session) apply(ctx context.Context, typ protocol.SignalType, data json.RawMessage) error {
	switch typ {
	case protocol.SignalOffer:
		desc, err := protocol.DecodeSessionDescription(data)
		if err != nil {
			return err
		}
		if desc.Type != webrtc.SDPTypeOffer {
			return fmt.Errorf("%w: offer signal carries %s", protocol.ErrInvalidPayload, desc.Type)
		}
		if err := s.pc.SetRemoteDescription(desc); err != nil {
			return s.failed("set remote offer", err)
		}
		s.remoteSet = true
		s.flushCandidates()
		return s.answer(ctx)

	case protocol.SignalAnswer:
		desc, err := protocol.DecodeSessionDescription(data)
		if err != nil {
			return err
		}
		if desc.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("%w: answer signal carries %s", protocol.ErrInvalidPayload, desc.Type)
		}
		if err := s.pc.SetRemoteDescription(desc); err != nil {
			return s.failed("set remote answer", err)
		}
		s.remoteSet = true
		s.flushCandidates()
		return nil

	case protocol.SignalICECandidate:
		c, err := protocol.DecodeCandidate(data)
		if err != nil {
			return err
		}
		if !s.remoteSet {
			if s.pending.push(c) {
				s.log.Warn("candidate buffer full, dropped oldest", "max", s.pending.max)
			}
			return nil
		}
		if err := s.addCandidate(c); err != nil {
			s.log.Warn("add ice candidate", "err", err)
			return err
		}
		return nil

	default:
		return fmt.Errorf("%w: signal type %q", protocol.ErrInvalidPayload, typ)
	}
}

func (s *Session) flushCandidates() {
	for _, c := range s.pending.drain() {
		if err := s.addCandidate(c); err != nil {
			s.log.Warn("add buffered ice candidate", "err", err)
		}
	}
}

// Restart renegotiates connectivity in place. The initiator sends an ICE
// restart offer; the other side waits for it.
func (s *Session) Restart(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return ErrClosed
	}
	if s.pc == nil || !s.remoteSet {
		return ErrNoRemoteDescription
	}
	ctx, done := s.opContext(ctx)
	defer done()

	s.pending.reset()
	s.setState(StateReconnecting)
	if !s.cfg.Initiator {
		return nil
	}
	if err := s.offer(ctx, &webrtc.OfferOptions{ICERestart: true}); err != nil {
		return err
	}
	// Candidates for the restarted agent wait for the new answer.
	s.remoteSet = false
	return nil
}

// Close ends the session from any state: local tracks stop, the peer
// connection closes, buffered candidates are discarded and the state
// returns to idle. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if local := s.LocalMedia(); local != nil {
		local.Stop()
	}
	var err error
	if s.pc != nil {
		err = s.pc.Close()
	}
	s.pending.reset()
	s.remoteSet = false
	s.early = nil

	s.outMu.Lock()
	s.outbox = nil
	s.outMu.Unlock()

	s.mu.Lock()
	s.remote = nil
	s.mu.Unlock()
	s.setState(StateIdle)
	return err
}

func (s *Session) onLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil || s.isClosed() {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if !s.descSent {
		s.outbox = append(s.outbox, c.ToJSON())
		return
	}
	s.sendCandidate(c.ToJSON())
}

// sendCandidate must be called with outMu held so candidates keep their
// gathering order.
func (s *Session) sendCandidate(c webrtc.ICECandidateInit) {
	if err := s.cfg.Signaler.SendSignal(s.ctx, protocol.SignalICECandidate, protocol.CandidateFromPion(c)); err != nil {
		s.log.Debug("send ice candidate", "err", err)
	}
}

func (s *Session) onTrack(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.remote = append(s.remote, tr)
	s.mu.Unlock()
	s.log.Debug("remote track", "kind", tr.Kind().String())
	if s.cfg.OnRemoteTrack != nil {
		s.cfg.OnRemoteTrack(tr)
	}
}

func (s *Session) onConnectionState(pcs webrtc.PeerConnectionState) {
	st, ok := stateFor(pcs)
	if !ok || s.isClosed() {
		return
	}
	if st == StateConnecting {
		// Connectivity checks after a restart, on either side.
		switch s.State() {
		case StateConnected, StateReconnecting, StateFailed:
			st = StateReconnecting
		}
	}
	s.setState(st)
	if pcs != webrtc.PeerConnectionStateFailed || !s.cfg.Initiator {
		return
	}
	go func() {
		if err := s.Restart(s.ctx); err != nil && !errors.Is(err, ErrClosed) {
			s.log.Warn("ice restart", "err", err)
		}
	}()
}

func (s *Session) failed(op string, err error) error {
	s.log.Warn("negotiation failed", "op", op, "err", err)
	s.setState(StateFailed)
	return fmt.Errorf("%s: %w", op, err)
}

// setState records st and notifies OnStateChange. After Close only the
// transition to idle is accepted.
func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st || (s.closed && st != StateIdle) {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.log.Debug("negotiation state", "state", st.String())
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Initiator() bool { return s.cfg.Initiator }

// MediaError is the local media acquisition failure, if any.
func (s *Session) MediaError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaErr
}

func (s *Session) LocalMedia() *LocalMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Session) RemoteTracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), s.remote...)
}

func (s *Session) PendingCandidates() int {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.pending.len()
}

// ToggleAudio flips the local audio tracks and returns the new state. It
// is a no-op returning false without local audio.
func (s *Session) ToggleAudio() bool { return s.toggle(webrtc.RTPCodecTypeAudio) }

func (s *Session) ToggleVideo() bool { return s.toggle(webrtc.RTPCodecTypeVideo) }

func (s *Session) toggle(kind webrtc.RTPCodecType) bool {
	local := s.LocalMedia()
	if local == nil || !local.has(kind) {
		return false
	}
	return local.toggle(kind)
}

func (s *Session) AudioEnabled() bool { return s.enabled(webrtc.RTPCodecTypeAudio) }

func (s *Session) VideoEnabled() bool { return s.enabled(webrtc.RTPCodecTypeVideo) }

func (s *Session) enabled(kind webrtc.RTPCodecType) bool {
	local := s.LocalMedia()
	if local == nil {
		return false
	}
	t := local.Track(kind)
	return t != nil && t.Enabled()
}
