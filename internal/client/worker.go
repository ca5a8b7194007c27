package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/protocol"
)

// sessionWorker owns one negotiation session off the event loop. It starts
// the session, then applies relayed signals in arrival order, so media
// acquisition and SDP work never hold up chat events.
type sessionWorker struct {
	sess   *negotiation.Session
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	mu      sync.Mutex
	signals []protocol.SignalReceive
}

func newSessionWorker(ctx context.Context, sess *negotiation.Session, log *slog.Logger) *sessionWorker {
	ctx, cancel := context.WithCancel(ctx)
	return &sessionWorker{
		sess:   sess,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
}

// enqueue never blocks.
func (w *sessionWorker) enqueue(sig protocol.SignalReceive) {
	w.mu.Lock()
	w.signals = append(w.signals, sig)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *sessionWorker) run() {
	// Text chat continues when negotiation fails.
	if err := w.sess.Start(w.ctx); err != nil && !errors.Is(err, negotiation.ErrClosed) {
		w.log.Warn("start negotiation", "err", err)
	}
	for {
		w.mu.Lock()
		batch := w.signals
		w.signals = nil
		w.mu.Unlock()
		for _, sig := range batch {
			if w.ctx.Err() != nil {
				return
			}
			if err := w.sess.HandleSignal(w.ctx, sig.Type, sig.Data); err != nil {
				w.log.Debug("signal not applied", "type", sig.Type, "err", err)
			}
		}
		select {
		case <-w.wake:
		case <-w.ctx.Done():
			return
		}
	}
}

// stop cancels the worker and closes the session. A pending media
// acquisition is interrupted rather than waited for.
func (w *sessionWorker) stop() {
	w.cancel()
	_ = w.sess.Close()
}
