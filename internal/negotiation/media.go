package negotiation

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrNoDevice         = errors.New("no media device")
)

// MediaErrorMessage returns the user-facing text for a media acquisition
// failure. Text chat keeps working whatever the cause.
func MediaErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera/microphone permission denied. You can still text chat."
	case errors.Is(err, ErrNoDevice):
		return "No camera or microphone found. You can still text chat."
	default:
		return "Could not access media devices. You can still text chat."
	}
}

// MediaSource acquires the local media for one Session.
type MediaSource interface {
	Acquire(ctx context.Context) (*LocalMedia, error)
}

// NoDevices is a MediaSource for hosts without capture devices.
type NoDevices struct{}

func (NoDevices) Acquire(context.Context) (*LocalMedia, error) { return nil, ErrNoDevice }

// SyntheticSource produces sample-based opus and VP8 tracks that callers feed
// through LocalTrack.WriteSample.
type SyntheticSource struct {
	Audio bool
	Video bool
}

func (s SyntheticSource) Acquire(ctx context.Context) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Audio && !s.Video {
		return nil, ErrNoDevice
	}
	stream := "aero-" + uuid.NewString()
	m := &LocalMedia{}
	if s.Audio {
		tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", stream)
		if err != nil {
			return nil, err
		}
		m.tracks = append(m.tracks, newLocalTrack(tr))
	}
	if s.Video {
		tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", stream)
		if err != nil {
			return nil, err
		}
		m.tracks = append(m.tracks, newLocalTrack(tr))
	}
	return m, nil
}

// LocalTrack is one outgoing track with an enabled flag. Samples written
// while disabled are discarded.
type LocalTrack struct {
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

func newLocalTrack(tr *webrtc.TrackLocalStaticSample) *LocalTrack {
	t := &LocalTrack{track: tr}
	t.enabled.Store(true)
	return t
}

func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

func (t *LocalTrack) WriteSample(s media.Sample) error {
	if t.stopped.Load() {
		return io.ErrClosedPipe
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

// LocalMedia is the local media handle of a Session.
type LocalMedia struct {
	mu     sync.Mutex
	tracks []*LocalTrack
}

func (m *LocalMedia) Tracks() []*LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*LocalTrack(nil), m.tracks...)
}

// Track returns the first track of the given kind.
func (m *LocalMedia) Track(kind webrtc.RTPCodecType) *LocalTrack {
	for _, t := range m.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (m *LocalMedia) has(kind webrtc.RTPCodecType) bool { return m.Track(kind) != nil }

// toggle flips every track of kind and returns the new enabled state.
func (m *LocalMedia) toggle(kind webrtc.RTPCodecType) bool {
	tracks := m.Tracks()
	enabled := false
	found := false
	for _, t := range tracks {
		if t.Kind() != kind {
			continue
		}
		if !found {
			enabled = !t.enabled.Load()
			found = true
		}
		t.enabled.Store(enabled)
	}
	return enabled
}

// Stop ends every track. Further writes fail.
func (m *LocalMedia) Stop() {
	for _, t := range m.Tracks() {
		t.stopped.Store(true)
		t.enabled.Store(false)
	}
}
