package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

// opusSilence is a minimal valid opus frame carrying silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// StaticSource produces a silent opus track without touching any
// hardware. Used in standalone mode when no microphone is wanted and by
// tests; negotiation still carries a real audio m-line.
type StaticSource struct{}

func NewStaticSource() *StaticSource { return &StaticSource{} }

func (s *StaticSource) Capture(ctx context.Context, _ core.CaptureConstraints) (core.LocalAudio, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"audio", "zenith-static",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: local track: %v", domain.ErrMediaUnsupported, err)
	}
	la := &staticAudio{track: track, enabled: true, stop: make(chan struct{})}
	go la.tick()
	return la, nil
}

type staticAudio struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	closed  bool

	stop chan struct{}
}

func (s *staticAudio) tick() {
	t := time.NewTicker(opusFrameDuration)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.mu.Lock()
			on := s.enabled
			s.mu.Unlock()
			if !on {
				continue
			}
			sample := media.Sample{Data: opusSilence, Duration: opusFrameDuration}
			if err := s.track.WriteSample(sample); err != nil {
				log.Debug().Err(err).Str("module", "media").Msg("static sample write")
			}
		}
	}
}

func (s *staticAudio) Track() webrtc.TrackLocal { return s.track }

func (s *staticAudio) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
}

func (s *staticAudio) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *staticAudio) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stop)
}

var _ core.MediaSource = (*StaticSource)(nil)
