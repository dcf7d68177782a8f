// Package media adapts local audio capture and remote audio rendering
// to the interfaces the call manager consumes.
package media

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

const opusFrameDuration = 20 * time.Millisecond

// DeviceSource captures the default microphone through pion/mediadevices
// and re-encodes it as opus. The encoded frames are pumped into a static
// sample track; muting simply stops the pump, which keeps the track (and
// the negotiated m-line) alive.
type DeviceSource struct{}

func NewDeviceSource() *DeviceSource { return &DeviceSource{} }

func (d *DeviceSource) Capture(ctx context.Context, c core.CaptureConstraints) (core.LocalAudio, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("%w: opus encoder: %v", domain.ErrMediaUnsupported, err)
	}
	selector := mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams))

	constraints := mediadevices.MediaStreamConstraints{
		Codec: selector,
		Audio: func(mt *mediadevices.MediaTrackConstraints) {
			if c.Mono {
				mt.ChannelCount = prop.Int(1)
			}
		},
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classifyCaptureErr(err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: stream has no audio track", domain.ErrMediaDeviceNotFound)
	}
	src := tracks[0]

	reader, err := src.NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%w: opus reader: %v", domain.ErrMediaUnsupported, err)
	}

	out, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"audio", "zenith-mic",
	)
	if err != nil {
		reader.Close()
		src.Close()
		return nil, fmt.Errorf("%w: local track: %v", domain.ErrMediaUnsupported, err)
	}

	la := &pumpedAudio{
		track:   out,
		enabled: true,
		stop:    make(chan struct{}),
		closeFn: func() {
			reader.Close()
			src.Close()
		},
	}
	go la.pump(reader)
	log.Info().Str("module", "media").Str("device", src.ID()).Msg("microphone captured")
	return la, nil
}

// classifyCaptureErr maps driver failures onto the media error taxonomy.
// Anything unrecognized stays uncategorized but still terminal.
func classifyCaptureErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %v", domain.ErrMediaPermissionDenied, err)
	case strings.Contains(msg, "failed to find the best driver") ||
		strings.Contains(msg, "no device") || strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", domain.ErrMediaDeviceNotFound, err)
	case strings.Contains(msg, "unsupported") || strings.Contains(msg, "not implemented"):
		return fmt.Errorf("%w: %v", domain.ErrMediaUnsupported, err)
	default:
		return fmt.Errorf("media capture: %w", err)
	}
}

// pumpedAudio feeds encoded frames from a reader into a sample track.
type pumpedAudio struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	closed  bool

	stop    chan struct{}
	closeFn func()
}

func (p *pumpedAudio) pump(reader mediadevices.EncodedReadCloser) {
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		buf, release, err := reader.Read()
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("capture pump stopped")
			return
		}
		if p.Enabled() {
			sample := media.Sample{Data: buf.Data, Duration: opusFrameDuration}
			if err := p.track.WriteSample(sample); err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("write sample")
			}
		}
		release()
	}
}

func (p *pumpedAudio) Track() webrtc.TrackLocal { return p.track }

func (p *pumpedAudio) SetEnabled(on bool) {
	p.mu.Lock()
	p.enabled = on
	p.mu.Unlock()
}

func (p *pumpedAudio) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *pumpedAudio) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.stop)
	p.closeFn()
}

var _ core.MediaSource = (*DeviceSource)(nil)
