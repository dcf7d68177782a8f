package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/zenith-app/calls/internal/domain"
)

// CaptureConstraints mirror the audio constraints the desktop client asks
// for. Sources apply them best-effort.
type CaptureConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	Mono             bool
}

// LocalAudio is the single local capture a call manager holds.
// Owned by the adapter; the adapter must Close() it.
type LocalAudio interface {
	// Track is attached to every peer connection of the call.
	Track() webrtc.TrackLocal
	// SetEnabled gates the outgoing audio. Disabled capture keeps the
	// track alive but stops feeding samples into it.
	SetEnabled(on bool)
	Enabled() bool
	Close()
}

// MediaSource acquires local audio. Errors are categorized through the
// domain media taxonomy (permission / device / unsupported).
type MediaSource interface {
	Capture(ctx context.Context, c CaptureConstraints) (LocalAudio, error)
}

// AudioSink renders remote audio tracks. Attach must start playback;
// callers retry once after a short delay if it fails.
type AudioSink interface {
	Attach(user domain.UserID, track *webrtc.TrackRemote) error
	Detach(user domain.UserID)
	Close()
}
