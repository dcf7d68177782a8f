package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

// OggSink renders each remote participant's audio to an ogg file under
// dir. The desktop shell points dir at a pipe the playback layer drains;
// headless runs get plain files.
type OggSink struct {
	dir string

	mu    sync.Mutex
	sinks map[domain.UserID]*oggTarget
}

type oggTarget struct {
	writer *oggwriter.OggWriter
	done   chan struct{}
}

func NewOggSink(dir string) (*OggSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink dir: %w", err)
	}
	return &OggSink{dir: dir, sinks: make(map[domain.UserID]*oggTarget)}, nil
}

func (s *OggSink) Attach(user domain.UserID, track *webrtc.TrackRemote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sinks[user]; ok {
		return nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s.ogg", user))
	w, err := oggwriter.New(path, 48000, uint16(track.Codec().Channels))
	if err != nil {
		return fmt.Errorf("open ogg target: %w", err)
	}
	t := &oggTarget{writer: w, done: make(chan struct{})}
	s.sinks[user] = t
	go s.drain(user, track, t)
	log.Info().Str("module", "media").Str("user", string(user)).Str("path", path).Msg("remote audio attached")
	return nil
}

func (s *OggSink) drain(user domain.UserID, track *webrtc.TrackRemote, t *oggTarget) {
	defer func() {
		if err := t.writer.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("user", string(user)).Msg("ogg close")
		}
	}()
	for {
		select {
		case <-t.done:
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "media").Str("user", string(user)).Msg("remote track ended")
			}
			return
		}
		if err := t.writer.WriteRTP(pkt); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("user", string(user)).Msg("ogg write")
			return
		}
	}
}

func (s *OggSink) Detach(user domain.UserID) {
	s.mu.Lock()
	t, ok := s.sinks[user]
	if ok {
		delete(s.sinks, user)
	}
	s.mu.Unlock()
	if ok {
		close(t.done)
	}
}

func (s *OggSink) Close() {
	s.mu.Lock()
	targets := s.sinks
	s.sinks = make(map[domain.UserID]*oggTarget)
	s.mu.Unlock()
	for _, t := range targets {
		close(t.done)
	}
}

var _ core.AudioSink = (*OggSink)(nil)
