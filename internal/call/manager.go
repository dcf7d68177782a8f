package call

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

// Config carries the transport and capture knobs a Manager needs.
type Config struct {
	STUNServers    []string
	Capture        core.CaptureConstraints
	SinkRetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.STUNServers) == 0 {
		c.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.SinkRetryDelay == 0 {
		c.SinkRetryDelay = 500 * time.Millisecond
	}
	return c
}

// Manager is a single-threaded actor: user actions and store snapshots
// are posted to one mailbox and handled strictly one at a time, so no
// state needs locking and no handler can observe another mid-flight.
// Bring-up (media acquisition, store round-trips) runs off-loop and
// re-enters through the mailbox carrying the generation it belongs to;
// a stale generation means the call was torn down meanwhile.
type Manager struct {
	store core.SignalingStore
	media core.MediaSource
	sink  core.AudioSink
	cfg   Config
	api   *webrtc.API

	tasks   chan func()
	updates chan core.CallState

	// Everything below is owned by the run loop.
	gen       int
	status    core.ConnectionStatus
	sessionID domain.SessionID
	selfID    domain.UserID
	role      peerRole
	micOn     bool
	lastErr   string
	local     core.LocalAudio
	peers     map[domain.UserID]*peerLink
	roster    map[domain.UserID]domain.ParticipantInfo
	unsub     func()
}

func NewManager(store core.SignalingStore, media core.MediaSource, sink core.AudioSink, cfg Config) (*Manager, error) {
	api, err := newWebRTCAPI()
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:   store,
		media:   media,
		sink:    sink,
		cfg:     cfg.withDefaults(),
		api:     api,
		tasks:   make(chan func(), 64),
		updates: make(chan core.CallState, 8),
		status:  core.StatusIdle,
		peers:   make(map[domain.UserID]*peerLink),
	}, nil
}

// Run processes the mailbox until ctx is done, then tears down any
// active call. Exactly one Run per Manager.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return
		case task := <-m.tasks:
			task()
		}
	}
}

// post enqueues fn for the run loop.
func (m *Manager) post(fn func()) {
	m.tasks <- fn
}

// Updates delivers a state snapshot on every change. Slow consumers see
// coalesced snapshots, never stale ones out of order.
func (m *Manager) Updates() <-chan core.CallState { return m.updates }

// State returns the current snapshot.
func (m *Manager) State() core.CallState {
	reply := make(chan core.CallState, 1)
	m.post(func() { reply <- m.snapshot() })
	return <-reply
}

// InitializeCall starts a call as host: acquire local audio, create the
// session document, subscribe, then offer to every joiner that appears.
func (m *Manager) InitializeCall(ctx context.Context, sessionID domain.SessionID, selfID domain.UserID) error {
	return m.bringUp(ctx, sessionID, selfID, roleOfferer)
}

// JoinCall starts a call as participant: acquire local audio, join the
// roster, then answer offers addressed to us.
func (m *Manager) JoinCall(ctx context.Context, sessionID domain.SessionID, selfID domain.UserID) error {
	return m.bringUp(ctx, sessionID, selfID, roleAnswerer)
}

func (m *Manager) bringUp(ctx context.Context, sessionID domain.SessionID, selfID domain.UserID, role peerRole) error {
	begin := make(chan error, 1)
	var gen int
	m.post(func() {
		if m.status != core.StatusIdle {
			begin <- domain.ErrCallActive
			return
		}
		m.gen++
		gen = m.gen
		m.status = core.StatusConnecting
		m.sessionID = sessionID
		m.selfID = selfID
		m.role = role
		m.micOn = true
		m.lastErr = ""
		m.publish()
		begin <- nil
	})
	if err := <-begin; err != nil {
		return err
	}

	// Media first: a capture failure must leave the session document
	// untouched.
	local, err := m.media.Capture(ctx, m.cfg.Capture)
	if err != nil {
		m.post(func() { m.fail(gen, err) })
		return err
	}

	switch role {
	case roleOfferer:
		err = m.store.CreateSession(ctx, sessionID, selfID)
	case roleAnswerer:
		err = m.store.JoinSession(ctx, sessionID, selfID)
	}
	if err != nil {
		local.Close()
		m.post(func() { m.fail(gen, err) })
		return err
	}

	// Install the capture before subscribing: mailbox order then
	// guarantees every snapshot handler sees it.
	installed := make(chan bool, 1)
	m.post(func() {
		if gen != m.gen {
			installed <- false
			return
		}
		m.local = local
		installed <- true
	})
	if !<-installed {
		// Torn down while we were bringing the call up.
		local.Close()
		go m.leaveQuietly(sessionID, selfID)
		return domain.ErrCallNotFound
	}

	unsub, err := m.store.ListenToSession(ctx, sessionID, func(doc *domain.Session) {
		m.post(func() { m.handleSnapshot(gen, doc) })
	})
	if err != nil {
		go m.leaveQuietly(sessionID, selfID)
		m.post(func() { m.fail(gen, err) })
		return err
	}

	activated := make(chan error, 1)
	m.post(func() {
		if gen != m.gen {
			// Teardown already closed the capture; only the subscription
			// is ours to release.
			unsub()
			go m.leaveQuietly(sessionID, selfID)
			activated <- domain.ErrCallNotFound
			return
		}
		m.unsub = unsub
		m.status = core.StatusConnected
		m.publish()
		log.Info().Str("module", "call").Str("session", string(sessionID)).
			Str("self", string(selfID)).Str("role", role.String()).Msg("in session")
		activated <- nil
	})
	return <-activated
}

// fail records a terminal bring-up error. Stale generations are ignored.
func (m *Manager) fail(gen int, err error) {
	if gen != m.gen {
		return
	}
	if m.local != nil {
		m.local.Close()
		m.local = nil
	}
	m.status = core.StatusFailed
	m.lastErr = err.Error()
	m.sessionID = ""
	m.selfID = ""
	m.publish()
	log.Error().Err(err).Str("module", "call").Msg("call attempt failed")
}

// ToggleMic flips the local track synchronously and mirrors the new
// value to the store fire-and-forget. Returns the new mic state.
func (m *Manager) ToggleMic() bool {
	reply := make(chan bool, 1)
	m.post(func() {
		m.micOn = !m.micOn
		if m.local != nil {
			m.local.SetEnabled(m.micOn)
		}
		if m.sessionID != "" {
			sid, self, on := m.sessionID, m.selfID, m.micOn
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := m.store.UpdateMicStatus(ctx, sid, self, on); err != nil {
					log.Warn().Err(err).Str("module", "call").Msg("mic status mirror failed")
				}
			}()
		}
		m.publish()
		reply <- m.micOn
	})
	return <-reply
}

// LeaveCall tears down local media, peer connections and the store
// subscription, and resets to idle. Idempotent; safe before any call.
func (m *Manager) LeaveCall() {
	done := make(chan struct{})
	m.post(func() {
		m.teardown()
		close(done)
	})
	<-done
}

// teardown runs on the loop. In-flight bring-up steps observe the bumped
// generation and clean up after themselves.
func (m *Manager) teardown() {
	m.gen++
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	for uid, link := range m.peers {
		link.close()
		m.sink.Detach(uid)
		delete(m.peers, uid)
	}
	if m.local != nil {
		m.local.Close()
		m.local = nil
	}
	if m.sessionID != "" {
		go m.leaveQuietly(m.sessionID, m.selfID)
	}
	wasIdle := m.status == core.StatusIdle && m.sessionID == ""
	m.status = core.StatusIdle
	m.sessionID = ""
	m.selfID = ""
	m.roster = nil
	m.lastErr = ""
	m.micOn = false
	if !wasIdle {
		m.publish()
		log.Info().Str("module", "call").Msg("left call")
	}
}

func (m *Manager) leaveQuietly(sid domain.SessionID, self domain.UserID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.LeaveSession(ctx, sid, self); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("session", string(sid)).Msg("leave session failed")
	}
}

func (m *Manager) snapshot() core.CallState {
	st := core.CallState{
		Status:       m.status,
		SessionID:    m.sessionID,
		SelfID:       m.selfID,
		IsMicOn:      m.micOn,
		Participants: make([]core.ParticipantView, 0, len(m.roster)),
		Error:        m.lastErr,
	}
	for uid, info := range m.roster {
		if uid == m.selfID {
			continue
		}
		pv := core.ParticipantView{UserID: uid, IsMicOn: info.IsMicOn}
		if link, ok := m.peers[uid]; ok {
			pv.Peered = link.state == webrtc.PeerConnectionStateConnected
		}
		st.Participants = append(st.Participants, pv)
	}
	return st
}

// publish pushes the current snapshot, dropping the oldest undelivered
// one when the consumer lags.
func (m *Manager) publish() {
	st := m.snapshot()
	for {
		select {
		case m.updates <- st:
			return
		default:
			select {
			case <-m.updates:
			default:
			}
		}
	}
}

func (m *Manager) writeErr(op string, err error) {
	// Steady-state store failures are transient: the next document write
	// retries implicitly, so log and move on.
	log.Warn().Err(err).Str("module", "call").Msg(fmt.Sprintf("%s write failed", op))
}
