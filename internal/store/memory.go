// Package store provides SignalingStore backends: an in-process memory
// store for standalone mode and tests, and a MongoDB-backed store for
// synced deployments.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

// DefaultEmptyTTL is the grace period an empty session survives before
// lazy expiry removes it.
const DefaultEmptyTTL = 30 * time.Second

type memoryOption func(*MemoryStore)

// WithClock substitutes the time source. Tests compress the TTL window
// with this.
func WithClock(now func() time.Time) memoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithEmptyTTL overrides the empty-session grace period.
func WithEmptyTTL(ttl time.Duration) memoryOption {
	return func(s *MemoryStore) { s.emptyTTL = ttl }
}

// MemoryStore keeps session documents in process memory and fans out a
// full-document snapshot to listeners on every write.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[domain.SessionID]*domain.Session
	listeners map[domain.SessionID]map[int]func(*domain.Session)
	nextID    int
	emptyTTL  time.Duration
	now       func() time.Time
}

func NewMemoryStore(opts ...memoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions:  make(map[domain.SessionID]*domain.Session),
		listeners: make(map[domain.SessionID]map[int]func(*domain.Session)),
		emptyTTL:  DefaultEmptyTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the session after applying lazy expiry. Caller holds mu.
func (s *MemoryStore) live(id domain.SessionID) *domain.Session {
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, id)
		log.Debug().Str("module", "store.memory").Str("session", string(id)).Msg("expired session deleted")
		return nil
	}
	return sess
}

// notify snapshots listeners and the document under mu, then delivers
// outside the lock. Delivery order across rapid writes is not guaranteed.
func (s *MemoryStore) notify(id domain.SessionID, sess *domain.Session) {
	snap := sess.Clone()
	fns := make([]func(*domain.Session), 0, len(s.listeners[id]))
	for _, fn := range s.listeners[id] {
		fns = append(fns, fn)
	}
	go func() {
		for _, fn := range fns {
			fn(snap)
		}
	}()
}

func (s *MemoryStore) CreateSession(_ context.Context, id domain.SessionID, host domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := domain.NewSession(id, host, s.now())
	s.sessions[id] = sess
	log.Info().Str("module", "store.memory").Str("session", string(id)).Str("host", string(host)).Msg("session created")
	s.notify(id, sess)
	return nil
}

func (s *MemoryStore) JoinSession(_ context.Context, id domain.SessionID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, id)
		return domain.ErrSessionExpired
	}
	sess.ExpiresAt = nil
	sess.Participants[user] = domain.ParticipantInfo{JoinedAt: s.now(), IsMicOn: true}
	s.notify(id, sess)
	return nil
}

func (s *MemoryStore) LeaveSession(_ context.Context, id domain.SessionID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.live(id)
	if sess == nil {
		return nil
	}
	delete(sess.Participants, user)
	delete(sess.Signaling, user)
	for from, m := range sess.Signaling {
		delete(m, user)
		if len(m) == 0 {
			delete(sess.Signaling, from)
		}
	}
	if len(sess.Participants) == 0 {
		exp := s.now().Add(s.emptyTTL)
		sess.ExpiresAt = &exp
	}
	s.notify(id, sess)
	return nil
}

func (s *MemoryStore) UpdateMicStatus(_ context.Context, id domain.SessionID, user domain.UserID, isMicOn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.live(id)
	if sess == nil {
		return domain.ErrSessionNotFound
	}
	p, ok := sess.Participants[user]
	if !ok {
		return nil
	}
	p.IsMicOn = isMicOn
	sess.Participants[user] = p
	s.notify(id, sess)
	return nil
}

// entry returns the mutable signaling entry for (from, to), creating
// intermediate maps. Caller holds mu.
func entry(sess *domain.Session, from, to domain.UserID) *domain.SignalEntry {
	if sess.Signaling == nil {
		sess.Signaling = make(map[domain.UserID]map[domain.UserID]*domain.SignalEntry)
	}
	m, ok := sess.Signaling[from]
	if !ok {
		m = make(map[domain.UserID]*domain.SignalEntry)
		sess.Signaling[from] = m
	}
	e, ok := m[to]
	if !ok {
		e = &domain.SignalEntry{}
		m[to] = e
	}
	return e
}

func (s *MemoryStore) SetOffer(_ context.Context, id domain.SessionID, from, to domain.UserID, offer domain.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.live(id)
	if sess == nil {
		return domain.ErrSessionNotFound
	}
	entry(sess, from, to).Offer = &offer
	s.notify(id, sess)
	return nil
}

func (s *MemoryStore) SetAnswer(_ context.Context, id domain.SessionID, from, to domain.UserID, answer domain.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.live(id)
	if sess == nil {
		return domain.ErrSessionNotFound
	}
	entry(sess, from, to).Answer = &answer
	s.notify(id, sess)
	return nil
}

func (s *MemoryStore) AddIceCandidate(_ context.Context, id domain.SessionID, from, to domain.UserID, cand domain.IceCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.live(id)
	if sess == nil {
		return domain.ErrSessionNotFound
	}
	e := entry(sess, from, to)
	e.IceCandidates = append(e.IceCandidates, cand)
	s.notify(id, sess)
	return nil
}

func (s *MemoryStore) ListenToSession(_ context.Context, id domain.SessionID, fn func(*domain.Session)) (func(), error) {
	s.mu.Lock()
	lid := s.nextID
	s.nextID++
	if s.listeners[id] == nil {
		s.listeners[id] = make(map[int]func(*domain.Session))
	}
	s.listeners[id][lid] = fn
	sess := s.live(id)
	var snap *domain.Session
	if sess != nil {
		snap = sess.Clone()
	}
	s.mu.Unlock()

	if snap != nil {
		go fn(snap)
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[id], lid)
		if len(s.listeners[id]) == 0 {
			delete(s.listeners, id)
		}
	}, nil
}

func (s *MemoryStore) SessionExists(_ context.Context, id domain.SessionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(id) != nil, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

var _ core.SignalingStore = (*MemoryStore)(nil)
