// Package session layers short-lived-session semantics on top of the
// signaling store: shareable codes for multi-party study sessions and
// the ringing protocol for 1:1 personal calls. Both run the same call
// manager underneath.
package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/zenith-app/calls/internal/call"
	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

// Lifecycle coordinates create/join/leave for study sessions keyed by a
// human-shareable code.
type Lifecycle struct {
	store   core.SignalingStore
	mgr     *call.Manager
	codeLen int
}

func NewLifecycle(store core.SignalingStore, mgr *call.Manager) *Lifecycle {
	return &Lifecycle{store: store, mgr: mgr, codeLen: domain.SessionCodeLength}
}

// CreateStudySession generates a fresh code and starts the call as host.
func (l *Lifecycle) CreateStudySession(ctx context.Context, host domain.UserID) (domain.SessionID, error) {
	code := domain.NewSessionCode(l.codeLen)
	if err := l.mgr.InitializeCall(ctx, code, host); err != nil {
		return "", err
	}
	log.Info().Str("module", "session").Str("code", string(code)).Msg("study session created")
	return code, nil
}

// JoinStudySession gates the join on existence (with lazy expiry) before
// spinning up media, so a mistyped code fails fast and cheap.
func (l *Lifecycle) JoinStudySession(ctx context.Context, code domain.SessionID, user domain.UserID) error {
	ok, err := l.store.SessionExists(ctx, code)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	return l.mgr.JoinCall(ctx, code, user)
}

// SessionExists backs the UI's join affordance.
func (l *Lifecycle) SessionExists(ctx context.Context, code domain.SessionID) (bool, error) {
	return l.store.SessionExists(ctx, code)
}

// LeaveStudySession leaves the call; the store marks the session for
// expiry once the roster empties.
func (l *Lifecycle) LeaveStudySession() {
	l.mgr.LeaveCall()
}

// EndStudySession is the host's "end for everyone": leave, then delete
// the document outright instead of waiting for expiry.
func (l *Lifecycle) EndStudySession(ctx context.Context) error {
	st := l.mgr.State()
	l.mgr.LeaveCall()
	if st.SessionID == "" {
		return nil
	}
	return l.store.DeleteSession(ctx, st.SessionID)
}
