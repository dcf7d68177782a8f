package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zenith-app/calls/internal/call"
	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

// DefaultRingTimeout is how long a personal call rings before both sides
// independently resolve it to no_answer.
const DefaultRingTimeout = 45 * time.Second

// PersonalCalls runs the 1:1 call protocol: a state machine carried in a
// per-conversation record outside the signaling document.
//
//	ringing -> connected | declined | no_answer
//	connected -> ended
//
// Caller and callee each run the ring timer; whoever fires last simply
// overwrites the same terminal state, which consumers must tolerate.
type PersonalCalls struct {
	records     core.CallRecordStore
	mgr         *call.Manager
	ringTimeout time.Duration
	now         func() time.Time

	mu          sync.Mutex
	ringTimers  map[string]*time.Timer
	connectedAt map[string]time.Time
}

type personalOption func(*PersonalCalls)

// WithRingTimeout compresses the ring window; tests use this.
func WithRingTimeout(d time.Duration) personalOption {
	return func(p *PersonalCalls) { p.ringTimeout = d }
}

func WithPersonalClock(now func() time.Time) personalOption {
	return func(p *PersonalCalls) { p.now = now }
}

func NewPersonalCalls(records core.CallRecordStore, mgr *call.Manager, opts ...personalOption) *PersonalCalls {
	p := &PersonalCalls{
		records:     records,
		mgr:         mgr,
		ringTimeout: DefaultRingTimeout,
		now:         time.Now,
		ringTimers:  make(map[string]*time.Timer),
		connectedAt: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StartCall rings callee: writes the ringing record, enters the
// signaling session keyed by the generated call id, and arms the
// caller-side no-answer timer.
func (p *PersonalCalls) StartCall(ctx context.Context, conversationID string, caller, callee domain.UserID) (string, error) {
	callID := uuid.NewString()
	rec := domain.CallRecord{
		CallID:         callID,
		ConversationID: conversationID,
		CallerID:       caller,
		CalleeID:       callee,
		Status:         domain.CallRinging,
		StartedAt:      p.now(),
		Text:           "Voice call",
	}
	if err := p.records.PutCall(ctx, rec); err != nil {
		return "", err
	}
	if err := p.mgr.InitializeCall(ctx, domain.SessionID(callID), caller); err != nil {
		// Ring never reached the other side usably; end the record.
		if serr := p.records.SetCallStatus(context.Background(), conversationID, callID, domain.CallEnded, nil); serr != nil {
			log.Warn().Err(serr).Str("module", "session").Msg("abort ringing record")
		}
		return "", err
	}
	p.armRingTimer(conversationID, callID)
	log.Info().Str("module", "session").Str("conversation", conversationID).Str("call", callID).Msg("ringing")
	return callID, nil
}

// AcceptCall transitions ringing to connected and joins the signaling
// session as callee.
func (p *PersonalCalls) AcceptCall(ctx context.Context, conversationID string, callee domain.UserID) error {
	rec, err := p.records.GetCall(ctx, conversationID)
	if err != nil {
		return err
	}
	if rec.Status != domain.CallRinging {
		return domain.ErrCallNotFound
	}
	p.disarmRingTimer(conversationID)
	if err := p.records.SetCallStatus(ctx, conversationID, rec.CallID, domain.CallConnected, nil); err != nil {
		return err
	}
	p.mu.Lock()
	p.connectedAt[conversationID] = p.now()
	p.mu.Unlock()
	return p.mgr.JoinCall(ctx, domain.SessionID(rec.CallID), callee)
}

// DeclineCall resolves ringing to declined without touching media.
func (p *PersonalCalls) DeclineCall(ctx context.Context, conversationID string) error {
	rec, err := p.records.GetCall(ctx, conversationID)
	if err != nil {
		return err
	}
	if rec.Status != domain.CallRinging {
		return domain.ErrCallNotFound
	}
	p.disarmRingTimer(conversationID)
	return p.records.SetCallStatus(ctx, conversationID, rec.CallID, domain.CallDeclined, nil)
}

// Hangup ends a connected call, stamping the duration, and leaves the
// transport session.
func (p *PersonalCalls) Hangup(ctx context.Context, conversationID string) error {
	rec, err := p.records.GetCall(ctx, conversationID)
	if err != nil {
		return err
	}
	p.disarmRingTimer(conversationID)
	p.mgr.LeaveCall()
	if rec.Status != domain.CallConnected {
		return nil
	}
	p.mu.Lock()
	connected, ok := p.connectedAt[conversationID]
	delete(p.connectedAt, conversationID)
	p.mu.Unlock()
	var dur *int
	if ok {
		d := int(p.now().Sub(connected).Seconds())
		dur = &d
	}
	return p.records.SetCallStatus(ctx, conversationID, rec.CallID, domain.CallEnded, dur)
}

// WatchConversation subscribes to the call record. It drives the local
// side of the protocol: the callee's independent ring timer, teardown of
// the transport session when the record turns terminal, and the caller's
// connected timestamp. fn, if non-nil, receives every record snapshot
// for the UI.
func (p *PersonalCalls) WatchConversation(ctx context.Context, conversationID string, self domain.UserID, fn func(domain.CallRecord)) (func(), error) {
	return p.records.ListenToCall(ctx, conversationID, func(rec domain.CallRecord) {
		switch rec.Status {
		case domain.CallRinging:
			// Both parties arm the window; convergence is by last write.
			p.armRingTimer(conversationID, rec.CallID)
		case domain.CallConnected:
			p.mu.Lock()
			if _, ok := p.connectedAt[conversationID]; !ok {
				p.connectedAt[conversationID] = p.now()
			}
			p.mu.Unlock()
			p.disarmRingTimer(conversationID)
		case domain.CallDeclined, domain.CallNoAnswer, domain.CallEnded:
			p.disarmRingTimer(conversationID)
			if st := p.mgr.State(); st.SessionID == domain.SessionID(rec.CallID) {
				p.mgr.LeaveCall()
			}
		}
		if fn != nil {
			fn(rec)
		}
	})
}

func (p *PersonalCalls) armRingTimer(conversationID, callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.ringTimers[conversationID]; ok {
		return
	}
	p.ringTimers[conversationID] = time.AfterFunc(p.ringTimeout, func() {
		p.resolveNoAnswer(conversationID, callID)
	})
}

func (p *PersonalCalls) disarmRingTimer(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.ringTimers[conversationID]; ok {
		t.Stop()
		delete(p.ringTimers, conversationID)
	}
}

// resolveNoAnswer fires when the ring window elapses. Near-simultaneous
// writes from both sides land on the same terminal state.
func (p *PersonalCalls) resolveNoAnswer(conversationID, callID string) {
	p.disarmRingTimer(conversationID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := p.records.GetCall(ctx, conversationID)
	if err != nil || rec.CallID != callID {
		return
	}
	if rec.Status == domain.CallRinging {
		if err := p.records.SetCallStatus(ctx, conversationID, callID, domain.CallNoAnswer, nil); err != nil {
			log.Warn().Err(err).Str("module", "session").Str("conversation", conversationID).Msg("no answer write")
		}
		log.Info().Str("module", "session").Str("conversation", conversationID).Msg("call not answered")
	}
	if rec.Status == domain.CallConnected {
		// Answered in the same instant the timer fired; the call stands.
		return
	}
	// Even when the other side won the terminal write, our transport
	// session still has to come down.
	if st := p.mgr.State(); st.SessionID == domain.SessionID(callID) {
		p.mgr.LeaveCall()
	}
}
