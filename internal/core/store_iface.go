package core

import (
	"context"

	"github.com/zenith-app/calls/internal/domain"
)

// SignalingStore is durable, observable storage for session documents.
// No call semantics beyond CRUD, merge-patch and subscribe; every
// operation is a remote call and may fail transiently.
type SignalingStore interface {
	// CreateSession writes a fresh document with host as sole participant.
	// Overwriting is acceptable: session ids are freshly generated.
	CreateSession(ctx context.Context, id domain.SessionID, host domain.UserID) error

	// JoinSession merge-patches the participant entry after a lazy expiry
	// check. An expired session is deleted and reported as
	// domain.ErrSessionExpired; a session that never existed is
	// domain.ErrSessionNotFound. Joining revives the session by clearing
	// its expiry.
	JoinSession(ctx context.Context, id domain.SessionID, user domain.UserID) error

	// LeaveSession removes the participant and scrubs both the leaver's
	// outgoing signaling subtree and every incoming entry addressed to it.
	// When the roster empties the session is kept for a grace period
	// rather than deleted, so a rapid rejoin still finds it.
	LeaveSession(ctx context.Context, id domain.SessionID, user domain.UserID) error

	UpdateMicStatus(ctx context.Context, id domain.SessionID, user domain.UserID, isMicOn bool) error

	SetOffer(ctx context.Context, id domain.SessionID, from, to domain.UserID, offer domain.SessionDescription) error
	SetAnswer(ctx context.Context, id domain.SessionID, from, to domain.UserID, answer domain.SessionDescription) error
	// AddIceCandidate appends to signaling[from][to].iceCandidates.
	// Append-only, never deduplicated.
	AddIceCandidate(ctx context.Context, id domain.SessionID, from, to domain.UserID, cand domain.IceCandidate) error

	// ListenToSession invokes fn with the full current document on every
	// write, including the subscriber's own. Delivery may coalesce rapid
	// successive writes. The returned func unsubscribes.
	ListenToSession(ctx context.Context, id domain.SessionID, fn func(*domain.Session)) (func(), error)

	// SessionExists reads with the same lazy expiry policy as JoinSession.
	SessionExists(ctx context.Context, id domain.SessionID) (bool, error)

	DeleteSession(ctx context.Context, id domain.SessionID) error
}

// CallRecordStore holds the per-conversation record a 1:1 call is
// coordinated through. Both parties write; last writer wins.
type CallRecordStore interface {
	PutCall(ctx context.Context, rec domain.CallRecord) error
	GetCall(ctx context.Context, conversationID string) (*domain.CallRecord, error)
	// SetCallStatus merge-patches status (and optionally duration) of the
	// record, leaving other fields untouched.
	SetCallStatus(ctx context.Context, conversationID, callID string, status domain.CallStatus, durationSec *int) error
	// ListenToCall invokes fn with the full record on every write.
	ListenToCall(ctx context.Context, conversationID string, fn func(domain.CallRecord)) (func(), error)
}
