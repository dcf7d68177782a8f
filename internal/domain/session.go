// Package domain contains entities without logic, just meta-data.
package domain

import "time"

type (
	SessionID string
	UserID    string
)

// SessionDescription is an SDP payload carried through the session document.
type SessionDescription struct {
	Type string `json:"type" bson:"type"`
	SDP  string `json:"sdp" bson:"sdp"`
}

// IceCandidate mirrors the wire shape of a trickled ICE candidate.
type IceCandidate struct {
	Candidate        string  `json:"candidate" bson:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" bson:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" bson:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" bson:"usernameFragment,omitempty"`
}

// SignalEntry holds the negotiation state for one directed peer pair.
// IceCandidates is append-only; consumers must tolerate replays.
type SignalEntry struct {
	Offer         *SessionDescription `json:"offer,omitempty" bson:"offer,omitempty"`
	Answer        *SessionDescription `json:"answer,omitempty" bson:"answer,omitempty"`
	IceCandidates []IceCandidate      `json:"iceCandidates,omitempty" bson:"iceCandidates,omitempty"`
}

type ParticipantInfo struct {
	JoinedAt time.Time `json:"joinedAt" bson:"joinedAt"`
	IsMicOn  bool      `json:"isMicOn" bson:"isMicOn"`
}

// Session is the shared call coordination document. It is multi-writer:
// every participant merge-patches only the fields it owns.
type Session struct {
	ID           SessionID                          `json:"sessionId" bson:"_id"`
	HostID       UserID                             `json:"hostId" bson:"hostId"`
	CreatedAt    time.Time                          `json:"createdAt" bson:"createdAt"`
	ExpiresAt    *time.Time                         `json:"expiresAt,omitempty" bson:"expiresAt,omitempty"`
	Participants map[UserID]ParticipantInfo         `json:"participants" bson:"participants"`
	Signaling    map[UserID]map[UserID]*SignalEntry `json:"signaling,omitempty" bson:"signaling,omitempty"`
}

func NewSession(id SessionID, host UserID, now time.Time) *Session {
	return &Session{
		ID:        id,
		HostID:    host,
		CreatedAt: now,
		Participants: map[UserID]ParticipantInfo{
			host: {JoinedAt: now, IsMicOn: true},
		},
		Signaling: map[UserID]map[UserID]*SignalEntry{},
	}
}

// Expired reports whether the session carries an expiry timestamp in the past.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// Entry returns the signaling entry addressed from one participant to
// another, or nil when nothing has been written for that pair yet.
func (s *Session) Entry(from, to UserID) *SignalEntry {
	if s.Signaling == nil {
		return nil
	}
	return s.Signaling[from][to]
}

// Clone returns a deep copy so listeners can never mutate store state.
func (s *Session) Clone() *Session {
	out := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	out.Participants = make(map[UserID]ParticipantInfo, len(s.Participants))
	for id, p := range s.Participants {
		out.Participants[id] = p
	}
	out.Signaling = make(map[UserID]map[UserID]*SignalEntry, len(s.Signaling))
	for from, m := range s.Signaling {
		cm := make(map[UserID]*SignalEntry, len(m))
		for to, e := range m {
			ce := &SignalEntry{}
			if e.Offer != nil {
				o := *e.Offer
				ce.Offer = &o
			}
			if e.Answer != nil {
				a := *e.Answer
				ce.Answer = &a
			}
			ce.IceCandidates = append([]IceCandidate(nil), e.IceCandidates...)
			cm[to] = ce
		}
		out.Signaling[from] = cm
	}
	return &out
}
