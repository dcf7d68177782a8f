package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionCode(t *testing.T) {
	seen := make(map[SessionID]bool)
	for i := 0; i < 100; i++ {
		code := NewSessionCode(SessionCodeLength)
		assert.True(t, ValidSessionCode(code), "generated code %q must validate", code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 90, "codes should not collide in practice")
}

func TestValidSessionCode(t *testing.T) {
	assert.False(t, ValidSessionCode("abc"))
	assert.False(t, ValidSessionCode("O0I1!!"), "ambiguous characters are not in the alphabet")
	assert.True(t, ValidSessionCode("ABC234"))
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	s := NewSession("ABC234", "host1", now)
	assert.False(t, s.Expired(now), "no expiry set")

	past := now.Add(-time.Second)
	s.ExpiresAt = &past
	assert.True(t, s.Expired(now))

	future := now.Add(time.Minute)
	s.ExpiresAt = &future
	assert.False(t, s.Expired(now))
}

func TestSessionCloneIsDeep(t *testing.T) {
	now := time.Now()
	s := NewSession("ABC234", "host1", now)
	s.Signaling["host1"] = map[UserID]*SignalEntry{
		"user2": {
			Offer:         &SessionDescription{Type: "offer", SDP: "original"},
			IceCandidates: []IceCandidate{{Candidate: "candidate:1"}},
		},
	}

	c := s.Clone()
	c.Participants["user9"] = ParticipantInfo{JoinedAt: now}
	c.Signaling["host1"]["user2"].Offer.SDP = "mutated"
	c.Signaling["host1"]["user2"].IceCandidates = append(c.Signaling["host1"]["user2"].IceCandidates, IceCandidate{Candidate: "candidate:2"})

	require.NotContains(t, s.Participants, UserID("user9"))
	assert.Equal(t, "original", s.Signaling["host1"]["user2"].Offer.SDP)
	assert.Len(t, s.Signaling["host1"]["user2"].IceCandidates, 1)
}

func TestCallStatusTerminal(t *testing.T) {
	assert.False(t, CallRinging.Terminal())
	assert.False(t, CallConnected.Terminal())
	assert.True(t, CallDeclined.Terminal())
	assert.True(t, CallNoAnswer.Terminal())
	assert.True(t, CallEnded.Terminal())
}
