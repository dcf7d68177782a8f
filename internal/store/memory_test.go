package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenith-app/calls/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// watch registers a listener and returns a channel of snapshots.
func watch(t *testing.T, s *MemoryStore, id domain.SessionID) <-chan *domain.Session {
	t.Helper()
	ch := make(chan *domain.Session, 32)
	unsub, err := s.ListenToSession(context.Background(), id, func(sess *domain.Session) {
		ch <- sess
	})
	require.NoError(t, err)
	t.Cleanup(unsub)
	return ch
}

// lastSnapshot drains the channel until it quiesces and returns the
// newest document observed.
func lastSnapshot(t *testing.T, ch <-chan *domain.Session) *domain.Session {
	t.Helper()
	var last *domain.Session
	for {
		select {
		case s := <-ch:
			last = s
		case <-time.After(100 * time.Millisecond):
			require.NotNil(t, last, "no snapshot delivered")
			return last
		}
	}
}

func TestJoinWithoutCreate(t *testing.T) {
	s := NewMemoryStore()
	err := s.JoinSession(context.Background(), "NOPE42", "user1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestLazyExpiry(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "ABC123", "host1"))
	require.NoError(t, s.LeaveSession(ctx, "ABC123", "host1"))

	t.Run("empty session carries a grace period", func(t *testing.T) {
		ok, err := s.SessionExists(ctx, "ABC123")
		require.NoError(t, err)
		assert.True(t, ok, "session should survive within the grace period")
	})

	t.Run("rejoin within the window revives", func(t *testing.T) {
		clock.Advance(10 * time.Second)
		require.NoError(t, s.JoinSession(ctx, "ABC123", "host1"))
		ch := watch(t, s, "ABC123")
		snap := lastSnapshot(t, ch)
		assert.Nil(t, snap.ExpiresAt, "join must clear the expiry")
	})

	t.Run("expired session reads as gone, repeatedly", func(t *testing.T) {
		require.NoError(t, s.LeaveSession(ctx, "ABC123", "host1"))
		clock.Advance(31 * time.Second)
		for i := 0; i < 3; i++ {
			ok, err := s.SessionExists(ctx, "ABC123")
			require.NoError(t, err)
			assert.False(t, ok)
		}
		err := s.JoinSession(ctx, "ABC123", "user2")
		require.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

func TestJoinExpiredReportsExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "DEF456", "host1"))
	require.NoError(t, s.LeaveSession(ctx, "DEF456", "host1"))
	clock.Advance(DefaultEmptyTTL + time.Second)

	// First read hits the stale document: delete-and-fail.
	require.ErrorIs(t, s.JoinSession(ctx, "DEF456", "user2"), domain.ErrSessionExpired)
	// Second read finds nothing at all.
	require.ErrorIs(t, s.JoinSession(ctx, "DEF456", "user2"), domain.ErrSessionNotFound)
}

func TestLeaveLastParticipantSetsExpiry(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "GHJ789", "host1"))
	ch := watch(t, s, "GHJ789")
	require.NoError(t, s.LeaveSession(ctx, "GHJ789", "host1"))

	snap := lastSnapshot(t, ch)
	require.NotNil(t, snap.ExpiresAt)
	assert.Equal(t, clock.Now().Add(30*time.Second), *snap.ExpiresAt)
}

func TestConcurrentIceCandidatesBothPersist(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "KLM234", "host1"))
	require.NoError(t, s.JoinSession(ctx, "KLM234", "user2"))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		cand := domain.IceCandidate{Candidate: "candidate:" + string(rune('a'+i))}
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AddIceCandidate(ctx, "KLM234", "host1", "user2", cand))
		}()
	}
	wg.Wait()

	ch := watch(t, s, "KLM234")
	snap := lastSnapshot(t, ch)
	entry := snap.Entry("host1", "user2")
	require.NotNil(t, entry)
	assert.Len(t, entry.IceCandidates, 2, "append-only list must keep both writers")
}

func TestOfferRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "NPQ567", "host1"))

	offer := domain.SessionDescription{Type: "offer", SDP: "v=0\r\no=- 42 2 IN IP4 127.0.0.1\r\ns=-\r\n"}
	ch := watch(t, s, "NPQ567")
	require.NoError(t, s.SetOffer(ctx, "NPQ567", "host1", "user2", offer))

	snap := lastSnapshot(t, ch)
	entry := snap.Entry("host1", "user2")
	require.NotNil(t, entry)
	require.NotNil(t, entry.Offer)
	assert.Equal(t, offer, *entry.Offer, "offer must survive the round trip byte-for-byte")
}

func TestLeaveScrubsSignaling(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "RST890", "host1"))
	require.NoError(t, s.JoinSession(ctx, "RST890", "user2"))
	require.NoError(t, s.JoinSession(ctx, "RST890", "user3"))

	desc := domain.SessionDescription{Type: "offer", SDP: "sdp"}
	require.NoError(t, s.SetOffer(ctx, "RST890", "host1", "user2", desc))
	require.NoError(t, s.SetOffer(ctx, "RST890", "user2", "user3", desc))
	require.NoError(t, s.SetAnswer(ctx, "RST890", "user3", "user2", domain.SessionDescription{Type: "answer", SDP: "sdp"}))

	ch := watch(t, s, "RST890")
	require.NoError(t, s.LeaveSession(ctx, "RST890", "user2"))

	snap := lastSnapshot(t, ch)
	assert.NotContains(t, snap.Participants, domain.UserID("user2"))
	assert.Nil(t, snap.Entry("user2", "user3"), "outgoing subtree must be scrubbed")
	assert.Nil(t, snap.Entry("host1", "user2"), "incoming entries must be scrubbed")
	assert.Nil(t, snap.Entry("user3", "user2"), "incoming entries must be scrubbed")
}

func TestUpdateMicStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "UVW123", "host1"))

	ch := watch(t, s, "UVW123")
	require.NoError(t, s.UpdateMicStatus(ctx, "UVW123", "host1", false))

	snap := lastSnapshot(t, ch)
	assert.False(t, snap.Participants["host1"].IsMicOn)
}

func TestDeleteSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "XYZ456", "host1"))
	require.NoError(t, s.DeleteSession(ctx, "XYZ456"))
	ok, err := s.SessionExists(ctx, "XYZ456")
	require.NoError(t, err)
	assert.False(t, ok)
}
