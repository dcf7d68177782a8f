package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
	"github.com/zenith-app/calls/internal/store"
)

// personalPair wires caller and callee sides of the protocol onto a
// shared record store and signaling store, each with its own manager.
type personalPair struct {
	records *store.MemoryCallRecords
	caller  *PersonalCalls
	callee  *PersonalCalls
}

func newPersonalPair(t *testing.T, ringTimeout time.Duration) personalPair {
	t.Helper()
	records := store.NewMemoryCallRecords()
	signaling := store.NewMemoryStore()
	caller := NewPersonalCalls(records, newTestCallManager(t, signaling), WithRingTimeout(ringTimeout))
	callee := NewPersonalCalls(records, newTestCallManager(t, signaling), WithRingTimeout(ringTimeout))
	return personalPair{records: records, caller: caller, callee: callee}
}

func (p personalPair) status(t *testing.T, conversationID string) domain.CallStatus {
	t.Helper()
	rec, err := p.records.GetCall(context.Background(), conversationID)
	require.NoError(t, err)
	return rec.Status
}

func TestRingWindowResolvesNoAnswer(t *testing.T) {
	pair := newPersonalPair(t, 100*time.Millisecond)
	ctx := context.Background()

	unsub, err := pair.callee.WatchConversation(ctx, "conv1", "bob", nil)
	require.NoError(t, err)
	defer unsub()

	_, err = pair.caller.StartCall(ctx, "conv1", "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, pair.status(t, "conv1"))

	require.Eventually(t, func() bool {
		return pair.status(t, "conv1") == domain.CallNoAnswer
	}, 3*time.Second, 20*time.Millisecond)

	// The caller must have left the signaling session once the window closed.
	require.Eventually(t, func() bool {
		return pair.caller.mgr.State().Status == core.StatusIdle
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAcceptConnectsAndHangupStampsDuration(t *testing.T) {
	pair := newPersonalPair(t, 5*time.Second)
	ctx := context.Background()

	unsubCaller, err := pair.caller.WatchConversation(ctx, "conv1", "alice", nil)
	require.NoError(t, err)
	defer unsubCaller()

	callID, err := pair.caller.StartCall(ctx, "conv1", "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, pair.callee.AcceptCall(ctx, "conv1", "bob"))
	assert.Equal(t, domain.CallConnected, pair.status(t, "conv1"))
	assert.Equal(t, domain.SessionID(callID), pair.callee.mgr.State().SessionID)

	// Caller observes connected before hanging up.
	require.Eventually(t, func() bool {
		pair.caller.mu.Lock()
		_, ok := pair.caller.connectedAt["conv1"]
		pair.caller.mu.Unlock()
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, pair.caller.Hangup(ctx, "conv1"))

	rec, err := pair.records.GetCall(ctx, "conv1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallEnded, rec.Status)
	require.NotNil(t, rec.DurationSec)
	assert.GreaterOrEqual(t, *rec.DurationSec, 0)

	// The callee side tears its transport down on the terminal record.
	unsubCallee, err := pair.callee.WatchConversation(ctx, "conv1", "bob", nil)
	require.NoError(t, err)
	defer unsubCallee()
	require.Eventually(t, func() bool {
		return pair.callee.mgr.State().Status == core.StatusIdle
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDeclineCall(t *testing.T) {
	pair := newPersonalPair(t, 5*time.Second)
	ctx := context.Background()

	unsub, err := pair.caller.WatchConversation(ctx, "conv1", "alice", nil)
	require.NoError(t, err)
	defer unsub()

	_, err = pair.caller.StartCall(ctx, "conv1", "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, pair.callee.DeclineCall(ctx, "conv1"))
	assert.Equal(t, domain.CallDeclined, pair.status(t, "conv1"))

	// Declining again is not a ringing-state transition anymore.
	assert.ErrorIs(t, pair.callee.DeclineCall(ctx, "conv1"), domain.ErrCallNotFound)

	// The caller stops ringing and leaves the session.
	require.Eventually(t, func() bool {
		return pair.caller.mgr.State().Status == core.StatusIdle
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAcceptWithoutRinging(t *testing.T) {
	pair := newPersonalPair(t, 5*time.Second)
	err := pair.callee.AcceptCall(context.Background(), "conv-none", "bob")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}
