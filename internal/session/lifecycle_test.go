package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenith-app/calls/internal/call"
	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
	"github.com/zenith-app/calls/internal/media"
	"github.com/zenith-app/calls/internal/store"
)

func newTestCallManager(t *testing.T, st core.SignalingStore) *call.Manager {
	t.Helper()
	sink, err := media.NewOggSink(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(sink.Close)
	mgr, err := call.NewManager(st, media.NewStaticSource(), sink, call.Config{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	t.Cleanup(cancel)
	return mgr
}

func TestCreateStudySessionReturnsValidCode(t *testing.T) {
	st := store.NewMemoryStore()
	lc := NewLifecycle(st, newTestCallManager(t, st))

	code, err := lc.CreateStudySession(context.Background(), "host1")
	require.NoError(t, err)
	assert.True(t, domain.ValidSessionCode(code))

	ok, err := st.SessionExists(context.Background(), code)
	require.NoError(t, err)
	assert.True(t, ok)
	lc.LeaveStudySession()
}

func TestJoinUnknownCode(t *testing.T) {
	st := store.NewMemoryStore()
	lc := NewLifecycle(st, newTestCallManager(t, st))

	err := lc.JoinStudySession(context.Background(), "ZZZZZZ", "user2")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestJoinExistingSession(t *testing.T) {
	st := store.NewMemoryStore()
	host := NewLifecycle(st, newTestCallManager(t, st))
	joiner := NewLifecycle(st, newTestCallManager(t, st))

	code, err := host.CreateStudySession(context.Background(), "host1")
	require.NoError(t, err)

	require.NoError(t, joiner.JoinStudySession(context.Background(), code, "user2"))

	joiner.LeaveStudySession()
	host.LeaveStudySession()
}

func TestEndStudySessionDeletesDocument(t *testing.T) {
	st := store.NewMemoryStore()
	lc := NewLifecycle(st, newTestCallManager(t, st))

	code, err := lc.CreateStudySession(context.Background(), "host1")
	require.NoError(t, err)

	require.NoError(t, lc.EndStudySession(context.Background()))

	ok, err := st.SessionExists(context.Background(), code)
	require.NoError(t, err)
	assert.False(t, ok, "ending must delete the document outright, not wait for expiry")
}

func TestEndStudySessionWithoutCall(t *testing.T) {
	st := store.NewMemoryStore()
	lc := NewLifecycle(st, newTestCallManager(t, st))
	assert.NoError(t, lc.EndStudySession(context.Background()))
}
