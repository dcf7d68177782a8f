package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
	"github.com/zenith-app/calls/internal/media"
	"github.com/zenith-app/calls/internal/store"
)

// fakeMedia fails capture with a fixed error, or delegates to a real
// silent source when none is set.
type fakeMedia struct {
	err   error
	inner core.MediaSource
}

func (f *fakeMedia) Capture(ctx context.Context, c core.CaptureConstraints) (core.LocalAudio, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.inner.Capture(ctx, c)
}

// countingStore counts document mutations so tests can assert that a
// failed bring-up never touched the store.
type countingStore struct {
	core.SignalingStore
	mutations atomic.Int64
}

func (c *countingStore) CreateSession(ctx context.Context, id domain.SessionID, host domain.UserID) error {
	c.mutations.Add(1)
	return c.SignalingStore.CreateSession(ctx, id, host)
}

func (c *countingStore) JoinSession(ctx context.Context, id domain.SessionID, user domain.UserID) error {
	c.mutations.Add(1)
	return c.SignalingStore.JoinSession(ctx, id, user)
}

func (c *countingStore) LeaveSession(ctx context.Context, id domain.SessionID, user domain.UserID) error {
	c.mutations.Add(1)
	return c.SignalingStore.LeaveSession(ctx, id, user)
}

func (c *countingStore) SetOffer(ctx context.Context, id domain.SessionID, from, to domain.UserID, offer domain.SessionDescription) error {
	c.mutations.Add(1)
	return c.SignalingStore.SetOffer(ctx, id, from, to, offer)
}

type fakeSink struct {
	mu       sync.Mutex
	attached []domain.UserID
}

func (f *fakeSink) Attach(user domain.UserID, _ *webrtc.TrackRemote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, user)
	return nil
}

func (f *fakeSink) Detach(domain.UserID) {}
func (f *fakeSink) Close()               {}

func newTestManager(t *testing.T, st core.SignalingStore, src core.MediaSource) *Manager {
	t.Helper()
	mgr, err := NewManager(st, src, &fakeSink{}, Config{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	t.Cleanup(cancel)
	return mgr
}

func TestInitializeCallMediaFailureLeavesStoreUntouched(t *testing.T) {
	st := &countingStore{SignalingStore: store.NewMemoryStore()}
	src := &fakeMedia{err: fmt.Errorf("getUserMedia: %w", domain.ErrMediaPermissionDenied)}
	mgr := newTestManager(t, st, src)

	err := mgr.InitializeCall(context.Background(), "XYZ789", "host1")
	require.ErrorIs(t, err, domain.ErrMediaPermissionDenied)

	state := mgr.State()
	assert.Equal(t, core.StatusFailed, state.Status)
	assert.NotEmpty(t, state.Error)
	assert.Equal(t, int64(0), st.mutations.Load(), "a capture failure must not write to the session document")
}

func TestLeaveCallIdempotent(t *testing.T) {
	mgr := newTestManager(t, store.NewMemoryStore(), media.NewStaticSource())

	mgr.LeaveCall()
	mgr.LeaveCall()
	assert.Equal(t, core.StatusIdle, mgr.State().Status)

	require.NoError(t, mgr.InitializeCall(context.Background(), "XYZ789", "host1"))
	mgr.LeaveCall()
	mgr.LeaveCall()

	state := mgr.State()
	assert.Equal(t, core.StatusIdle, state.Status)
	assert.Empty(t, state.SessionID)
}

func TestInitializeWhileActive(t *testing.T) {
	mgr := newTestManager(t, store.NewMemoryStore(), media.NewStaticSource())

	require.NoError(t, mgr.InitializeCall(context.Background(), "XYZ789", "host1"))
	err := mgr.InitializeCall(context.Background(), "ABC234", "host1")
	assert.ErrorIs(t, err, domain.ErrCallActive)
	mgr.LeaveCall()
}

func TestToggleMic(t *testing.T) {
	st := store.NewMemoryStore()
	mgr := newTestManager(t, st, media.NewStaticSource())

	require.NoError(t, mgr.InitializeCall(context.Background(), "XYZ789", "host1"))
	require.True(t, mgr.State().IsMicOn, "mic starts on")

	assert.False(t, mgr.ToggleMic())
	assert.True(t, mgr.ToggleMic())

	mgr.ToggleMic()
	require.Eventually(t, func() bool {
		doc := latestDoc(t, st, "XYZ789")
		if doc == nil {
			return false
		}
		info, ok := doc.Participants["host1"]
		return ok && !info.IsMicOn
	}, 3*time.Second, 20*time.Millisecond, "mic state must be mirrored into the document")
	mgr.LeaveCall()
}

func TestHostOffersAndJoinerAnswers(t *testing.T) {
	st := store.NewMemoryStore()

	host := newTestManager(t, st, media.NewStaticSource())
	joiner := newTestManager(t, st, media.NewStaticSource())

	require.NoError(t, host.InitializeCall(context.Background(), "XYZ789", "host1"))
	require.NoError(t, joiner.JoinCall(context.Background(), "XYZ789", "user2"))

	assert.Equal(t, core.StatusConnected, host.State().Status)
	assert.Equal(t, core.StatusConnected, joiner.State().Status)

	require.Eventually(t, func() bool {
		doc := latestDoc(t, st, "XYZ789")
		if doc == nil {
			return false
		}
		entry := doc.Entry("host1", "user2")
		return entry != nil && entry.Offer != nil
	}, 5*time.Second, 20*time.Millisecond, "host must write an offer for the joiner")

	require.Eventually(t, func() bool {
		doc := latestDoc(t, st, "XYZ789")
		if doc == nil {
			return false
		}
		entry := doc.Entry("user2", "host1")
		return entry != nil && entry.Answer != nil
	}, 5*time.Second, 20*time.Millisecond, "joiner must answer the offer addressed to it")

	require.Eventually(t, func() bool {
		for _, p := range host.State().Participants {
			if p.UserID == "user2" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "joiner must appear in the host roster")

	joiner.LeaveCall()
	host.LeaveCall()
}

// latestDoc reads the current document through a throwaway subscription.
func latestDoc(t *testing.T, st core.SignalingStore, id domain.SessionID) *domain.Session {
	t.Helper()
	got := make(chan *domain.Session, 1)
	unsub, err := st.ListenToSession(context.Background(), id, func(doc *domain.Session) {
		select {
		case got <- doc:
		default:
		}
	})
	if err != nil {
		return nil
	}
	defer unsub()
	select {
	case doc := <-got:
		return doc
	case <-time.After(time.Second):
		return nil
	}
}
