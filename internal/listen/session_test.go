package listen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/tuneroom/internal/coordinator"
	"github.com/petervdpas/tuneroom/internal/permission"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/store"
)

// spyController counts calls and answers Join with a fixed document.
type spyController struct {
	mu     sync.Mutex
	joined room.State
	calls  map[string]int
}

func newSpyController(st room.State) *spyController {
	return &spyController{joined: st, calls: map[string]int{}}
}

func (c *spyController) hit(name string) (room.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[name]++
	return c.joined, nil
}

func (c *spyController) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *spyController) Join(context.Context, string, room.Actor) (room.State, error) {
	return c.hit("join")
}
func (c *spyController) Leave(context.Context, string, room.Actor) (room.State, error) {
	return c.hit("leave")
}
func (c *spyController) Touch(context.Context, string, room.Actor) (room.State, error) {
	return c.hit("touch")
}
func (c *spyController) Enqueue(context.Context, string, room.Actor, room.Track) (room.State, error) {
	return c.hit("enqueue")
}
func (c *spyController) Dequeue(context.Context, string, room.Actor, string) (room.State, error) {
	return c.hit("dequeue")
}
func (c *spyController) TogglePlayPause(context.Context, string, room.Actor) (room.State, error) {
	return c.hit("toggle")
}
func (c *spyController) Skip(context.Context, string, room.Actor) (room.State, error) {
	return c.hit("skip")
}
func (c *spyController) AdvanceFrom(context.Context, string, room.Actor, string, uint64) (room.State, error) {
	return c.hit("advance")
}
func (c *spyController) Previous(context.Context, string, room.Actor) (room.State, error) {
	return c.hit("previous")
}
func (c *spyController) ToggleShuffle(context.Context, string, room.Actor) (room.State, error) {
	return c.hit("shuffle")
}
func (c *spyController) ToggleRepeatMode(context.Context, string, room.Actor) (room.State, error) {
	return c.hit("repeat")
}
func (c *spyController) UpdateControlPolicy(context.Context, string, room.Actor, room.ControlPolicy) (room.State, error) {
	return c.hit("policy")
}
func (c *spyController) Seek(context.Context, string, room.Actor, int64) (room.State, error) {
	return c.hit("seek")
}
func (c *spyController) Stop(context.Context, string, room.Actor) (room.State, error) {
	return c.hit("stop")
}

func TestSessionRejectsBeforeAnyCall(t *testing.T) {
	mock := newMock()
	ctl := newSpyController(playingState(mock.Now().UnixMilli()))
	ctx := context.Background()

	s, err := Join(ctx, ctl, newChanSource(), NewSimulatedMedia(mock, nil), "r1",
		room.Actor{UserID: "guest"}, WithClock(mock))
	require.NoError(t, err)

	_, err = s.TogglePlayPause(ctx)
	require.ErrorIs(t, err, permission.ErrDenied)
	_, err = s.Enqueue(ctx, room.Track{ID: "x", Title: "X", SourceLocator: "x"})
	require.ErrorIs(t, err, permission.ErrDenied)
	_, err = s.UpdateControlPolicy(ctx, room.ControlPolicy{Music: room.ControlAll, Queue: room.ControlAll})
	require.ErrorIs(t, err, permission.ErrDenied)

	assert.Equal(t, 0, ctl.count("toggle"))
	assert.Equal(t, 0, ctl.count("enqueue"))
	assert.Equal(t, 0, ctl.count("policy"))

	require.NoError(t, s.Leave(ctx))
	require.NoError(t, s.Leave(ctx))
	assert.Equal(t, 1, ctl.count("leave"))

	_, err = s.Skip(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSessionOwnerReachesController(t *testing.T) {
	mock := newMock()
	ctl := newSpyController(playingState(mock.Now().UnixMilli()))
	ctx := context.Background()

	s, err := Join(ctx, ctl, newChanSource(), NewSimulatedMedia(mock, nil), "music_room_r1",
		room.Actor{UserID: "owner"}, WithClock(mock))
	require.NoError(t, err)
	defer s.Leave(ctx)

	assert.Equal(t, "r1", s.RoomID())
	_, err = s.TogglePlayPause(ctx)
	require.NoError(t, err)
	_, err = s.Skip(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ctl.count("toggle"))
	assert.Equal(t, 1, ctl.count("skip"))

	_, err = s.EnqueueCandidate(ctx, room.Candidate{Kind: room.KindFallback, ID: "yt-fallback-0", Title: "x"})
	assert.ErrorIs(t, err, room.ErrFallbackCandidate)
	assert.Equal(t, 0, ctl.count("enqueue"))
	assert.Error(t, s.SetVolume(120))
}

func TestSessionHeartbeats(t *testing.T) {
	mock := newMock()
	ctl := newSpyController(playingState(mock.Now().UnixMilli()))
	ctx := context.Background()

	s, err := Join(ctx, ctl, newChanSource(), NewSimulatedMedia(mock, nil), "r1",
		room.Actor{UserID: "guest"}, WithClock(mock))
	require.NoError(t, err)
	defer s.Leave(ctx)

	assert.Eventually(t, func() bool {
		mock.Add(30 * time.Second)
		return ctl.count("touch") >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestTwoClientsHearTheSameTrack(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(store.Options{})
	c := coordinator.New(s, coordinator.WithAuthority())

	durations := func(string) float64 { return 180 }
	m1 := NewSimulatedMedia(nil, durations)
	m2 := NewSimulatedMedia(nil, durations)

	host, err := Join(ctx, c, s, m1, "party", room.Actor{UserID: "u1", DisplayName: "Ann"}, WithAudioUnlocked())
	require.NoError(t, err)
	defer host.Leave(ctx)
	guest, err := Join(ctx, c, s, m2, "party", room.Actor{UserID: "u2", DisplayName: "Bo"}, WithAudioUnlocked())
	require.NoError(t, err)

	_, err = host.Enqueue(ctx, room.Track{ID: "T", Title: "Tune", SourceLocator: "loc-T", DurationSeconds: 180})
	require.NoError(t, err)

	for _, m := range []*SimulatedMedia{m1, m2} {
		require.Eventually(t, func() bool {
			return m.LoadedID() == "loc-T" && m.PlayerState() == PlayerPlaying
		}, 2*time.Second, 10*time.Millisecond)
	}
	require.Eventually(t, func() bool {
		st, ok := guest.State()
		return ok && st.CurrentTrackID() == "T" && st.IsPlaying
	}, 2*time.Second, 10*time.Millisecond)

	// guest cannot pause an owner-controlled room
	_, err = guest.TogglePlayPause(ctx)
	require.ErrorIs(t, err, permission.ErrDenied)

	require.NoError(t, guest.Leave(ctx))
	st, err := c.Get(ctx, "party")
	require.NoError(t, err)
	assert.Len(t, st.Listeners, 1)
	assert.Equal(t, "u1", st.CreatorID)
}
