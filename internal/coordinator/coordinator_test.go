package coordinator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/tuneroom/internal/permission"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/store"
)

var (
	owner = room.Actor{UserID: "owner", DisplayName: "Owner"}
	guest = room.Actor{UserID: "guest", DisplayName: "Guest"}
)

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func setup(t *testing.T, opts ...Option) (*Coordinator, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Add(time.Hour)
	s := store.NewMemoryStore(store.Options{Clock: mock, MaxRetries: 50, BaseBackoff: time.Millisecond})
	all := append([]Option{WithClock(mock)}, opts...)
	return New(s, all...), mock
}

func tr(id string) room.Track {
	return room.Track{ID: id, Title: "Track " + id, SourceLocator: "https://cdn/" + id + ".mp3", DurationSeconds: 200}
}

func ids(ts []room.Track) []string {
	out := []string{}
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func TestJoinCreatesRoomWithCreator(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	st, err := c.Join(ctx, "r1", owner)
	require.NoError(t, err)
	assert.Equal(t, "owner", st.CreatorID)
	assert.Equal(t, uint64(1), st.Version)

	st, err = c.Join(ctx, "music_room_r1", guest)
	require.NoError(t, err)
	assert.Equal(t, "owner", st.CreatorID)
	assert.Equal(t, "r1", st.RoomID)
	assert.Len(t, st.Listeners, 2)

	st, err = c.Join(ctx, "r1", guest)
	require.NoError(t, err)
	assert.Len(t, st.Listeners, 2, "rejoin does not duplicate")

	_, err = c.Join(ctx, "r1", room.Actor{})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLeaveIsIdempotent(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	_, err := c.Join(ctx, "r1", owner)
	require.NoError(t, err)
	_, err = c.Join(ctx, "r1", guest)
	require.NoError(t, err)

	first, err := c.Leave(ctx, "r1", guest)
	require.NoError(t, err)
	second, err := c.Leave(ctx, "r1", guest)
	require.NoError(t, err)

	assert.Equal(t, first.Listeners, second.Listeners)
	assert.Equal(t, first.Version, second.Version, "second leave commits nothing")

	_, err = c.Leave(ctx, "missing", guest)
	assert.NoError(t, err)
}

func TestMutationOnMissingRoom(t *testing.T) {
	c, _ := setup(t)
	_, err := c.Enqueue(context.Background(), "missing", owner, tr("A"))
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = c.TogglePlayPause(context.Background(), "missing", owner)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = c.Dequeue(context.Background(), "missing", owner, "A")
	assert.NoError(t, err)
}

func TestEnqueueFIFOAndSkip(t *testing.T) {
	c, mock := setup(t)
	ctx := context.Background()
	_, err := c.Join(ctx, "r1", owner)
	require.NoError(t, err)

	st, err := c.Enqueue(ctx, "r1", owner, tr("A"))
	require.NoError(t, err)
	assert.Equal(t, "A", st.CurrentTrackID())
	assert.True(t, st.IsPlaying)
	assert.Equal(t, mock.Now().UnixMilli(), *st.StartedAtMs)
	assert.Equal(t, "owner", st.CurrentTrack.AddedBy)

	_, err = c.Enqueue(ctx, "r1", owner, tr("B"))
	require.NoError(t, err)
	st, err = c.Skip(ctx, "r1", owner)
	require.NoError(t, err)

	assert.Equal(t, "B", st.CurrentTrackID())
	assert.Empty(t, st.Queue)
	assert.Equal(t, []string{"A"}, ids(st.PlayHistory))
}

func TestSkipPromotesOneCopyOfARepeatedSong(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	_, err := c.Join(ctx, "r1", owner)
	require.NoError(t, err)

	for _, id := range []string{"C", "A", "B", "A"} {
		_, err = c.Enqueue(ctx, "r1", owner, tr(id))
		require.NoError(t, err)
	}
	st, err := c.Skip(ctx, "r1", owner)
	require.NoError(t, err)

	assert.Equal(t, "A", st.CurrentTrackID())
	assert.Equal(t, []string{"B", "A"}, ids(st.Queue))
	assert.Equal(t, []string{"C"}, ids(st.PlayHistory))
}

func TestEnqueueSongThatIsPlaying(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	_, err := c.Join(ctx, "r1", owner)
	require.NoError(t, err)

	_, err = c.Enqueue(ctx, "r1", owner, tr("A"))
	require.NoError(t, err)
	st, err := c.Enqueue(ctx, "r1", owner, tr("A"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(st.Queue))
	assert.Equal(t, uint64(3), st.Version)
}

func TestEnqueueRejectsInvalidTrack(t *testing.T) {
	c, _ := setup(t)
	_, err := c.Join(context.Background(), "r1", owner)
	require.NoError(t, err)
	_, err = c.Enqueue(context.Background(), "r1", owner, room.Track{ID: "x"})
	assert.ErrorIs(t, err, room.ErrInvalidTrack)
}

func TestRepeatOneSkipKeepsTrack(t *testing.T) {
	c, mock := setup(t)
	ctx := context.Background()
	_, _ = c.Join(ctx, "r1", owner)
	_, _ = c.Enqueue(ctx, "r1", owner, tr("A"))
	_, _ = c.Enqueue(ctx, "r1", owner, tr("B"))
	st, err := c.ToggleRepeatMode(ctx, "r1", owner)
	require.NoError(t, err)
	st, err = c.ToggleRepeatMode(ctx, "r1", owner)
	require.NoError(t, err)
	require.Equal(t, room.RepeatOne, st.RepeatMode)

	for i := 0; i < 3; i++ {
		mock.Add(10 * time.Second)
		st, err = c.Skip(ctx, "r1", owner)
		require.NoError(t, err)
		assert.Equal(t, "A", st.CurrentTrackID())
		assert.Equal(t, int64(0), st.PositionMs(mock.Now().UnixMilli()))
	}
}

func TestRepeatAllWraparound(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	_, _ = c.Join(ctx, "r1", owner)
	for _, id := range []string{"X", "Y", "Z"} {
		_, err := c.Enqueue(ctx, "r1", owner, tr(id))
		require.NoError(t, err)
	}
	_, err := c.ToggleRepeatMode(ctx, "r1", owner)
	require.NoError(t, err)

	played := []string{}
	for i := 0; i < 6; i++ {
		st, err := c.Get(ctx, "r1")
		require.NoError(t, err)
		played = append(played, st.CurrentTrackID())
		_, err = c.AdvanceFrom(ctx, "r1", owner, st.CurrentTrackID(), st.Segment)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"X", "Y", "Z", "X", "Y", "Z"}, played)
}

func TestAdvanceFromStaleTrackIsNoop(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	_, _ = c.Join(ctx, "r1", owner)
	_, _ = c.Enqueue(ctx, "r1", owner, tr("A"))
	_, _ = c.Enqueue(ctx, "r1", owner, tr("B"))
	_, _ = c.Enqueue(ctx, "r1", owner, tr("C"))

	// two clients report the end of A
	st1, err := c.AdvanceFrom(ctx, "r1", owner, "A", 0)
	require.NoError(t, err)
	st2, err := c.AdvanceFrom(ctx, "r1", guest, "A", 0)
	require.NoError(t, err)

	assert.Equal(t, "B", st1.CurrentTrackID())
	assert.Equal(t, "B", st2.CurrentTrackID())
	assert.Equal(t, st1.Version, st2.Version)
	assert.Equal(t, []string{"C"}, ids(st2.Queue))
}

func TestRepeatOneDuplicateEndRestartsOnce(t *testing.T) {
	c, mock := setup(t)
	ctx := context.Background()
	_, _ = c.Join(ctx, "r1", owner)
	st, err := c.Enqueue(ctx, "r1", owner, tr("A"))
	require.NoError(t, err)
	_, err = c.ToggleRepeatMode(ctx, "r1", owner)
	require.NoError(t, err)
	st, err = c.ToggleRepeatMode(ctx, "r1", owner)
	require.NoError(t, err)
	require.Equal(t, room.RepeatOne, st.RepeatMode)

	ended := st.Segment
	mock.Add(200 * time.Second)
	first, err := c.AdvanceFrom(ctx, "r1", owner, "A", ended)
	require.NoError(t, err)
	restartedAt := *first.StartedAtMs

	mock.Add(300 * time.Millisecond)
	second, err := c.AdvanceFrom(ctx, "r1", guest, "A", ended)
	require.NoError(t, err)

	assert.Equal(t, ended+1, second.Segment)
	assert.Equal(t, first.Version, second.Version, "second report commits nothing")
	assert.Equal(t, restartedAt, *second.StartedAtMs)
}

func TestShuffleProducesPermutation(t *testing.T) {
	for seed := uint64(1); seed <= 10; seed++ {
		c, _ := setup(t, WithRand(&lockedRand{r: rand.New(rand.NewPCG(seed, 99))}))
		ctx := context.Background()
		_, _ = c.Join(ctx, "r1", owner)
		for _, id := range []string{"A", "B", "C", "D"} {
			_, err := c.Enqueue(ctx, "r1", owner, tr(id))
			require.NoError(t, err)
		}
		st, err := c.ToggleShuffle(ctx, "r1", owner)
		require.NoError(t, err)
		assert.True(t, st.ShuffleEnabled)
		assert.Equal(t, "A", st.CurrentTrackID())
		assert.ElementsMatch(t, []string{"B", "C", "D"}, ids(st.Queue))
	}
}

func TestTogglePlayPauseAnchors(t *testing.T) {
	c, mock := setup(t)
	ctx := context.Background()
	_, _ = c.Join(ctx, "r1", owner)
	_, _ = c.Enqueue(ctx, "r1", owner, tr("A"))

	mock.Add(7 * time.Second)
	st, err := c.TogglePlayPause(ctx, "r1", owner)
	require.NoError(t, err)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, int64(7000), st.PositionAnchorMs)

	mock.Add(time.Minute)
	st, err = c.TogglePlayPause(ctx, "r1", owner)
	require.NoError(t, err)
	assert.True(t, st.IsPlaying)
	mock.Add(2 * time.Second)
	assert.Equal(t, int64(9000), st.PositionMs(mock.Now().UnixMilli()))

	st, err = c.Seek(ctx, "r1", owner, 30000)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), st.PositionMs(mock.Now().UnixMilli()))

	st, err = c.Stop(ctx, "r1", owner)
	require.NoError(t, err)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, int64(0), st.PositionAnchorMs)

	_, err = c.Seek(ctx, "r1", owner, -1)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestPrevious(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	_, _ = c.Join(ctx, "r1", owner)
	_, _ = c.Enqueue(ctx, "r1", owner, tr("A"))
	_, _ = c.Enqueue(ctx, "r1", owner, tr("B"))

	before, err := c.Previous(ctx, "r1", owner)
	require.NoError(t, err)
	assert.Equal(t, "A", before.CurrentTrackID(), "empty history is a no-op")

	_, _ = c.Skip(ctx, "r1", owner)
	st, err := c.Previous(ctx, "r1", owner)
	require.NoError(t, err)
	assert.Equal(t, "A", st.CurrentTrackID())
	assert.Equal(t, []string{"B"}, ids(st.Queue))
}

func TestAuthorityRejectsInsideMutation(t *testing.T) {
	c, _ := setup(t, WithAuthority())
	ctx := context.Background()
	_, _ = c.Join(ctx, "r1", owner)
	_, _ = c.Join(ctx, "r1", guest)
	before, err := c.Enqueue(ctx, "r1", owner, tr("A"))
	require.NoError(t, err)

	_, err = c.TogglePlayPause(ctx, "r1", guest)
	assert.ErrorIs(t, err, permission.ErrDenied)
	_, err = c.Enqueue(ctx, "r1", guest, tr("B"))
	assert.ErrorIs(t, err, permission.ErrDenied)
	_, err = c.UpdateControlPolicy(ctx, "r1", guest, room.ControlPolicy{Music: room.ControlAll})
	assert.ErrorIs(t, err, permission.ErrDenied)

	after, err := c.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, after.IsPlaying)

	_, err = c.UpdateControlPolicy(ctx, "r1", owner, room.ControlPolicy{Music: room.ControlAll})
	require.NoError(t, err)
	st, err := c.TogglePlayPause(ctx, "r1", guest)
	require.NoError(t, err)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, room.ControlOwner, st.ControlPolicy.Queue, "partial update keeps queue policy")

	_, err = c.Enqueue(ctx, "r1", room.Actor{UserID: "ops", Admin: true}, tr("C"))
	assert.NoError(t, err)
}

func TestUpdateControlPolicyValidates(t *testing.T) {
	c, _ := setup(t)
	_, _ = c.Join(context.Background(), "r1", owner)
	_, err := c.UpdateControlPolicy(context.Background(), "r1", owner, room.ControlPolicy{Music: "everyone"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestConcurrentEnqueuesAllLand(t *testing.T) {
	c, _ := setup(t, WithAuthority())
	ctx := context.Background()
	_, err := c.Join(ctx, "r1", owner)
	require.NoError(t, err)
	_, err = c.UpdateControlPolicy(ctx, "r1", owner, room.ControlPolicy{Queue: room.ControlAll})
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := room.Actor{UserID: fmt.Sprintf("u%d", i)}
			_, err := c.Enqueue(ctx, "r1", actor, tr(fmt.Sprintf("T%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st, err := c.Get(ctx, "r1")
	require.NoError(t, err)
	all := append([]string{st.CurrentTrackID()}, ids(st.Queue)...)
	assert.Len(t, all, n)
}

func TestTouchAndPrune(t *testing.T) {
	c, mock := setup(t)
	ctx := context.Background()
	_, _ = c.Join(ctx, "r1", owner)
	_, _ = c.Join(ctx, "r1", guest)

	mock.Add(60 * time.Second)
	_, err := c.Touch(ctx, "r1", owner)
	require.NoError(t, err)
	mock.Add(60 * time.Second)

	cutoff := mock.Now().Add(-90 * time.Second).UnixMilli()
	st, abandoned, err := c.PruneStale(ctx, "r1", cutoff)
	require.NoError(t, err)
	assert.False(t, abandoned)
	require.Len(t, st.Listeners, 1)
	assert.Equal(t, "owner", st.Listeners[0].UserID)

	mock.Add(60 * time.Second)
	cutoff = mock.Now().Add(-90 * time.Second).UnixMilli()
	_, abandoned, err = c.PruneStale(ctx, "r1", cutoff)
	require.NoError(t, err)
	assert.True(t, abandoned)
}

func TestSeedHall(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()
	st, err := c.SeedHall(ctx)
	require.NoError(t, err)
	assert.Equal(t, room.GlobalHallID, st.RoomID)
	assert.Equal(t, room.SystemCreator, st.CreatorID)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, room.RepeatAll, st.RepeatMode)

	again, err := c.SeedHall(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.Version, again.Version)

	_, abandoned, err := c.PruneStale(ctx, room.GlobalHallID, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.False(t, abandoned)
}
