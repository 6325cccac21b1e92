package room

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func TestSyncedPosition(t *testing.T) {
	cur := tr("A") // 180 s
	tests := []struct {
		name string
		st   State
		now  int64
		want int64
	}{
		{"no track", State{}, 5000, 0},
		{"paused", State{CurrentTrack: &cur, PositionAnchorMs: 4200}, 99999, 4200},
		{"playing", State{CurrentTrack: &cur, IsPlaying: true, PositionAnchorMs: 1000, StartedAtMs: ptr(10000)}, 13000, 4000},
		{"clock behind start", State{CurrentTrack: &cur, IsPlaying: true, PositionAnchorMs: 1000, StartedAtMs: ptr(10000)}, 9000, 1000},
		{"clamped to duration", State{CurrentTrack: &cur, IsPlaying: true, StartedAtMs: ptr(0)}, 500000, 180000},
		{"unknown duration unclamped", State{CurrentTrack: &Track{ID: "x"}, IsPlaying: true, StartedAtMs: ptr(0)}, 500000, 500000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SyncedPosition(&tt.st, tt.now))
		})
	}
	assert.Equal(t, int64(0), SyncedPosition(nil, 1))
}

func TestNormalize(t *testing.T) {
	cur := tr("A")
	st := State{
		CurrentTrack:     &cur,
		Queue:            []Track{tr("B"), tr("A"), tr("C")},
		IsPlaying:        true,
		PositionAnchorMs: -5,
		RepeatMode:       "bogus",
		PlayHistory:      []Track{tr("1"), tr("2"), tr("3")},
	}
	st.Normalize(7000, 2)

	assert.Equal(t, []string{"B", "A", "C"}, ids(st.Queue), "a queued copy of the current song is its own entry")
	require.NotNil(t, st.StartedAtMs)
	assert.Equal(t, int64(7000), *st.StartedAtMs)
	assert.Equal(t, int64(0), st.PositionAnchorMs)
	assert.Equal(t, RepeatOff, st.RepeatMode)
	assert.Equal(t, ControlOwner, st.ControlPolicy.Music)
	assert.Equal(t, []string{"2", "3"}, ids(st.PlayHistory))
	assert.NotNil(t, st.Listeners)

	idle := State{IsPlaying: true, StartedAtMs: ptr(1), PositionAnchorMs: 30}
	idle.Normalize(0, 0)
	assert.False(t, idle.IsPlaying)
	assert.Nil(t, idle.StartedAtMs)
	assert.Equal(t, int64(0), idle.PositionAnchorMs)

	paused := State{CurrentTrack: &cur, StartedAtMs: ptr(1)}
	paused.Normalize(0, 0)
	assert.Nil(t, paused.StartedAtMs)
}

func TestCloneIsDeep(t *testing.T) {
	st := New("r1")
	st.Enqueue(tr("A"), 100)
	st.Enqueue(tr("B"), 100)
	cp := st.Clone()

	cp.CurrentTrack.Title = "changed"
	*cp.StartedAtMs = 999
	cp.Queue[0].ID = "Z"

	assert.Equal(t, "Track A", st.CurrentTrack.Title)
	assert.Equal(t, int64(100), *st.StartedAtMs)
	assert.Equal(t, "B", st.Queue[0].ID)
}

func TestNewer(t *testing.T) {
	a := State{Version: 3, UpdatedAtMs: 10, Origin: "n1"}
	assert.True(t, a.Newer(nil))
	assert.True(t, a.Newer(&State{Version: 2, UpdatedAtMs: 99}))
	assert.False(t, a.Newer(&State{Version: 4}))
	assert.True(t, a.Newer(&State{Version: 3, UpdatedAtMs: 9}))
	assert.True(t, a.Newer(&State{Version: 3, UpdatedAtMs: 10, Origin: "n0"}))
	assert.False(t, a.Newer(&a))
}

func TestSupersedes(t *testing.T) {
	old := State{Version: 7, CreatedAtMs: 100}
	fresh := State{Version: 1, CreatedAtMs: 200}
	assert.True(t, fresh.Supersedes(&old))
	assert.False(t, old.Supersedes(&fresh))
	assert.True(t, fresh.Supersedes(nil))

	// without a creation stamp on either side, versions decide
	legacy := State{Version: 3}
	assert.False(t, fresh.Supersedes(&legacy))
	assert.True(t, old.Supersedes(&legacy))
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "abc", NormalizeID(" music_room_abc "))
	assert.Equal(t, GlobalHallID, NormalizeID(GlobalHallID))
}

func TestStateJSONShape(t *testing.T) {
	st := New("r1")
	b, err := json.Marshal(st)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Nil(t, m["current_track"])
	assert.Nil(t, m["started_at"])
	assert.Equal(t, "off", m["repeat_mode"])
	assert.Equal(t, []any{}, m["queue"])
}
