package listen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForEvent(t *testing.T, m *SimulatedMedia, kind MediaEventKind) {
	t.Helper()
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-m.Events():
				if ev.Kind == kind {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSimulatedMediaPlaybackClock(t *testing.T) {
	mock := newMock()
	m := NewSimulatedMedia(mock, func(string) float64 { return 10 })

	require.NoError(t, m.LoadAndPlay("a", 0))
	assert.Equal(t, PlayerPlaying, m.PlayerState())
	mock.Add(4 * time.Second)
	pos, err := m.CurrentTime()
	require.NoError(t, err)
	assert.InDelta(t, 4.0, pos, 0.001)

	require.NoError(t, m.Pause())
	mock.Add(3 * time.Second)
	pos, _ = m.CurrentTime()
	assert.InDelta(t, 4.0, pos, 0.001)

	require.NoError(t, m.Seek(8))
	require.NoError(t, m.Play())
	mock.Add(2 * time.Second)
	waitForEvent(t, m, EventEnded)
	assert.Equal(t, PlayerEnded, m.PlayerState())
	pos, _ = m.CurrentTime()
	assert.InDelta(t, 10.0, pos, 0.001)

	// play after end restarts the track
	require.NoError(t, m.Play())
	pos, _ = m.CurrentTime()
	assert.InDelta(t, 0.0, pos, 0.001)
}

func TestSimulatedMediaAutoplayBlocked(t *testing.T) {
	m := NewSimulatedMedia(newMock(), nil)
	m.SetAutoplayBlocked(true)

	err := m.LoadAndPlay("a", 3)
	require.ErrorIs(t, err, ErrAutoplayBlocked)
	assert.ErrorIs(t, err, ErrMediaEngine)
	assert.Equal(t, PlayerCued, m.PlayerState())
	assert.Equal(t, "a", m.LoadedID())

	m.SetAutoplayBlocked(false)
	require.NoError(t, m.Play())
	assert.Equal(t, PlayerPlaying, m.PlayerState())
}

func TestSimulatedMediaFaults(t *testing.T) {
	m := NewSimulatedMedia(newMock(), nil)
	_, err := m.CurrentTime()
	assert.ErrorIs(t, err, ErrNothingLoaded)
	assert.ErrorIs(t, m.Play(), ErrMediaEngine)
	assert.ErrorIs(t, m.SetVolume(101), ErrMediaEngine)
	require.NoError(t, m.SetVolume(40))
	assert.Equal(t, 40, m.Volume())
}

func TestSimulatedMediaSeekRestartsEndTimer(t *testing.T) {
	mock := newMock()
	m := NewSimulatedMedia(mock, func(string) float64 { return 10 })
	require.NoError(t, m.LoadAndPlay("a", 0))

	mock.Add(6 * time.Second)
	require.NoError(t, m.Seek(1))
	mock.Add(6 * time.Second)
	assert.Equal(t, PlayerPlaying, m.PlayerState())
	pos, _ := m.CurrentTime()
	assert.InDelta(t, 7.0, pos, 0.001)
}
