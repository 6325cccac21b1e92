// internal/listen/sim.go

package listen

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	ErrAutoplayBlocked = fmt.Errorf("%w: playback blocked until user gesture", ErrMediaEngine)
	ErrNothingLoaded   = fmt.Errorf("%w: nothing loaded", ErrMediaEngine)
)

// SimulatedMedia is a clock-driven virtual player. It produces no sound; it
// advances a position while playing and reports ended at the track length.
type SimulatedMedia struct {
	mu       sync.Mutex
	clock    clock.Clock
	duration func(id string) float64

	blocked bool
	id      string
	state   PlayerState
	basePos float64
	since   time.Time
	volume  int
	gen     uint64
	timer   *clock.Timer
	events  chan MediaEvent
}

// NewSimulatedMedia builds a player. duration resolves a locator to seconds
// (0 = unknown, never ends on its own).
func NewSimulatedMedia(clk clock.Clock, duration func(id string) float64) *SimulatedMedia {
	if clk == nil {
		clk = clock.New()
	}
	if duration == nil {
		duration = func(string) float64 { return 0 }
	}
	return &SimulatedMedia{
		clock:    clk,
		duration: duration,
		volume:   100,
		events:   make(chan MediaEvent, 16),
	}
}

// SetAutoplayBlocked makes every play attempt fail, as a browser does before
// a user gesture.
func (m *SimulatedMedia) SetAutoplayBlocked(b bool) {
	m.mu.Lock()
	m.blocked = b
	m.mu.Unlock()
}

func (m *SimulatedMedia) Volume() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// LoadedID returns the locator currently loaded.
func (m *SimulatedMedia) LoadedID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

func (m *SimulatedMedia) Events() <-chan MediaEvent { return m.events }

func (m *SimulatedMedia) Cue(id string, startSec float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cueLocked(id, startSec)
	m.emitLocked(EventReady)
	return nil
}

func (m *SimulatedMedia) LoadAndPlay(id string, startSec float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cueLocked(id, startSec)
	m.emitLocked(EventReady)
	return m.playLocked()
}

func (m *SimulatedMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playLocked()
}

func (m *SimulatedMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == "" {
		return ErrNothingLoaded
	}
	if m.state != PlayerPlaying {
		return nil
	}
	m.basePos = m.positionLocked()
	m.state = PlayerPaused
	m.cancelTimerLocked()
	m.emitLocked(EventStateChange)
	return nil
}

func (m *SimulatedMedia) Seek(sec float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == "" {
		return ErrNothingLoaded
	}
	m.basePos = m.clampLocked(sec)
	switch m.state {
	case PlayerPlaying:
		m.since = m.clock.Now()
		m.scheduleEndLocked()
	case PlayerEnded:
		if d := m.duration(m.id); d <= 0 || m.basePos < d {
			m.state = PlayerPaused
			m.emitLocked(EventStateChange)
		}
	}
	return nil
}

func (m *SimulatedMedia) CurrentTime() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == "" {
		return 0, ErrNothingLoaded
	}
	return m.positionLocked(), nil
}

func (m *SimulatedMedia) PlayerState() PlayerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SimulatedMedia) SetVolume(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: volume %d out of range", ErrMediaEngine, pct)
	}
	m.mu.Lock()
	m.volume = pct
	m.mu.Unlock()
	return nil
}

func (m *SimulatedMedia) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.id = ""
	m.basePos = 0
	m.state = PlayerUnstarted
	return nil
}

func (m *SimulatedMedia) cueLocked(id string, startSec float64) {
	m.cancelTimerLocked()
	m.id = id
	m.basePos = m.clampLocked(startSec)
	m.state = PlayerCued
}

func (m *SimulatedMedia) playLocked() error {
	if m.id == "" {
		return ErrNothingLoaded
	}
	if m.blocked {
		return ErrAutoplayBlocked
	}
	if m.state == PlayerPlaying {
		return nil
	}
	if m.state == PlayerEnded {
		m.basePos = 0
	}
	m.state = PlayerPlaying
	m.since = m.clock.Now()
	m.scheduleEndLocked()
	m.emitLocked(EventStateChange)
	return nil
}

func (m *SimulatedMedia) positionLocked() float64 {
	pos := m.basePos
	if m.state == PlayerPlaying {
		pos += m.clock.Since(m.since).Seconds()
	}
	return m.clampLocked(pos)
}

func (m *SimulatedMedia) clampLocked(sec float64) float64 {
	if sec < 0 {
		return 0
	}
	if d := m.duration(m.id); d > 0 && sec > d {
		return d
	}
	return sec
}

func (m *SimulatedMedia) scheduleEndLocked() {
	m.cancelTimerLocked()
	d := m.duration(m.id)
	if d <= 0 {
		return
	}
	remaining := time.Duration((d - m.basePos) * float64(time.Second))
	if remaining < 0 {
		remaining = 0
	}
	gen := m.gen
	// finish takes m.mu; run it off the clock's callback path
	m.timer = m.clock.AfterFunc(remaining, func() { go m.finish(gen) })
}

func (m *SimulatedMedia) cancelTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *SimulatedMedia) finish(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != PlayerPlaying {
		return
	}
	m.basePos = m.duration(m.id)
	m.state = PlayerEnded
	m.timer = nil
	m.emitLocked(EventEnded)
}

func (m *SimulatedMedia) emitLocked(kind MediaEventKind) {
	select {
	case m.events <- MediaEvent{Kind: kind, State: m.state, ID: m.id}:
	default:
	}
}
