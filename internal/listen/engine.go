// internal/listen/engine.go

package listen

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/permission"
	"github.com/petervdpas/tuneroom/internal/room"
)

var ErrSubscriptionClosed = errors.New("state subscription closed")

// Source streams committed room documents.
type Source interface {
	Subscribe(ctx context.Context, roomID string) (<-chan room.State, func())
}

// Advancer moves the room past a track that ended locally.
type Advancer interface {
	AdvanceFrom(ctx context.Context, roomID string, actor room.Actor, endedTrackID string, segment uint64) (room.State, error)
}

// Phase is the engine's view of the local player.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseCueing
	PhasePlaying
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseCueing:
		return "cueing"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	default:
		return "uninitialized"
	}
}

// Tunables are the timing knobs of the sync loop. Zero fields take defaults.
type Tunables struct {
	DriftInterval     time.Duration
	DriftThreshold    time.Duration
	DisplayInterval   time.Duration
	HeartbeatInterval time.Duration
	MaxPlayFailures   int
}

func DefaultTunables() Tunables {
	return Tunables{
		DriftInterval:     time.Second,
		DriftThreshold:    2 * time.Second,
		DisplayInterval:   250 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
		MaxPlayFailures:   3,
	}
}

func (t Tunables) withDefaults() Tunables {
	d := DefaultTunables()
	if t.DriftInterval <= 0 {
		t.DriftInterval = d.DriftInterval
	}
	if t.DriftThreshold <= 0 {
		t.DriftThreshold = d.DriftThreshold
	}
	if t.DisplayInterval <= 0 {
		t.DisplayInterval = d.DisplayInterval
	}
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = d.HeartbeatInterval
	}
	if t.MaxPlayFailures <= 0 {
		t.MaxPlayFailures = d.MaxPlayFailures
	}
	return t
}

const advanceTimeout = 10 * time.Second

// Engine follows one room. Run owns the media engine; every other method is
// safe to call from any goroutine.
type Engine struct {
	roomID   string
	actor    room.Actor
	media    MediaEngine
	source   Source
	advancer Advancer
	clock    clock.Clock
	log      *logrus.Entry

	onPosition     func(posMs, durationMs int64)
	onAudioBlocked func()
	onState        func(room.State)

	cell     atomic.Pointer[room.State]
	offsetMs atomic.Int64
	unlocked atomic.Bool
	phase    atomic.Int32

	unlockCh chan struct{}
	tunCh    chan Tunables
	volumeCh chan int

	// owned by Run
	tun             Tunables
	loadedID        string
	loadedLoc       string
	playFailures    int
	blockedReported bool
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithTunables(t Tunables) Option { return func(e *Engine) { e.tun = t } }

func WithAdvancer(a Advancer) Option { return func(e *Engine) { e.advancer = a } }

func WithLogger(l *logrus.Entry) Option { return func(e *Engine) { e.log = l } }

// WithClockOffset sets the estimated server-minus-local clock difference.
func WithClockOffset(ms int64) Option { return func(e *Engine) { e.offsetMs.Store(ms) } }

// WithAudioUnlocked is for players that need no user gesture.
func WithAudioUnlocked() Option { return func(e *Engine) { e.unlocked.Store(true) } }

// OnPosition is called from the display ticker with the synced position.
func OnPosition(fn func(posMs, durationMs int64)) Option {
	return func(e *Engine) { e.onPosition = fn }
}

// OnAudioBlocked fires once per streak of failed play attempts after unlock.
func OnAudioBlocked(fn func()) Option { return func(e *Engine) { e.onAudioBlocked = fn } }

// OnState is called from Run with every accepted document.
func OnState(fn func(room.State)) Option { return func(e *Engine) { e.onState = fn } }

func NewEngine(roomID string, actor room.Actor, media MediaEngine, source Source, opts ...Option) *Engine {
	e := &Engine{
		roomID:   roomID,
		actor:    actor,
		media:    media,
		source:   source,
		clock:    clock.New(),
		unlockCh: make(chan struct{}, 1),
		tunCh:    make(chan Tunables, 1),
		volumeCh: make(chan int, 1),
	}
	for _, o := range opts {
		o(e)
	}
	e.tun = e.tun.withDefaults()
	if e.log == nil {
		e.log = logrus.WithFields(logrus.Fields{
			"component": "listen",
			"room_id":   roomID,
			"user_id":   actor.UserID,
		})
	}
	return e
}

// Prime seeds the state cell before Run starts.
func (e *Engine) Prime(st room.State) {
	if cur := e.cell.Load(); cur == nil || st.Supersedes(cur) {
		e.cell.Store(&st)
	}
}

// State returns the latest accepted document.
func (e *Engine) State() (room.State, bool) {
	st := e.cell.Load()
	if st == nil {
		return room.State{}, false
	}
	return *st, true
}

func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

func (e *Engine) NeedsAudioUnlock() bool { return !e.unlocked.Load() }

// Unlock records the first user gesture. Play is never attempted before it.
func (e *Engine) Unlock() {
	select {
	case e.unlockCh <- struct{}{}:
	default:
	}
}

func (e *Engine) SetClockOffset(ms int64) { e.offsetMs.Store(ms) }

func (e *Engine) ClockOffset() int64 { return e.offsetMs.Load() }

// SetTunables swaps the timing knobs of a running engine.
func (e *Engine) SetTunables(t Tunables) {
	t = t.withDefaults()
	for {
		select {
		case e.tunCh <- t:
			return
		default:
		}
		select {
		case <-e.tunCh:
		default:
		}
	}
}

func (e *Engine) SetVolume(pct int) {
	for {
		select {
		case e.volumeCh <- pct:
			return
		default:
		}
		select {
		case <-e.volumeCh:
		default:
		}
	}
}

// ServerNowMs is the local clock corrected by the estimated offset.
func (e *Engine) ServerNowMs() int64 {
	return e.clock.Now().UnixMilli() + e.offsetMs.Load()
}

// ExpectedPositionMs is where the room says playback is right now.
func (e *Engine) ExpectedPositionMs() int64 {
	return room.SyncedPosition(e.cell.Load(), e.ServerNowMs())
}

func (e *Engine) expectedSec(st *room.State) float64 {
	return float64(room.SyncedPosition(st, e.ServerNowMs())) / 1000
}

// Run follows the room until ctx ends. The media engine is stopped on return.
func (e *Engine) Run(ctx context.Context) error {
	ch, cancel := e.source.Subscribe(ctx, e.roomID)
	defer cancel()
	defer e.teardown()

	drift := e.clock.Ticker(e.tun.DriftInterval)
	display := e.clock.Ticker(e.tun.DisplayInterval)
	defer func() {
		drift.Stop()
		display.Stop()
	}()

	if st := e.cell.Load(); st != nil {
		if e.onState != nil {
			e.onState(*st)
		}
		e.apply(*st)
	}
	events := e.media.Events()

	for {
		select {
		case <-ctx.Done():
			return nil

		case st, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSubscriptionClosed
			}
			e.accept(st)

		case <-drift.C:
			e.correctDrift()

		case <-display.C:
			e.emitPosition()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleMediaEvent(ctx, ev)

		case <-e.unlockCh:
			e.handleUnlock()

		case pct := <-e.volumeCh:
			if err := e.media.SetVolume(pct); err != nil {
				e.log.WithError(err).Debug("set volume")
			}

		case t := <-e.tunCh:
			drift.Stop()
			display.Stop()
			e.tun = t
			drift = e.clock.Ticker(t.DriftInterval)
			display = e.clock.Ticker(t.DisplayInterval)
			e.log.WithFields(logrus.Fields{
				"drift_interval":  t.DriftInterval,
				"drift_threshold": t.DriftThreshold,
			}).Info("tunables reloaded")
		}
	}
}

func (e *Engine) teardown() {
	if e.loadedID != "" {
		if err := e.media.Stop(); err != nil {
			e.log.WithError(err).Debug("stop media")
		}
	}
	e.loadedID, e.loadedLoc = "", ""
	e.setPhase(PhaseUninitialized)
}

func (e *Engine) setPhase(p Phase) {
	if old := Phase(e.phase.Swap(int32(p))); old != p {
		e.log.WithFields(logrus.Fields{"from": old, "to": p}).Debug("phase")
	}
}

// accept drops anything not newer than what was already seen. A room that
// was deleted and created again starts over at a lower version and is taken.
func (e *Engine) accept(st room.State) {
	if prev := e.cell.Load(); prev != nil && !st.Supersedes(prev) {
		return
	}
	e.cell.Store(&st)
	if e.onState != nil {
		e.onState(st)
	}
	e.apply(st)
}

func (e *Engine) apply(st room.State) {
	if st.CurrentTrack == nil {
		if e.loadedID != "" {
			if err := e.media.Stop(); err != nil {
				e.log.WithError(err).Debug("stop media")
			}
			e.loadedID, e.loadedLoc = "", ""
		}
		e.setPhase(PhaseUninitialized)
		return
	}
	if st.CurrentTrack.ID != e.loadedID {
		e.load(&st)
		return
	}
	if e.unlocked.Load() {
		e.reconcile(&st)
	}
}

// load switches the player to the room's current track: cue only while
// audio is locked or the room is paused, otherwise load and play.
func (e *Engine) load(st *room.State) {
	t := st.CurrentTrack
	start := e.expectedSec(st)
	e.playFailures, e.blockedReported = 0, false
	e.loadedID, e.loadedLoc = t.ID, t.SourceLocator
	e.setPhase(PhaseCueing)

	entry := e.log.WithFields(logrus.Fields{"track_id": t.ID, "start": start})
	if !e.unlocked.Load() || !st.IsPlaying {
		if err := e.media.Cue(t.SourceLocator, start); err != nil {
			entry.WithError(err).Debug("cue failed, retrying next tick")
			e.loadedID, e.loadedLoc = "", ""
			return
		}
		entry.Debug("cued")
		return
	}
	if err := e.media.LoadAndPlay(t.SourceLocator, start); err != nil {
		entry.WithError(err).Debug("load and play failed")
		e.playFailed()
		return
	}
	e.playFailures = 0
	e.setPhase(PhasePlaying)
	entry.Info("now playing")
}

// reconcile makes the player's play/pause match the room.
func (e *Engine) reconcile(st *room.State) {
	ps := e.media.PlayerState()
	switch {
	case st.IsPlaying && ps == PlayerEnded:
		// a restart of the same track (repeat one, or previous back to it)
		expected := e.expectedSec(st)
		if d := st.CurrentTrack.DurationSeconds; d > 0 && expected >= d-e.tun.DriftThreshold.Seconds() {
			return
		}
		if err := e.media.Seek(expected); err != nil {
			e.log.WithError(err).Debug("seek for restart")
			return
		}
		e.play()
	case st.IsPlaying && ps != PlayerPlaying && ps != PlayerBuffering:
		e.play()
	case !st.IsPlaying && (ps == PlayerPlaying || ps == PlayerBuffering):
		if err := e.media.Pause(); err != nil {
			e.log.WithError(err).Debug("pause")
			return
		}
		e.setPhase(PhasePaused)
	case st.IsPlaying:
		e.setPhase(PhasePlaying)
	default:
		e.setPhase(PhasePaused)
	}
}

func (e *Engine) play() {
	if err := e.media.Play(); err != nil {
		e.log.WithError(err).Debug("play failed")
		e.playFailed()
		return
	}
	e.playFailures, e.blockedReported = 0, false
	e.setPhase(PhasePlaying)
}

func (e *Engine) playFailed() {
	e.playFailures++
	if e.playFailures < e.tun.MaxPlayFailures || e.blockedReported {
		return
	}
	e.blockedReported = true
	e.log.WithField("failures", e.playFailures).Warn("audio blocked")
	if e.onAudioBlocked != nil {
		e.onAudioBlocked()
	}
}

// correctDrift seeks once when the player strays past the threshold.
func (e *Engine) correctDrift() {
	st := e.cell.Load()
	if st == nil || st.CurrentTrack == nil {
		return
	}
	if st.CurrentTrack.ID != e.loadedID {
		e.load(st)
		return
	}
	if !e.unlocked.Load() {
		return
	}

	expected := e.expectedSec(st)
	actual, err := e.media.CurrentTime()
	if err != nil {
		e.log.WithError(err).Debug("read position")
		return
	}
	if drift := actual - expected; math.Abs(drift) > e.tun.DriftThreshold.Seconds() {
		if err := e.media.Seek(expected); err != nil {
			e.log.WithError(err).Debug("drift seek")
		} else {
			e.log.WithFields(logrus.Fields{"drift": drift, "to": expected}).Info("drift corrected")
		}
	}
	e.reconcile(st)
}

func (e *Engine) emitPosition() {
	if e.onPosition == nil {
		return
	}
	st := e.cell.Load()
	if st == nil || st.CurrentTrack == nil {
		return
	}
	e.onPosition(room.SyncedPosition(st, e.ServerNowMs()), st.CurrentTrack.DurationMs())
}

func (e *Engine) handleUnlock() {
	if e.unlocked.Swap(true) {
		return
	}
	e.log.Debug("audio unlocked")
	st := e.cell.Load()
	if st == nil || st.CurrentTrack == nil {
		return
	}
	if st.CurrentTrack.ID != e.loadedID {
		e.load(st)
		return
	}
	if st.IsPlaying {
		if err := e.media.Seek(e.expectedSec(st)); err != nil {
			e.log.WithError(err).Debug("seek on unlock")
		}
	}
	e.reconcile(st)
}

func (e *Engine) handleMediaEvent(ctx context.Context, ev MediaEvent) {
	if ev.ID != "" && ev.ID != e.loadedLoc {
		return
	}
	switch ev.Kind {
	case EventReady, EventStateChange:
		switch ev.State {
		case PlayerPlaying:
			e.setPhase(PhasePlaying)
		case PlayerPaused, PlayerCued:
			if e.loadedID != "" {
				e.setPhase(PhasePaused)
			}
		}
	case EventEnded:
		e.handleEnded(ctx)
	}
}

// handleEnded reports a natural end. Only actors allowed to drive playback
// report, and the report names the track and its playback segment so
// duplicates are harmless.
func (e *Engine) handleEnded(ctx context.Context) {
	st := e.cell.Load()
	if st == nil || st.CurrentTrack == nil || st.CurrentTrack.ID != e.loadedID {
		return
	}
	if e.advancer == nil || !permission.CanControlPlayback(e.actor, st) {
		return
	}
	trackID, segment := e.loadedID, st.Segment
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), advanceTimeout)
		defer cancel()
		if _, err := e.advancer.AdvanceFrom(actx, e.roomID, e.actor, trackID, segment); err != nil {
			e.log.WithError(err).WithField("track_id", trackID).Warn("advance after end failed")
		}
	}()
}
