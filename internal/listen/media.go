// internal/listen/media.go

// Package listen keeps a local media engine in step with a shared room.
package listen

import (
	"errors"
)

// ErrMediaEngine wraps every fault reported by a MediaEngine.
var ErrMediaEngine = errors.New("media engine")

// PlayerState mirrors what embedded players report.
type PlayerState int

const (
	PlayerUnstarted PlayerState = iota
	PlayerPlaying
	PlayerPaused
	PlayerBuffering
	PlayerEnded
	PlayerCued
)

func (s PlayerState) String() string {
	switch s {
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerBuffering:
		return "buffering"
	case PlayerEnded:
		return "ended"
	case PlayerCued:
		return "cued"
	default:
		return "unstarted"
	}
}

type MediaEventKind string

const (
	EventReady       MediaEventKind = "ready"
	EventStateChange MediaEventKind = "state_change"
	EventEnded       MediaEventKind = "ended"
)

type MediaEvent struct {
	Kind  MediaEventKind
	State PlayerState
	ID    string // source locator the event refers to
}

// MediaEngine is the playback device the engine drives. It is not safe for
// concurrent use; exactly one Engine goroutine owns it. Positions are seconds.
type MediaEngine interface {
	LoadAndPlay(id string, startSec float64) error
	Cue(id string, startSec float64) error
	Play() error
	Pause() error
	Seek(sec float64) error
	CurrentTime() (float64, error)
	PlayerState() PlayerState
	SetVolume(pct int) error
	Stop() error
	Events() <-chan MediaEvent
}
