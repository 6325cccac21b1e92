// internal/store/store.go

// Package store keeps room documents and serializes every mutation through an
// optimistic compare-and-swap on the document version.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/room"
)

var (
	ErrNotFound               = errors.New("room not found")
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrNoChange returned by a Mutator commits nothing.
	ErrNoChange = errors.New("no change")
)

// Mutator edits a private copy of the document. A room that does not exist
// yet is presented as room.New(roomID) with Version 0.
type Mutator func(st *room.State) error

// Store is the room state store. All backends share the same semantics.
type Store interface {
	Get(ctx context.Context, roomID string) (room.State, error)

	// Subscribe delivers the current document (if any) and then every later
	// commit, coalesced: a slow reader only ever sees the newest unread state.
	// The channel is closed by cancel or when ctx ends.
	Subscribe(ctx context.Context, roomID string) (<-chan room.State, func())

	// RunAtomic reads, mutates and compare-and-swaps, retrying on conflict.
	RunAtomic(ctx context.Context, roomID string, fn Mutator) (room.State, error)

	Delete(ctx context.Context, roomID string) error

	// DeleteIf removes the room only while its stored version still equals
	// version. False means the room moved on or is already gone.
	DeleteIf(ctx context.Context, roomID string, version uint64) (bool, error)

	Rooms(ctx context.Context) ([]string, error)

	// Import applies a replicated document if it wins last-writer-wins
	// against the local copy.
	Import(ctx context.Context, st room.State) (bool, error)

	Close() error
}

// Options tunes the shared commit loop.
type Options struct {
	MaxRetries   int           // retries after the first attempt
	BaseBackoff  time.Duration // first retry delay, doubled per retry and jittered
	HistoryLimit int
	Origin       string // node id stamped on every commit
	Clock        clock.Clock
	Logger       *logrus.Entry
}

const (
	DefaultMaxRetries  = 5
	DefaultBaseBackoff = 5 * time.Millisecond
	maxBackoff         = 250 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = DefaultBaseBackoff
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = room.DefaultHistoryLimit
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = logrus.WithField("component", "store")
	}
	return o
}
