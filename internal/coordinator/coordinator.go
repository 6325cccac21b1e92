// internal/coordinator/coordinator.go

// Package coordinator turns room operations into atomic store mutations.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/permission"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/store"
)

var ErrInvalid = errors.New("invalid argument")

// ops that quietly do nothing on a room that does not exist
var noopWhenMissing = []permission.Op{
	permission.OpLeave,
	permission.OpDequeue,
	permission.OpTouch,
	permission.OpAdvance,
}

type Coordinator struct {
	store        store.Store
	clock        clock.Clock
	rng          room.Intn
	historyLimit int
	authority    bool
	log          *logrus.Entry
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option { return func(co *Coordinator) { co.clock = c } }

// WithRand sets the shuffle source. It must be safe for concurrent use.
func WithRand(r room.Intn) Option { return func(co *Coordinator) { co.rng = r } }

func WithHistoryLimit(n int) Option { return func(co *Coordinator) { co.historyLimit = n } }

func WithLogger(l *logrus.Entry) Option { return func(co *Coordinator) { co.log = l } }

// WithAuthority re-checks permissions inside every mutation against the
// freshest committed document.
func WithAuthority() Option { return func(co *Coordinator) { co.authority = true } }

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

func New(s store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        s,
		clock:        clock.New(),
		rng:          globalRand{},
		historyLimit: room.DefaultHistoryLimit,
		log:          logrus.WithField("component", "coordinator"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Authoritative reports whether permissions are enforced here.
func (c *Coordinator) Authoritative() bool { return c.authority }

// Store exposes the backing store.
func (c *Coordinator) Store() store.Store { return c.store }

func (c *Coordinator) nowMs() int64 { return c.clock.Now().UnixMilli() }

// NewRoomID returns a fresh room id.
func NewRoomID() string { return uuid.NewString() }

// mutate runs fn atomically. fn reports whether it changed anything.
func (c *Coordinator) mutate(ctx context.Context, roomID string, actor room.Actor, op permission.Op,
	fn func(st *room.State, nowMs int64) (bool, error)) (room.State, error) {

	roomID = room.NormalizeID(roomID)
	if roomID == "" {
		return room.State{}, fmt.Errorf("%w: empty room id", ErrInvalid)
	}

	st, err := c.store.RunAtomic(ctx, roomID, func(st *room.State) error {
		if !st.Exists() && op != permission.OpJoin {
			if lo.Contains(noopWhenMissing, op) {
				return store.ErrNoChange
			}
			return fmt.Errorf("%w: %s", store.ErrNotFound, roomID)
		}
		if c.authority {
			if err := permission.CheckOp(op, actor, st); err != nil {
				return err
			}
		}
		changed, err := fn(st, c.nowMs())
		if err != nil {
			return err
		}
		if !changed {
			return store.ErrNoChange
		}
		return nil
	})

	entry := c.log.WithFields(logrus.Fields{
		"room_id": roomID,
		"op":      op,
		"user_id": actor.UserID,
	})
	if err != nil {
		if errors.Is(err, permission.ErrDenied) {
			entry.Info("rejected")
		} else {
			entry.WithError(err).Warn("mutation failed")
		}
		return room.State{}, err
	}
	entry.WithField("version", st.Version).Debug("committed")
	return st, nil
}

func (c *Coordinator) Get(ctx context.Context, roomID string) (room.State, error) {
	return c.store.Get(ctx, room.NormalizeID(roomID))
}

// Create opens a new room with actor as creator and first listener.
func (c *Coordinator) Create(ctx context.Context, actor room.Actor) (room.State, error) {
	return c.Join(ctx, NewRoomID(), actor)
}

// Join adds actor to the roster, creating the room on first join. Joining
// again refreshes the listener entry.
func (c *Coordinator) Join(ctx context.Context, roomID string, actor room.Actor) (room.State, error) {
	if actor.UserID == "" {
		return room.State{}, fmt.Errorf("%w: empty user id", ErrInvalid)
	}
	return c.mutate(ctx, roomID, actor, permission.OpJoin, func(st *room.State, now int64) (bool, error) {
		return st.Join(actor.Listener(now)), nil
	})
}

func (c *Coordinator) Leave(ctx context.Context, roomID string, actor room.Actor) (room.State, error) {
	return c.mutate(ctx, roomID, actor, permission.OpLeave, func(st *room.State, _ int64) (bool, error) {
		return st.Leave(actor.UserID), nil
	})
}

// Touch refreshes actor's presence.
func (c *Coordinator) Touch(ctx context.Context, roomID string, actor room.Actor) (room.State, error) {
	return c.mutate(ctx, roomID, actor, permission.OpTouch, func(st *room.State, now int64) (bool, error) {
		return st.Touch(actor.UserID, now), nil
	})
}

// Enqueue stamps t and either starts it or appends it to the queue.
func (c *Coordinator) Enqueue(ctx context.Context, roomID string, actor room.Actor, t room.Track) (room.State, error) {
	if err := t.Validate(); err != nil {
		return room.State{}, err
	}
	return c.mutate(ctx, roomID, actor, permission.OpEnqueue, func(st *room.State, now int64) (bool, error) {
		t.AddedBy = actor.UserID
		t.AddedAtMs = now
		return st.Enqueue(t, now), nil
	})
}

func (c *Coordinator) Dequeue(ctx context.Context, roomID string, actor room.Actor, trackID string) (room.State, error) {
	return c.mutate(ctx, roomID, actor, permission.OpDequeue, func(st *room.State, _ int64) (bool, error) {
		return st.Dequeue(trackID), nil
	})
}

func (c *Coordinator) TogglePlayPause(ctx context.Context, roomID string, actor room.Actor) (room.State, error) {
	return c.mutate(ctx, roomID, actor, permission.OpPlayPause, func(st *room.State, now int64) (bool, error) {
		return st.TogglePlayPause(now), nil
	})
}

// Skip always advances, whatever is current.
func (c *Coordinator) Skip(ctx context.Context, roomID string, actor room.Actor) (room.State, error) {
	return c.mutate(ctx, roomID, actor, permission.OpSkip, func(st *room.State, now int64) (bool, error) {
		if st.CurrentTrack == nil && len(st.Queue) == 0 {
			return false, nil
		}
		st.Advance(now, c.historyLimit)
		return true, nil
	})
}

// AdvanceFrom is the natural-end path: it advances only while endedTrackID
// is still current and, when segment is non-zero, only while that playback
// segment is still running. Several clients reporting the same end advance
// once, even when repeat one restarts the same song.
func (c *Coordinator) AdvanceFrom(ctx context.Context, roomID string, actor room.Actor, endedTrackID string, segment uint64) (room.State, error) {
	return c.mutate(ctx, roomID, actor, permission.OpAdvance, func(st *room.State, now int64) (bool, error) {
		if endedTrackID == "" || st.CurrentTrackID() != endedTrackID {
			return false, nil
		}
		if segment != 0 && st.Segment != segment {
			return false, nil
		}
		st.Advance(now, c.historyLimit)
		return true, nil
	})
}

func (c *Coordinator) Previous(ctx context.Context, roomID string, actor room.Actor) (room.State, error) {
	return c.mutate(ctx, roomID, actor, permission.OpPrevious, func(st *room.State, now int64) (bool, error) {
		return st.Previous(now), nil
	})
}

func (c *Coordinator) ToggleShuffle(ctx context.Context, roomID string, actor room.Actor) (room.State, error) {
	return c.mutate(ctx, roomID, actor, permission.OpShuffle, func(st *room.State, _ int64) (bool, error) {
		st.ToggleShuffle(c.rng)
		return true, nil
	})
}

func (c *Coordinator) ToggleRepeatMode(ctx context.Context, roomID string, actor room.Actor) (room.State, error) {
	return c.mutate(ctx, roomID, actor, permission.OpRepeat, func(st *room.State, _ int64) (bool, error) {
		st.ToggleRepeatMode()
		return true, nil
	})
}

// UpdateControlPolicy sets the non-empty fields of p.
func (c *Coordinator) UpdateControlPolicy(ctx context.Context, roomID string, actor room.Actor, p room.ControlPolicy) (room.State, error) {
	if (p.Music != "" && !p.Music.Valid()) || (p.Queue != "" && !p.Queue.Valid()) {
		return room.State{}, fmt.Errorf("%w: control policy %+v", ErrInvalid, p)
	}
	return c.mutate(ctx, roomID, actor, permission.OpPolicy, func(st *room.State, _ int64) (bool, error) {
		return st.SetPolicy(p), nil
	})
}

func (c *Coordinator) Seek(ctx context.Context, roomID string, actor room.Actor, positionMs int64) (room.State, error) {
	if positionMs < 0 {
		return room.State{}, fmt.Errorf("%w: negative position", ErrInvalid)
	}
	return c.mutate(ctx, roomID, actor, permission.OpSeek, func(st *room.State, now int64) (bool, error) {
		return st.Seek(positionMs, now), nil
	})
}

func (c *Coordinator) Stop(ctx context.Context, roomID string, actor room.Actor) (room.State, error) {
	return c.mutate(ctx, roomID, actor, permission.OpStop, func(st *room.State, _ int64) (bool, error) {
		return st.Stop(), nil
	})
}

// PruneStale drops listeners idle since cutoffMs and reports whether the room
// is left abandoned.
func (c *Coordinator) PruneStale(ctx context.Context, roomID string, cutoffMs int64) (room.State, bool, error) {
	st, err := c.store.RunAtomic(ctx, room.NormalizeID(roomID), func(st *room.State) error {
		if !st.Exists() || st.PruneStale(cutoffMs) == 0 {
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return room.State{}, false, err
	}
	return st, st.Exists() && st.Abandoned(), nil
}

// SeedHall loads the background rotation into the global hall when it has
// nothing to play.
func (c *Coordinator) SeedHall(ctx context.Context) (room.State, error) {
	st, err := c.store.RunAtomic(ctx, room.GlobalHallID, func(st *room.State) error {
		if !st.SeedHall(c.nowMs()) {
			return store.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return room.State{}, err
	}
	c.log.WithFields(logrus.Fields{"room_id": room.GlobalHallID, "version": st.Version}).Info("hall ready")
	return st, nil
}
