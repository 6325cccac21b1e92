// internal/store/atomic.go

package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/room"
)

// backend is what a storage engine has to provide; core does the rest.
type backend interface {
	// load returns the stored document and whether it exists.
	load(ctx context.Context, roomID string) (room.State, bool, error)
	// cas stores next iff the stored version still equals prev (0 = absent).
	cas(ctx context.Context, prev uint64, next room.State) (bool, error)
}

// core implements the Store operations shared by every backend.
type core struct {
	b    backend
	opts Options
	fan  *fanout
	log  *logrus.Entry
}

func newCore(b backend, opts Options) *core {
	opts = opts.withDefaults()
	return &core{
		b:    b,
		opts: opts,
		fan:  newFanout(),
		log:  opts.Logger,
	}
}

func (c *core) Get(ctx context.Context, roomID string) (room.State, error) {
	st, ok, err := c.b.load(ctx, roomID)
	if err != nil {
		return room.State{}, err
	}
	if !ok {
		return room.State{}, fmt.Errorf("%w: %s", ErrNotFound, roomID)
	}
	return st, nil
}

func (c *core) Subscribe(ctx context.Context, roomID string) (<-chan room.State, func()) {
	mb, cancel := c.fan.subscribe(roomID)
	stop := context.AfterFunc(ctx, cancel)

	if st, ok, err := c.b.load(ctx, roomID); err == nil && ok {
		c.fan.offer(mb, st)
	} else if err != nil {
		c.log.WithError(err).WithField("room_id", roomID).Warn("initial load for subscriber failed")
	}

	return mb.ch, func() {
		stop()
		cancel()
	}
}

func (c *core) RunAtomic(ctx context.Context, roomID string, fn Mutator) (room.State, error) {
	attempts := c.opts.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return room.State{}, err
			}
		}

		cur, ok, err := c.b.load(ctx, roomID)
		if err != nil {
			return room.State{}, err
		}
		if !ok {
			cur = room.New(roomID)
		}

		next := cur.Clone()
		if err := fn(&next); err != nil {
			if errors.Is(err, ErrNoChange) {
				return cur, nil
			}
			return room.State{}, err
		}

		now := c.opts.Clock.Now().UnixMilli()
		next.RoomID = roomID
		next.Normalize(now, c.opts.HistoryLimit)
		next.Version = cur.Version + 1
		next.UpdatedAtMs = now
		next.Origin = c.opts.Origin
		if cur.Version == 0 {
			next.CreatedAtMs = now
		}

		committed, err := c.b.cas(ctx, cur.Version, next)
		if err != nil {
			return room.State{}, err
		}
		if committed {
			c.fan.publish(next)
			return next.Clone(), nil
		}
		c.log.WithFields(logrus.Fields{
			"room_id": roomID,
			"version": cur.Version,
			"attempt": attempt + 1,
		}).Debug("version conflict, retrying")
	}
	return room.State{}, fmt.Errorf("%w: room %s after %d attempts", ErrConcurrentModification, roomID, attempts)
}

func (c *core) Import(ctx context.Context, remote room.State) (bool, error) {
	if remote.RoomID == "" || remote.Version == 0 {
		return false, fmt.Errorf("import: document without id or version")
	}
	attempts := c.opts.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return false, err
			}
		}
		cur, ok, err := c.b.load(ctx, remote.RoomID)
		if err != nil {
			return false, err
		}
		var prev uint64
		if ok {
			if !remote.Supersedes(&cur) {
				return false, nil
			}
			prev = cur.Version
		}
		committed, err := c.b.cas(ctx, prev, remote)
		if err != nil {
			return false, err
		}
		if committed {
			c.fan.publish(remote)
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: import room %s", ErrConcurrentModification, remote.RoomID)
}

// backoff sleeps base·2^(attempt-1) plus up to one base of jitter.
func (c *core) backoff(ctx context.Context, attempt int) error {
	d := c.opts.BaseBackoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(c.opts.BaseBackoff) + 1))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
