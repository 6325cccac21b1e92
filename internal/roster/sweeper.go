// internal/roster/sweeper.go

package roster

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/room"
)

// Rooms lists room documents and deletes them conditionally.
type Rooms interface {
	Rooms(ctx context.Context) ([]string, error)
	DeleteIf(ctx context.Context, roomID string, version uint64) (bool, error)
}

// Pruner drops stale listeners from one room.
type Pruner interface {
	PruneStale(ctx context.Context, roomID string, cutoffMs int64) (room.State, bool, error)
}

// Sweeper periodically prunes every room and deletes the abandoned ones.
type Sweeper struct {
	rooms      Rooms
	pruner     Pruner
	staleAfter time.Duration
	interval   time.Duration
	clock      clock.Clock
	log        *logrus.Entry
}

func NewSweeper(rooms Rooms, pruner Pruner, staleAfter, interval time.Duration, clk clock.Clock) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Sweeper{
		rooms:      rooms,
		pruner:     pruner,
		staleAfter: staleAfter,
		interval:   interval,
		clock:      clk,
		log:        logrus.WithField("component", "roster"),
	}
}

// Sweep runs one pass and returns the ids of deleted rooms. A room is deleted
// only at the version the prune left it, so a join landing in between keeps
// the room alive.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	ids, err := s.rooms.Rooms(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.clock.Now().Add(-s.staleAfter).UnixMilli()

	var deleted []string
	var errs []error
	for _, id := range ids {
		st, abandoned, err := s.pruner.PruneStale(ctx, id, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !abandoned {
			continue
		}
		ok, err := s.rooms.DeleteIf(ctx, id, st.Version)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			s.log.WithField("room_id", id).Debug("room changed after prune, kept")
			continue
		}
		deleted = append(deleted, id)
		s.log.WithField("room_id", id).Info("deleted abandoned room")
	}
	return deleted, errors.Join(errs...)
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("sweep failed")
			}
		}
	}
}
