// internal/p2p/replicator.go

package p2p

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/proto"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/store"
)

// Transport is the gossip channel a Replicator uses. *Node implements it.
type Transport interface {
	ID() string
	Publish(ctx context.Context, b []byte) error
	Next(ctx context.Context) ([]byte, error)
}

// Replicator is a store.Store that publishes every local commit and imports
// documents committed elsewhere. Deletes stay local: each node sweeps its own
// rooms.
type Replicator struct {
	store.Store
	tr    Transport
	clock clock.Clock
	log   *logrus.Entry
}

func NewReplicator(s store.Store, tr Transport, clk clock.Clock) *Replicator {
	if clk == nil {
		clk = clock.New()
	}
	return &Replicator{
		Store: s,
		tr:    tr,
		clock: clk,
		log:   logrus.WithField("component", "p2p"),
	}
}

func (r *Replicator) RunAtomic(ctx context.Context, roomID string, fn store.Mutator) (room.State, error) {
	var changed bool
	st, err := r.Store.RunAtomic(ctx, roomID, func(s *room.State) error {
		err := fn(s)
		changed = err == nil
		return err
	})
	if err != nil || !changed {
		return st, err
	}
	r.publish(ctx, st)
	return st, nil
}

// publish is best effort; the commit already happened locally.
func (r *Replicator) publish(ctx context.Context, st room.State) {
	b, err := proto.EncodeRoomMsg(proto.RoomMsg{Origin: r.tr.ID(), State: st, TS: r.clock.Now().UnixMilli()})
	if err != nil {
		r.log.WithError(err).Error("encode room message")
		return
	}
	if err := r.tr.Publish(context.WithoutCancel(ctx), b); err != nil {
		r.log.WithError(err).WithField("room", st.RoomID).Warn("publish failed")
	}
}

// Run imports gossiped documents until ctx ends.
func (r *Replicator) Run(ctx context.Context) error {
	for {
		b, err := r.tr.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		msg, err := proto.DecodeRoomMsg(b)
		if err != nil {
			r.log.WithError(err).Debug("dropping message")
			continue
		}
		if msg.Origin == r.tr.ID() {
			continue
		}
		applied, err := r.Store.Import(ctx, msg.State)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			r.log.WithError(err).WithField("room", msg.State.RoomID).Warn("import failed")
			continue
		}
		if applied {
			r.log.WithFields(logrus.Fields{
				"room":    msg.State.RoomID,
				"version": msg.State.Version,
				"origin":  msg.Origin,
			}).Debug("imported")
		}
	}
}
