// internal/p2p/snapshot.go

package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/petervdpas/tuneroom/internal/proto"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/store"
)

// ServeSnapshots answers snapshot streams with every room in src, one JSON
// document per line.
func (n *Node) ServeSnapshots(src store.Store) {
	n.Host.SetStreamHandler(protocol.ID(proto.SnapshotProtoID), func(s network.Stream) {
		defer s.Close()
		ctx := context.Background()
		ids, err := src.Rooms(ctx)
		if err != nil {
			n.log.WithError(err).Warn("snapshot: list rooms")
			_ = s.Reset()
			return
		}
		enc := json.NewEncoder(s)
		for _, id := range ids {
			st, err := src.Get(ctx, id)
			if err != nil {
				continue
			}
			if err := enc.Encode(st); err != nil {
				_ = s.Reset()
				return
			}
		}
	})
}

// PullSnapshot fetches every room from pid and imports them into dst.
// Returns how many documents won last-writer-wins.
func (n *Node) PullSnapshot(ctx context.Context, pid peer.ID, dst store.Store) (int, error) {
	s, err := n.Host.NewStream(ctx, pid, protocol.ID(proto.SnapshotProtoID))
	if err != nil {
		return 0, err
	}
	defer s.Close()
	_ = s.CloseWrite()

	dec := json.NewDecoder(s)
	applied := 0
	for {
		var st room.State
		if err := dec.Decode(&st); err != nil {
			if errors.Is(err, io.EOF) {
				return applied, nil
			}
			return applied, fmt.Errorf("snapshot from %s: %w", pid, err)
		}
		ok, err := dst.Import(ctx, st)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
}

// CatchUp pulls snapshots from every connected peer.
func (n *Node) CatchUp(ctx context.Context, dst store.Store) int {
	total := 0
	for _, pid := range n.Peers() {
		got, err := n.PullSnapshot(ctx, pid, dst)
		if err != nil {
			n.log.WithError(err).WithField("remote", pid.String()).Debug("snapshot pull failed")
		}
		total += got
	}
	if total > 0 {
		n.log.WithField("rooms", total).Info("caught up from peers")
	}
	return total
}
