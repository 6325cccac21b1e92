package p2p

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/tuneroom/internal/coordinator"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/store"
)

// chanTransport delivers published messages to its peers' inboxes.
type chanTransport struct {
	id        string
	inbox     chan []byte
	peers     []*chanTransport
	published atomic.Int32
}

func newChanTransport(id string) *chanTransport {
	return &chanTransport{id: id, inbox: make(chan []byte, 64)}
}

func link(ts ...*chanTransport) {
	for _, a := range ts {
		for _, b := range ts {
			if a != b {
				a.peers = append(a.peers, b)
			}
		}
	}
}

func (t *chanTransport) ID() string { return t.id }

func (t *chanTransport) Publish(_ context.Context, b []byte) error {
	t.published.Add(1)
	for _, p := range t.peers {
		p.inbox <- b
	}
	// gossipsub echoes our own messages to local subscribers
	t.inbox <- b
	return nil
}

func (t *chanTransport) Next(ctx context.Context) ([]byte, error) {
	select {
	case b := <-t.inbox:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var owner = room.Actor{UserID: "owner", DisplayName: "Owner"}

func TestReplicatorConvergesTwoNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ta, tb := newChanTransport("a"), newChanTransport("b")
	link(ta, tb)

	sa := store.NewMemoryStore(store.Options{Origin: "a"})
	sb := store.NewMemoryStore(store.Options{Origin: "b"})
	ra, rb := NewReplicator(sa, ta, nil), NewReplicator(sb, tb, nil)
	go func() { _ = ra.Run(ctx) }()
	go func() { _ = rb.Run(ctx) }()

	ca := coordinator.New(ra, coordinator.WithAuthority())
	cb := coordinator.New(rb, coordinator.WithAuthority())

	_, err := ca.Join(ctx, "r1", owner)
	require.NoError(t, err)
	st, err := ca.Enqueue(ctx, "r1", owner, room.Track{ID: "t1", Title: "T", SourceLocator: "loc"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := sb.Get(ctx, "r1")
		return err == nil && got.Version == st.Version
	}, 2*time.Second, 10*time.Millisecond)

	// node b commits on top of the imported document
	st, err = cb.ToggleRepeatMode(ctx, "r1", owner)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := sa.Get(ctx, "r1")
		return err == nil && got.Version == st.Version && got.RepeatMode == room.RepeatAll
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplicatorSkipsNoChange(t *testing.T) {
	ctx := context.Background()
	tr := newChanTransport("solo")
	r := NewReplicator(store.NewMemoryStore(store.Options{}), tr, nil)
	c := coordinator.New(r)

	_, err := c.Join(ctx, "r1", owner)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tr.published.Load())

	// dequeuing an absent track commits nothing
	_, err = c.Dequeue(ctx, "r1", owner, "missing")
	require.NoError(t, err)
	assert.Equal(t, int32(1), tr.published.Load())
}

func TestReplicatorIgnoresOwnAndBadMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := newChanTransport("self")
	s := store.NewMemoryStore(store.Options{})
	r := NewReplicator(s, tr, nil)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	tr.inbox <- []byte("not json")
	tr.inbox <- []byte(`{"origin":"self","state":{"room_id":"mine","version":3}}`)
	tr.inbox <- []byte(`{"origin":"other","state":{"room_id":"theirs","version":2}}`)

	require.Eventually(t, func() bool {
		_, err := s.Get(ctx, "theirs")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	_, err := s.Get(ctx, "mine")
	assert.ErrorIs(t, err, store.ErrNotFound)

	cancel()
	assert.NoError(t, <-done)
}

func loopbackAddr(t *testing.T, n *Node) string {
	for _, a := range n.Addrs() {
		if strings.HasPrefix(a, "/ip4/127.0.0.1/") {
			return a
		}
	}
	t.Fatalf("no loopback address in %v", n.Addrs())
	return ""
}

func TestSnapshotOverLibp2p(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two libp2p hosts")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	a, err := New(ctx, Config{Topic: "tuneroom.test"})
	require.NoError(t, err)
	defer a.Close()
	b, err := New(ctx, Config{Topic: "tuneroom.test"})
	require.NoError(t, err)
	defer b.Close()

	sa := store.NewMemoryStore(store.Options{})
	ca := coordinator.New(sa)
	for _, id := range []string{"r1", "r2"} {
		_, err := ca.Join(ctx, id, owner)
		require.NoError(t, err)
	}
	a.ServeSnapshots(sa)

	pid, err := b.Connect(ctx, loopbackAddr(t, a))
	require.NoError(t, err)
	assert.Equal(t, a.Host.ID(), pid)

	sb := store.NewMemoryStore(store.Options{})
	got, err := b.PullSnapshot(ctx, pid, sb)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	ids, err := sb.Rooms(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)

	// a second pull changes nothing
	got = b.CatchUp(ctx, sb)
	assert.Equal(t, 0, got)
}

func TestConnectRejectsBadAddr(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a libp2p host")
	}
	ctx := context.Background()
	n, err := New(ctx, Config{Topic: "tuneroom.test"})
	require.NoError(t, err)
	defer n.Close()

	_, err = n.Connect(ctx, "not-a-multiaddr")
	assert.Error(t, err)
	_, err = n.Connect(ctx, loopbackAddr(t, n))
	assert.Error(t, err)
}
