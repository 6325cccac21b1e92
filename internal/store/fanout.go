// internal/store/fanout.go

package store

import (
	"sync"

	"github.com/petervdpas/tuneroom/internal/room"
)

// mailbox holds at most one undelivered state. A newer state replaces an
// unread older one, so readers never block writers and never go backwards.
type mailbox struct {
	ch   chan room.State
	last room.State // only the ordering fields are kept
	seen bool
}

type fanout struct {
	mu   sync.Mutex
	subs map[string]map[*mailbox]struct{}
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string]map[*mailbox]struct{})}
}

func (f *fanout) subscribe(roomID string) (*mailbox, func()) {
	mb := &mailbox{ch: make(chan room.State, 1)}

	f.mu.Lock()
	set, ok := f.subs[roomID]
	if !ok {
		set = make(map[*mailbox]struct{})
		f.subs[roomID] = set
	}
	set[mb] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if set, ok := f.subs[roomID]; ok {
				delete(set, mb)
				if len(set) == 0 {
					delete(f.subs, roomID)
				}
			}
			close(mb.ch)
		})
	}
	return mb, cancel
}

// publish offers st to every subscriber of its room.
func (f *fanout) publish(st room.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for mb := range f.subs[st.RoomID] {
		f.deliverLocked(mb, st)
	}
}

// offer delivers st to a single mailbox.
func (f *fanout) offer(mb *mailbox, st room.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[st.RoomID][mb]; !ok {
		return
	}
	f.deliverLocked(mb, st)
}

// reset forgets what subscribers of roomID have seen, so a recreated room
// starting again at version 1 is delivered.
func (f *fanout) reset(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for mb := range f.subs[roomID] {
		mb.seen = false
		mb.last = room.State{}
	}
}

func (f *fanout) deliverLocked(mb *mailbox, st room.State) {
	if mb.seen && !st.Supersedes(&mb.last) {
		return
	}
	select {
	case <-mb.ch:
	default:
	}
	mb.ch <- st.Clone()
	mb.seen = true
	mb.last = room.State{Version: st.Version, UpdatedAtMs: st.UpdatedAtMs, Origin: st.Origin, CreatedAtMs: st.CreatedAtMs}
}
