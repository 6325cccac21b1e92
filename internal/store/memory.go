// internal/store/memory.go

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/petervdpas/tuneroom/internal/room"
)

// MemoryStore keeps documents in process. Mutators run outside the lock, so
// concurrent writers really do race and lose the compare-and-swap.
type MemoryStore struct {
	*core

	mu   sync.RWMutex
	docs map[string]room.State
}

func NewMemoryStore(opts Options) *MemoryStore {
	m := &MemoryStore{docs: make(map[string]room.State)}
	m.core = newCore(m, opts)
	return m
}

func (m *MemoryStore) load(_ context.Context, roomID string) (room.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.docs[roomID]
	if !ok {
		return room.State{}, false, nil
	}
	return st.Clone(), true, nil
}

func (m *MemoryStore) cas(_ context.Context, prev uint64, next room.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur uint64
	if st, ok := m.docs[next.RoomID]; ok {
		cur = st.Version
	}
	if cur != prev {
		return false, nil
	}
	m.docs[next.RoomID] = next.Clone()
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, roomID string) error {
	m.mu.Lock()
	delete(m.docs, roomID)
	m.mu.Unlock()
	m.fan.reset(roomID)
	return nil
}

func (m *MemoryStore) DeleteIf(_ context.Context, roomID string, version uint64) (bool, error) {
	m.mu.Lock()
	st, ok := m.docs[roomID]
	if !ok || st.Version != version {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.docs, roomID)
	m.mu.Unlock()
	m.fan.reset(roomID)
	return true, nil
}

func (m *MemoryStore) Rooms(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Close() error { return nil }
