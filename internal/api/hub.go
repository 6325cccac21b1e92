// internal/api/hub.go

package api

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Hub tracks open WebSocket connections per room so shutdown can close them.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*websocket.Conn]struct{}
	log   *logrus.Entry
}

func NewHub(log *logrus.Entry) *Hub {
	return &Hub{rooms: make(map[string]map[*websocket.Conn]struct{}), log: log}
}

func (h *Hub) add(roomID string, conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.rooms[roomID] = set
	}
	set[conn] = struct{}{}
	return len(set)
}

func (h *Hub) remove(roomID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.rooms[roomID]
	delete(set, conn)
	if len(set) == 0 {
		delete(h.rooms, roomID)
	}
}

// Count returns the number of open connections for roomID.
func (h *Hub) Count(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

// CloseAll closes every tracked connection; their pumps then unwind.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.rooms {
		for conn := range set {
			_ = conn.Close()
		}
		h.log.WithField("room", id).WithField("conns", len(set)).Debug("closed websocket clients")
	}
	h.rooms = make(map[string]map[*websocket.Conn]struct{})
}
