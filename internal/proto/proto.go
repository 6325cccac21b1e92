// internal/proto/proto.go

// Package proto holds identifiers and envelopes shared by the transports:
// the HTTP stream endpoints, the Go client and the gossip replicator.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petervdpas/tuneroom/internal/room"
)

const (
	// gossipsub topic carrying committed room documents between nodes
	RoomsTopic = "tuneroom.rooms.v1"

	// libp2p stream protocol ID used to pull every room document from a peer
	SnapshotProtoID = "/tuneroom/snapshot/1.0.0"
)

const (
	TypeState = "state"
	TypeError = "error"
)

var ErrBadMessage = errors.New("bad message")

// Event is one frame on the SSE and WebSocket streams.
type Event struct {
	Type       string      `json:"type"` // state|error
	RoomID     string      `json:"room_id"`
	State      *room.State `json:"state,omitempty"`
	PositionMs int64       `json:"position_ms"`
	ServerMs   int64       `json:"server_ms"`
	Error      string      `json:"error,omitempty"`
}

// StateEvent wraps st with its synced position at serverMs.
func StateEvent(st room.State, serverMs int64) Event {
	return Event{
		Type:       TypeState,
		RoomID:     st.RoomID,
		State:      &st,
		PositionMs: room.SyncedPosition(&st, serverMs),
		ServerMs:   serverMs,
	}
}

// RoomMsg is what the replicator gossips after every local commit.
type RoomMsg struct {
	Origin string     `json:"origin"` // peer id of the committing node
	State  room.State `json:"state"`
	TS     int64      `json:"ts"`
}

func EncodeRoomMsg(m RoomMsg) ([]byte, error) { return json.Marshal(m) }

func DecodeRoomMsg(b []byte) (RoomMsg, error) {
	var m RoomMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return RoomMsg{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if m.State.RoomID == "" || m.State.Version == 0 {
		return RoomMsg{}, fmt.Errorf("%w: missing room id or version", ErrBadMessage)
	}
	return m, nil
}

// TimeResponse answers clock probes.
type TimeResponse struct {
	ServerMs int64 `json:"server_ms"`
}
