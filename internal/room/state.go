// internal/room/state.go

// Package room holds the replicated listening-room document and the pure
// functions that mutate it. Nothing in here touches a clock, a store or the
// network: callers pass "now" in explicitly.
package room

import (
	"strings"
)

// RepeatMode controls what the advance algorithm does at the end of a track.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatOne RepeatMode = "one"
	RepeatAll RepeatMode = "all"
)

// Next cycles off → all → one → off.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatAll:
		return RepeatOne
	case RepeatOne:
		return RepeatOff
	default:
		return RepeatAll
	}
}

func (m RepeatMode) Valid() bool {
	return m == RepeatOff || m == RepeatOne || m == RepeatAll
}

// Control says who may use a class of room controls.
type Control string

const (
	ControlOwner Control = "owner"
	ControlAll   Control = "all"
)

func (c Control) Valid() bool {
	return c == ControlOwner || c == ControlAll
}

// ControlPolicy is the per-room permission setting.
type ControlPolicy struct {
	Music Control `json:"music"`
	Queue Control `json:"queue"`
}

// DefaultHistoryLimit bounds PlayHistory when the caller has no opinion.
const DefaultHistoryLimit = 50

// GlobalHallID is the always-on public room.
const GlobalHallID = "global-public"

// SystemCreator owns rooms that no user created.
const SystemCreator = "system"

const legacyIDPrefix = "music_room_"

// Track describes one playable item. Immutable once enqueued.
type Track struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist,omitempty"`
	Album           string  `json:"album,omitempty"`
	ArtworkURL      string  `json:"artwork_url,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"` // 0 = unknown
	SourceLocator   string  `json:"source_locator"`
	ExternalURL     string  `json:"external_url,omitempty"`
	AddedBy         string  `json:"added_by"`
	AddedAtMs       int64   `json:"added_at"`
}

// DurationMs returns the track length, or 0 when unknown.
func (t Track) DurationMs() int64 {
	if t.DurationSeconds <= 0 {
		return 0
	}
	return int64(t.DurationSeconds * 1000)
}

// Listener is a roster entry. Presence only.
type Listener struct {
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	JoinedAtMs     int64  `json:"joined_at"`
	LastActiveAtMs int64  `json:"last_active_at"`
}

// Actor is whoever invokes an operation.
type Actor struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Admin       bool   `json:"admin,omitempty"`
}

// Listener builds the roster entry for this actor.
func (a Actor) Listener(nowMs int64) Listener {
	name := a.DisplayName
	if name == "" {
		name = "Anonymous"
	}
	return Listener{
		UserID:         a.UserID,
		DisplayName:    name,
		AvatarURL:      a.AvatarURL,
		JoinedAtMs:     nowMs,
		LastActiveAtMs: nowMs,
	}
}

// State is the authoritative room document.
type State struct {
	RoomID      string `json:"room_id"`
	Version     uint64 `json:"version"`
	UpdatedAtMs int64  `json:"updated_at"`
	Origin      string `json:"origin,omitempty"`

	// CreatedAtMs is stamped on the first commit. A room deleted and created
	// again restarts at version 1 with a later CreatedAtMs.
	CreatedAtMs int64 `json:"created_at,omitempty"`

	CurrentTrack     *Track  `json:"current_track"`
	Queue            []Track `json:"queue"`
	IsPlaying        bool    `json:"is_playing"`
	PositionAnchorMs int64   `json:"position_anchor_ms"`
	StartedAtMs      *int64  `json:"started_at"`

	// Segment counts playback starts. An end report naming an older segment
	// is stale.
	Segment uint64 `json:"segment"`

	ShuffleEnabled bool          `json:"shuffle_enabled"`
	RepeatMode     RepeatMode    `json:"repeat_mode"`
	CreatorID      string        `json:"creator_id"`
	ControlPolicy  ControlPolicy `json:"control_policy"`

	Listeners   []Listener `json:"listeners"`
	PlayHistory []Track    `json:"play_history"`

	// Background rooms are never swept when their roster empties.
	Background bool `json:"background,omitempty"`
}

// New returns the default document for a room that does not exist yet.
func New(roomID string) State {
	return State{
		RoomID:        roomID,
		Queue:         []Track{},
		RepeatMode:    RepeatOff,
		ControlPolicy: ControlPolicy{Music: ControlOwner, Queue: ControlOwner},
		Listeners:     []Listener{},
		PlayHistory:   []Track{},
	}
}

// NormalizeID trims the id and strips the legacy "music_room_" prefix.
func NormalizeID(raw string) string {
	id := strings.TrimSpace(raw)
	return strings.TrimPrefix(id, legacyIDPrefix)
}

// Exists reports whether the document has ever been committed.
func (s *State) Exists() bool {
	return s.Version > 0
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.CurrentTrack != nil {
		t := *s.CurrentTrack
		out.CurrentTrack = &t
	}
	if s.StartedAtMs != nil {
		v := *s.StartedAtMs
		out.StartedAtMs = &v
	}
	out.Queue = append([]Track{}, s.Queue...)
	out.Listeners = append([]Listener{}, s.Listeners...)
	out.PlayHistory = append([]Track{}, s.PlayHistory...)
	return out
}

// CurrentTrackID returns "" when nothing is loaded.
func (s *State) CurrentTrackID() string {
	if s.CurrentTrack == nil {
		return ""
	}
	return s.CurrentTrack.ID
}

// IsCreator reports whether userID created the room.
func (s *State) IsCreator(userID string) bool {
	return userID != "" && s.CreatorID == userID
}

// ListenerIndex returns the roster index of userID, or -1.
func (s *State) ListenerIndex(userID string) int {
	for i, l := range s.Listeners {
		if l.UserID == userID {
			return i
		}
	}
	return -1
}

// Normalize restores the document invariants. Coordinators call it on every
// mutated copy before the store commits it.
func (s *State) Normalize(nowMs int64, historyLimit int) {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if !s.RepeatMode.Valid() {
		s.RepeatMode = RepeatOff
	}
	if !s.ControlPolicy.Music.Valid() {
		s.ControlPolicy.Music = ControlOwner
	}
	if !s.ControlPolicy.Queue.Valid() {
		s.ControlPolicy.Queue = ControlOwner
	}
	if s.Queue == nil {
		s.Queue = []Track{}
	}
	if s.Listeners == nil {
		s.Listeners = []Listener{}
	}
	if s.PlayHistory == nil {
		s.PlayHistory = []Track{}
	}

	if s.CurrentTrack == nil {
		s.IsPlaying = false
		s.StartedAtMs = nil
		s.PositionAnchorMs = 0
	} else {
		if s.IsPlaying && s.StartedAtMs == nil {
			s.StartedAtMs = &nowMs
		}
		if !s.IsPlaying {
			s.StartedAtMs = nil
		}
		if s.PositionAnchorMs < 0 {
			s.PositionAnchorMs = 0
		}
	}

	if over := len(s.PlayHistory) - historyLimit; over > 0 {
		s.PlayHistory = append([]Track{}, s.PlayHistory[over:]...)
	}
}

// SyncedPosition is the effective playback position in milliseconds at nowMs:
// anchor plus time since the play anchor, clamped to [0, duration].
func SyncedPosition(s *State, nowMs int64) int64 {
	if s == nil || s.CurrentTrack == nil {
		return 0
	}
	pos := s.PositionAnchorMs
	if s.IsPlaying && s.StartedAtMs != nil {
		if elapsed := nowMs - *s.StartedAtMs; elapsed > 0 {
			pos += elapsed
		}
	}
	if pos < 0 {
		pos = 0
	}
	if d := s.CurrentTrack.DurationMs(); d > 0 && pos > d {
		pos = d
	}
	return pos
}

// PositionMs is SyncedPosition as a method.
func (s *State) PositionMs(nowMs int64) int64 {
	return SyncedPosition(s, nowMs)
}

// Newer reports whether s should replace other under document-level
// last-writer-wins: higher version, then later update, then origin.
func (s *State) Newer(other *State) bool {
	if other == nil {
		return true
	}
	if s.Version != other.Version {
		return s.Version > other.Version
	}
	if s.UpdatedAtMs != other.UpdatedAtMs {
		return s.UpdatedAtMs > other.UpdatedAtMs
	}
	return s.Origin > other.Origin
}

// Supersedes is Newer across incarnations: a document from a later creation
// of the room wins whatever its version, one from an earlier creation loses.
func (s *State) Supersedes(other *State) bool {
	if other == nil {
		return true
	}
	if s.CreatedAtMs != 0 && other.CreatedAtMs != 0 && s.CreatedAtMs != other.CreatedAtMs {
		return s.CreatedAtMs > other.CreatedAtMs
	}
	return s.Newer(other)
}
