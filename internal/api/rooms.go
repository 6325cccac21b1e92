// internal/api/rooms.go

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/petervdpas/tuneroom/internal/coordinator"
	"github.com/petervdpas/tuneroom/internal/proto"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/roster"
	"github.com/petervdpas/tuneroom/internal/search"
	"github.com/petervdpas/tuneroom/internal/store"
)

// RoomSummary is one row of the room listing.
type RoomSummary struct {
	RoomID       string `json:"room_id"`
	Version      uint64 `json:"version"`
	Listeners    int    `json:"listeners"`
	Active       int    `json:"active"`
	IsPlaying    bool   `json:"is_playing"`
	CurrentTitle string `json:"current_title,omitempty"`
	QueueLength  int    `json:"queue_length"`
}

type EnqueueRequest struct {
	Track     *room.Track     `json:"track,omitempty"`
	Candidate *room.Candidate `json:"candidate,omitempty"`
}

// PlaybackRequest drives the transport. Action is one of toggle, skip,
// previous, seek, stop or ended.
type PlaybackRequest struct {
	Action     string `json:"action"`
	PositionMs int64  `json:"position_ms"`
	TrackID    string `json:"track_id"`
	Segment    uint64 `json:"segment,omitempty"`
}

type SearchResponse struct {
	Results  []room.Candidate `json:"results"`
	Degraded bool             `json:"degraded"`
}

func (s *Server) nowMs() int64 { return s.clock.Now().UnixMilli() }

func (s *Server) respondState(c *gin.Context, status int, st room.State) {
	c.JSON(status, proto.StateEvent(st, s.nowMs()))
}

type roomFunc func(ctx context.Context, roomID string, actor room.Actor) (room.State, error)

// roomOp adapts a coordinator call that needs only the room and actor.
func (s *Server) roomOp(fn roomFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := fn(c.Request.Context(), room.NormalizeID(c.Param("id")), actorFrom(c))
		if err != nil {
			s.writeError(c, err)
			return
		}
		s.respondState(c, http.StatusOK, st)
	}
}

func (s *Server) handleTime(c *gin.Context) {
	c.JSON(http.StatusOK, proto.TimeResponse{ServerMs: s.nowMs()})
}

func (s *Server) handleListRooms(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := s.coord.Store().Rooms(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]RoomSummary, 0, len(ids))
	for _, id := range ids {
		st, err := s.coord.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			s.writeError(c, err)
			return
		}
		sum := RoomSummary{
			RoomID:      st.RoomID,
			Version:     st.Version,
			Listeners:   len(st.Listeners),
			Active:      len(roster.Active(&st, s.nowMs(), s.staleAfter)),
			IsPlaying:   st.IsPlaying,
			QueueLength: len(st.Queue),
		}
		if st.CurrentTrack != nil {
			sum.CurrentTitle = st.CurrentTrack.Title
		}
		out = append(out, sum)
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	st, err := s.coord.Create(c.Request.Context(), actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.respondState(c, http.StatusCreated, st)
}

func (s *Server) handleGetRoom(c *gin.Context) {
	st, err := s.coord.Get(c.Request.Context(), room.NormalizeID(c.Param("id")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.respondState(c, http.StatusOK, st)
}

func (s *Server) handleEnqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", coordinator.ErrInvalid, err))
		return
	}
	actor := actorFrom(c)

	var track room.Track
	switch {
	case req.Candidate != nil:
		t, err := room.TrackFromCandidate(*req.Candidate, actor.UserID, s.nowMs())
		if err != nil {
			s.writeError(c, err)
			return
		}
		track = t
	case req.Track != nil:
		track = *req.Track
	default:
		s.writeError(c, fmt.Errorf("%w: track or candidate required", coordinator.ErrInvalid))
		return
	}

	st, err := s.coord.Enqueue(c.Request.Context(), room.NormalizeID(c.Param("id")), actor, track)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.respondState(c, http.StatusOK, st)
}

func (s *Server) handleDequeue(c *gin.Context) {
	trackID := c.Param("trackId")
	s.roomOp(func(ctx context.Context, id string, a room.Actor) (room.State, error) {
		return s.coord.Dequeue(ctx, id, a, trackID)
	})(c)
}

func (s *Server) handlePlayback(c *gin.Context) {
	var req PlaybackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", coordinator.ErrInvalid, err))
		return
	}
	ctx := c.Request.Context()
	id := room.NormalizeID(c.Param("id"))
	actor := actorFrom(c)

	var (
		st  room.State
		err error
	)
	switch req.Action {
	case "toggle":
		st, err = s.coord.TogglePlayPause(ctx, id, actor)
	case "skip":
		st, err = s.coord.Skip(ctx, id, actor)
	case "previous":
		st, err = s.coord.Previous(ctx, id, actor)
	case "seek":
		st, err = s.coord.Seek(ctx, id, actor, req.PositionMs)
	case "stop":
		st, err = s.coord.Stop(ctx, id, actor)
	case "ended":
		st, err = s.coord.AdvanceFrom(ctx, id, actor, req.TrackID, req.Segment)
	default:
		err = fmt.Errorf("%w: unknown action %q", coordinator.ErrInvalid, req.Action)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.respondState(c, http.StatusOK, st)
}

func (s *Server) handlePolicy(c *gin.Context) {
	var p room.ControlPolicy
	if err := c.ShouldBindJSON(&p); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", coordinator.ErrInvalid, err))
		return
	}
	st, err := s.coord.UpdateControlPolicy(c.Request.Context(), room.NormalizeID(c.Param("id")), actorFrom(c), p)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.respondState(c, http.StatusOK, st)
}

func (s *Server) handleSearch(c *gin.Context) {
	q := c.Query("q")
	limit := s.searchSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(c, fmt.Errorf("%w: limit must be a number", coordinator.ErrInvalid))
			return
		}
		limit = n
	}

	if s.searcher == nil {
		if q == "" {
			s.writeError(c, search.ErrEmptyQuery)
			return
		}
		c.JSON(http.StatusOK, SearchResponse{Results: search.Fallback(q, limit), Degraded: true})
		return
	}

	res, err := s.searcher.Search(c.Request.Context(), q, limit)
	if err != nil && !errors.Is(err, search.ErrUnavailable) {
		s.writeError(c, err)
		return
	}
	if err != nil {
		s.log.WithError(err).Debug("degraded search")
	}
	c.JSON(http.StatusOK, SearchResponse{
		Results:  lo.Ternary(res == nil, []room.Candidate{}, res),
		Degraded: err != nil,
	})
}
