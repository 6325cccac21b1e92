// internal/api/stream.go

package api

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/proto"
	"github.com/petervdpas/tuneroom/internal/room"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

// subscribe checks the room exists before opening a store subscription, so
// streams for unknown rooms fail with 404 instead of hanging.
func (s *Server) subscribe(c *gin.Context) (string, <-chan room.State, func(), bool) {
	id := room.NormalizeID(c.Param("id"))
	if _, err := s.coord.Get(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return "", nil, nil, false
	}
	ch, cancel := s.coord.Store().Subscribe(c.Request.Context(), id)
	return id, ch, cancel, true
}

// handleSSE streams committed documents as "state" events.
func (s *Server) handleSSE(c *gin.Context) {
	id, ch, cancel, ok := s.subscribe(c)
	if !ok {
		return
	}
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	log := s.log.WithFields(logrus.Fields{"room": id, "user": actorFrom(c).UserID})
	log.Debug("sse client connected")
	defer log.Debug("sse client disconnected")

	keepalive := s.clock.Ticker(s.keepalive)
	defer keepalive.Stop()

	c.SSEvent("connected", gin.H{"room_id": id, "server_ms": s.nowMs()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case st, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(proto.TypeState, proto.StateEvent(st, s.nowMs()))
			return true
		case <-keepalive.C:
			_, _ = c.Writer.WriteString(": keepalive\n\n")
			return true
		}
	})
}

// handleWS upgrades and pushes committed documents as JSON frames. Inbound
// frames are read only to service pongs and detect disconnects.
func (s *Server) handleWS(c *gin.Context) {
	id := room.NormalizeID(c.Param("id"))
	if _, err := s.coord.Get(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	n := s.hub.add(id, conn)
	log := s.log.WithFields(logrus.Fields{"room": id, "user": actorFrom(c).UserID})
	log.WithField("conns", n).Debug("websocket client connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer func() {
		cancel()
		s.hub.remove(id, conn)
		_ = conn.Close()
		log.Debug("websocket client disconnected")
	}()

	ch, unsubscribe := s.coord.Store().Subscribe(ctx, id)
	defer unsubscribe()

	go s.readPump(conn, cancel)
	s.writePump(ctx, conn, ch)
}

func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.WithError(err).Debug("websocket read error")
			}
			return
		}
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, ch <-chan room.State) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case st, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(proto.StateEvent(st, s.nowMs())); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
