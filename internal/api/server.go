// internal/api/server.go

// Package api is the HTTP surface of an authority node: room operations,
// search, a clock endpoint for offset probing, and SSE and WebSocket streams
// of committed room documents.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/coordinator"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/roster"
)

const shutdownTimeout = 5 * time.Second

// Verifier turns a bearer token into an actor.
type Verifier interface {
	Verify(token string) (room.Actor, error)
}

// Searcher answers track searches. It may return results together with an
// error to signal degraded results.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]room.Candidate, error)
}

type Server struct {
	coord    *coordinator.Coordinator
	verifier Verifier
	searcher Searcher
	clock    clock.Clock
	log      *logrus.Entry

	upgrader   websocket.Upgrader
	hub        *Hub
	keepalive  time.Duration
	searchSize int
	staleAfter time.Duration
}

type Option func(*Server)

func WithClock(c clock.Clock) Option { return func(s *Server) { s.clock = c } }

func WithSearcher(sr Searcher) Option { return func(s *Server) { s.searcher = sr } }

func WithLogger(l *logrus.Entry) Option { return func(s *Server) { s.log = l } }

// WithKeepAlive sets the SSE comment interval.
func WithKeepAlive(d time.Duration) Option { return func(s *Server) { s.keepalive = d } }

func WithSearchLimit(n int) Option { return func(s *Server) { s.searchSize = n } }

// WithStaleAfter sets how recent a heartbeat must be to count a listener as
// active in room listings.
func WithStaleAfter(d time.Duration) Option { return func(s *Server) { s.staleAfter = d } }

func NewServer(coord *coordinator.Coordinator, verifier Verifier, opts ...Option) *Server {
	s := &Server{
		coord:      coord,
		verifier:   verifier,
		clock:      clock.New(),
		log:        logrus.WithField("component", "api"),
		keepalive:  15 * time.Second,
		searchSize: 10,
		staleAfter: roster.DefaultStaleAfter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// rooms are public to any token holder; the token is the gate
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = NewHub(s.log)
	if !coord.Authoritative() {
		s.log.Warn("coordinator does not enforce permissions; any token holder can control every room")
	}
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

// Router builds the gin engine with every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), s.accessLog(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/api/time", s.handleTime)

	api := r.Group("/api")
	api.Use(s.authenticate())
	{
		api.GET("/rooms", s.handleListRooms)
		api.POST("/rooms", s.handleCreateRoom)
		api.GET("/rooms/:id", s.handleGetRoom)
		api.POST("/rooms/:id/join", s.roomOp(s.coord.Join))
		api.POST("/rooms/:id/leave", s.roomOp(s.coord.Leave))
		api.POST("/rooms/:id/touch", s.roomOp(s.coord.Touch))
		api.POST("/rooms/:id/queue", s.handleEnqueue)
		api.DELETE("/rooms/:id/queue/:trackId", s.handleDequeue)
		api.POST("/rooms/:id/playback", s.handlePlayback)
		api.POST("/rooms/:id/shuffle", s.roomOp(s.coord.ToggleShuffle))
		api.POST("/rooms/:id/repeat", s.roomOp(s.coord.ToggleRepeatMode))
		api.PUT("/rooms/:id/policy", s.handlePolicy)
		api.GET("/rooms/:id/events", s.handleSSE)
		api.GET("/rooms/:id/ws", s.handleWS)
		api.GET("/search", s.handleSearch)
	}
	return r
}

// Run serves on addr until ctx ends, then drains for a few seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.CloseAll()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
