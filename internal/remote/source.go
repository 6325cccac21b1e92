// internal/remote/source.go

package remote

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/proto"
	"github.com/petervdpas/tuneroom/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	minBackoff = 500 * time.Millisecond
	maxBackoff = 15 * time.Second
)

// WSSource streams room documents from the server's WebSocket endpoint and
// reconnects with jittered exponential backoff. The channel it returns stays
// open across reconnects and closes only when the subscription ends.
type WSSource struct {
	client *Client
	dialer *websocket.Dialer
	clock  clock.Clock
	log    *logrus.Entry
}

func NewWSSource(c *Client, clk clock.Clock) *WSSource {
	if clk == nil {
		clk = clock.New()
	}
	return &WSSource{
		client: c,
		dialer: &websocket.Dialer{HandshakeTimeout: requestTimeout},
		clock:  clk,
		log:    c.log.WithField("stream", "ws"),
	}
}

func (s *WSSource) url(roomID string) string {
	base := s.client.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + roomPath(roomID, "/ws")
}

// Subscribe satisfies listen.Source.
func (s *WSSource) Subscribe(ctx context.Context, roomID string) (<-chan room.State, func()) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan room.State, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		s.loop(ctx, roomID, out)
	}()

	return out, func() {
		cancel()
		<-done
	}
}

func (s *WSSource) loop(ctx context.Context, roomID string, out chan room.State) {
	log := s.log.WithField("room", roomID)
	backoff := minBackoff
	for {
		connected, err := s.stream(ctx, roomID, out)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = minBackoff
		}
		wait := backoff/2 + rand.N(backoff/2+1)
		log.WithError(err).WithField("retry_in", wait).Warn("room stream lost")

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// stream runs one connection. connected reports whether the handshake got
// through, so the caller can reset its backoff.
func (s *WSSource) stream(ctx context.Context, roomID string, out chan room.State) (connected bool, err error) {
	header := http.Header{}
	if s.client.token != "" {
		header.Set("Authorization", "Bearer "+s.client.token)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.url(roomID), header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var ev proto.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		switch {
		case ev.Type == proto.TypeError:
			s.log.WithField("room", roomID).Warn("server error: " + ev.Error)
		case ev.State != nil:
			offer(out, *ev.State)
		}
	}
}

// offer replaces whatever the consumer has not picked up yet.
func offer(out chan room.State, st room.State) {
	for {
		select {
		case out <- st:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
