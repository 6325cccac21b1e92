// internal/roster/roster.go

// Package roster keeps room presence fresh: clients heartbeat, the server
// sweeps out listeners that stopped.
package roster

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/room"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStaleAfter        = 90 * time.Second
	DefaultSweepInterval     = 30 * time.Second
)

// Toucher refreshes a listener's last activity.
type Toucher interface {
	Touch(ctx context.Context, roomID string, actor room.Actor) (room.State, error)
}

// Heartbeat touches the roster on a fixed interval until its context ends.
type Heartbeat struct {
	toucher  Toucher
	roomID   string
	actor    room.Actor
	interval time.Duration
	clock    clock.Clock
	log      *logrus.Entry
}

func NewHeartbeat(t Toucher, roomID string, actor room.Actor, interval time.Duration, clk clock.Clock) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Heartbeat{
		toucher:  t,
		roomID:   roomID,
		actor:    actor,
		interval: interval,
		clock:    clk,
		log: logrus.WithFields(logrus.Fields{
			"component": "roster",
			"room_id":   roomID,
			"user_id":   actor.UserID,
		}),
	}
}

func (h *Heartbeat) Run(ctx context.Context) {
	ticker := h.clock.Ticker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.toucher.Touch(ctx, h.roomID, h.actor); err != nil && ctx.Err() == nil {
				h.log.WithError(err).Debug("heartbeat failed")
			}
		}
	}
}

// DisplayNames lists who is in the room, in join order.
func DisplayNames(st *room.State) []string {
	return lo.Map(st.Listeners, func(l room.Listener, _ int) string { return l.DisplayName })
}

// Active returns listeners seen within ttl of nowMs.
func Active(st *room.State, nowMs int64, ttl time.Duration) []room.Listener {
	cutoff := nowMs - ttl.Milliseconds()
	return lo.Filter(st.Listeners, func(l room.Listener, _ int) bool { return l.LastActiveAtMs >= cutoff })
}
