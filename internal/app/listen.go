// internal/app/listen.go

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/auth"
	"github.com/petervdpas/tuneroom/internal/config"
	"github.com/petervdpas/tuneroom/internal/listen"
	"github.com/petervdpas/tuneroom/internal/remote"
	"github.com/petervdpas/tuneroom/internal/room"
)

const clockResyncInterval = time.Minute

type ListenOptions struct {
	Options
	RoomID string
	In     io.Reader // console commands; nil = follow silently
	Out    io.Writer
}

// Tunables maps the sync section onto the engine knobs.
func Tunables(s config.Sync) listen.Tunables {
	return listen.Tunables{
		DriftInterval:     s.DriftInterval(),
		DriftThreshold:    s.DriftThreshold(),
		DisplayInterval:   s.DisplayInterval(),
		HeartbeatInterval: s.Heartbeat(),
		MaxPlayFailures:   s.MaxPlayFailures,
	}
}

// durations remembers track lengths by locator for the simulated player.
type durations struct{ m sync.Map }

func (d *durations) record(st room.State) {
	if st.CurrentTrack != nil {
		d.m.Store(st.CurrentTrack.SourceLocator, st.CurrentTrack.DurationSeconds)
	}
	for _, t := range st.Queue {
		d.m.Store(t.SourceLocator, t.DurationSeconds)
	}
}

func (d *durations) lookup(locator string) float64 {
	if v, ok := d.m.Load(locator); ok {
		return v.(float64)
	}
	return 0
}

// Listen joins a room on a remote server with a headless player and runs
// the console until input ends or ctx is cancelled.
func Listen(ctx context.Context, o ListenOptions) error {
	cfg := o.Cfg
	log := logrus.WithField("component", "app")
	if cfg.Client.Token == "" {
		return errors.New("client.token is required; issue one with `tuneroom token`")
	}
	actor, err := auth.PeekActor(cfg.Client.Token)
	if err != nil {
		return err
	}
	out := o.Out
	if out == nil {
		out = io.Discard
	}
	roomID := o.RoomID
	if roomID == "" {
		roomID = room.GlobalHallID
	}

	logBanner("listen", o.CfgPath, logrus.Fields{
		"Server": cfg.Client.ServerURL,
		"Room":   roomID,
		"User":   actor.UserID,
	})

	client := remote.NewClient(cfg.Client.ServerURL, cfg.Client.Token)
	tracker := remote.NewOffsetTracker(client, cfg.Client.ClockProbes, nil)
	offset, err := tracker.Calibrate(ctx, cfg.Client.ClockProbes)
	if err != nil {
		log.WithError(err).Warn("clock probe failed, assuming no offset")
	}
	log.WithField("offset_ms", offset).Debug("clock offset")

	durs := &durations{}
	media := listen.NewSimulatedMedia(nil, durs.lookup)

	var nowPlaying string
	opts := []listen.Option{
		listen.WithTunables(Tunables(cfg.Sync)),
		listen.WithClockOffset(offset),
		listen.OnState(func(st room.State) {
			durs.record(st)
			if id := st.CurrentTrackID(); id != nowPlaying {
				nowPlaying = id
				if st.CurrentTrack != nil {
					fmt.Fprintf(out, "now playing: %s\n", trackLabel(*st.CurrentTrack))
				}
			}
		}),
		listen.OnAudioBlocked(func() {
			fmt.Fprintln(out, "audio is blocked; type 'unlock' to start playback")
		}),
	}
	if cfg.Client.AutoUnlock {
		opts = append(opts, listen.WithAudioUnlocked())
	}

	sess, err := listen.Join(ctx, client, remote.NewWSSource(client, nil), media, roomID, actor, opts...)
	if err != nil {
		return err
	}
	if err := sess.SetVolume(cfg.Client.Volume); err != nil {
		log.WithError(err).Warn("set volume")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go tracker.Run(runCtx, clockResyncInterval, sess.Engine().SetClockOffset)
	if o.CfgPath != "" {
		if w, err := config.NewWatcher(o.CfgPath); err != nil {
			log.WithError(err).Warn("config hot reload disabled")
		} else {
			go w.Run(runCtx, func(c config.Config) {
				sess.Engine().SetTunables(Tunables(c.Sync))
				log.Info("sync tunables reloaded")
			})
		}
	}

	if o.In != nil {
		consoleDone := make(chan struct{})
		go func() {
			defer close(consoleDone)
			newConsole(sess, client, out).Run(runCtx, o.In)
		}()
		select {
		case <-consoleDone:
		case <-sess.Done():
		case <-ctx.Done():
		}
	} else {
		select {
		case <-sess.Done():
		case <-ctx.Done():
		}
	}

	leaveErr := sess.Leave(context.WithoutCancel(ctx))
	if err := sess.Err(); err != nil {
		return err
	}
	if leaveErr != nil && !errors.Is(leaveErr, listen.ErrClosed) {
		log.WithError(leaveErr).Warn("leave")
	}
	return nil
}

func trackLabel(t room.Track) string {
	label := t.Title
	if t.Artist != "" {
		label = t.Artist + " - " + label
	}
	if t.DurationSeconds > 0 {
		label += " (" + room.FormatDuration(t.DurationSeconds) + ")"
	}
	return label
}
