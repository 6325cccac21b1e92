// internal/app/console.go

package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/petervdpas/tuneroom/internal/listen"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/roster"
)

const commandTimeout = 10 * time.Second

// roomSession is the part of *listen.Session the console drives.
type roomSession interface {
	State() (room.State, bool)
	Actor() room.Actor
	PositionMs() int64
	Unlock()
	SetVolume(pct int) error
	Enqueue(ctx context.Context, t room.Track) (room.State, error)
	EnqueueCandidate(ctx context.Context, c room.Candidate) (room.State, error)
	Dequeue(ctx context.Context, trackID string) (room.State, error)
	TogglePlayPause(ctx context.Context) (room.State, error)
	Skip(ctx context.Context) (room.State, error)
	Previous(ctx context.Context) (room.State, error)
	ToggleShuffle(ctx context.Context) (room.State, error)
	ToggleRepeatMode(ctx context.Context) (room.State, error)
	UpdateControlPolicy(ctx context.Context, p room.ControlPolicy) (room.State, error)
	Seek(ctx context.Context, positionMs int64) (room.State, error)
	Stop(ctx context.Context) (room.State, error)
}

type trackSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]room.Candidate, bool, error)
}

type console struct {
	sess     roomSession
	searcher trackSearcher
	out      io.Writer
	results  []room.Candidate
}

func newConsole(sess roomSession, searcher trackSearcher, out io.Writer) *console {
	return &console{sess: sess, searcher: searcher, out: out}
}

const consoleHelp = `commands:
  status                  now playing, position, queue, listeners
  play | pause            toggle playback
  skip | prev | stop
  seek <seconds>
  shuffle | repeat
  add <locator> <title>   queue a track by locator (file:///path.mp3 probes the file)
  search <query>          search and list candidates
  pick <n>                queue candidate n from the last search
  rm <track-id>           remove a queued track
  policy <music> <queue>  owner|all for each control class
  unlock                  allow audio to start
  vol <0-100>
  quit`

// Run reads commands line by line until quit, EOF or ctx ends.
func (c *console) Run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !c.exec(ctx, line) {
				return
			}
		}
	}
}

// exec runs one command and reports whether to keep going.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd {
	case "quit", "exit":
		return false
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "status":
		c.status()
	case "play", "pause":
		_, err = c.sess.TogglePlayPause(ctx)
	case "skip", "next":
		_, err = c.sess.Skip(ctx)
	case "prev", "previous":
		_, err = c.sess.Previous(ctx)
	case "stop":
		_, err = c.sess.Stop(ctx)
	case "shuffle":
		var st room.State
		if st, err = c.sess.ToggleShuffle(ctx); err == nil {
			fmt.Fprintf(c.out, "shuffle: %t\n", st.ShuffleEnabled)
		}
	case "repeat":
		var st room.State
		if st, err = c.sess.ToggleRepeatMode(ctx); err == nil {
			fmt.Fprintf(c.out, "repeat: %s\n", st.RepeatMode)
		}
	case "seek":
		err = c.seek(ctx, args)
	case "add":
		err = c.add(ctx, args)
	case "search":
		err = c.search(ctx, strings.Join(args, " "))
	case "pick":
		err = c.pick(ctx, args)
	case "rm":
		if len(args) != 1 {
			err = fmt.Errorf("usage: rm <track-id>")
			break
		}
		_, err = c.sess.Dequeue(ctx, args[0])
	case "policy":
		err = c.policy(ctx, args)
	case "unlock":
		c.sess.Unlock()
	case "vol", "volume":
		err = c.volume(args)
	default:
		err = fmt.Errorf("unknown command %q (try help)", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return true
}

func (c *console) status() {
	st, ok := c.sess.State()
	if !ok {
		fmt.Fprintln(c.out, "no room state yet")
		return
	}
	if st.CurrentTrack == nil {
		fmt.Fprintln(c.out, "nothing playing")
	} else {
		state := "paused"
		if st.IsPlaying {
			state = "playing"
		}
		fmt.Fprintf(c.out, "%s: %s [%s / %s]\n", state, trackLabel(*st.CurrentTrack),
			room.FormatDuration(float64(c.sess.PositionMs())/1000), room.FormatDuration(st.CurrentTrack.DurationSeconds))
	}
	for i, t := range st.Queue {
		fmt.Fprintf(c.out, "  %d. %s  (%s)\n", i+1, trackLabel(t), t.ID)
	}
	fmt.Fprintf(c.out, "listeners: %s\n", strings.Join(roster.DisplayNames(&st), ", "))
	fmt.Fprintf(c.out, "shuffle: %t  repeat: %s  music: %s  queue: %s\n",
		st.ShuffleEnabled, st.RepeatMode, st.ControlPolicy.Music, st.ControlPolicy.Queue)
}

func (c *console) seek(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: seek <seconds>")
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil || secs < 0 {
		return fmt.Errorf("seek: %q is not a position", args[0])
	}
	_, err = c.sess.Seek(ctx, int64(secs*1000))
	return err
}

func (c *console) add(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: add <locator> <title>")
	}
	actor := c.sess.Actor()
	locator := args[0]

	var t room.Track
	if path, ok := strings.CutPrefix(locator, listen.FileLocatorPrefix); ok {
		probed, err := listen.ProbeLocalTrack(path, actor.UserID, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		t = probed
		if len(args) > 1 {
			t.Title = strings.Join(args[1:], " ")
		}
	} else {
		title := strings.Join(args[1:], " ")
		if title == "" {
			title = locator
		}
		t = room.Track{ID: uuid.NewString(), Title: title, SourceLocator: locator}
	}
	_, err := c.sess.Enqueue(ctx, t)
	if err == nil {
		fmt.Fprintf(c.out, "queued %s\n", trackLabel(t))
	}
	return err
}

func (c *console) search(ctx context.Context, query string) error {
	if c.searcher == nil {
		return fmt.Errorf("search is not available")
	}
	res, degraded, err := c.searcher.Search(ctx, query, 0)
	if err != nil {
		return err
	}
	c.results = res
	if degraded {
		fmt.Fprintln(c.out, "search is degraded; results link out and cannot be queued")
	}
	for i, cand := range res {
		dur := lo.Ternary(cand.DurationLabel != "", cand.DurationLabel, room.FormatDuration(cand.DurationSeconds))
		fmt.Fprintf(c.out, "  %d. %s - %s [%s]\n", i+1, cand.Artist, cand.Title, dur)
	}
	return nil
}

func (c *console) pick(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: pick <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(c.results) {
		return fmt.Errorf("pick: no result %q", args[0])
	}
	cand := c.results[n-1]
	if _, err := c.sess.EnqueueCandidate(ctx, cand); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "queued %s\n", cand.Title)
	return nil
}

func (c *console) policy(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: policy <owner|all> <owner|all>")
	}
	p := room.ControlPolicy{Music: room.Control(args[0]), Queue: room.Control(args[1])}
	if !p.Music.Valid() || !p.Queue.Valid() {
		return fmt.Errorf("policy values must be owner or all")
	}
	_, err := c.sess.UpdateControlPolicy(ctx, p)
	return err
}

func (c *console) volume(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vol <0-100>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("vol: %q is not a number", args[0])
	}
	return c.sess.SetVolume(n)
}
