// internal/listen/session.go

package listen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/permission"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/roster"
)

var ErrClosed = errors.New("session closed")

const leaveTimeout = 5 * time.Second

// Controller is the room operation set a session drives. The local
// coordinator and the remote API client both satisfy it.
type Controller interface {
	Advancer
	roster.Toucher
	Join(ctx context.Context, roomID string, actor room.Actor) (room.State, error)
	Leave(ctx context.Context, roomID string, actor room.Actor) (room.State, error)
	Enqueue(ctx context.Context, roomID string, actor room.Actor, t room.Track) (room.State, error)
	Dequeue(ctx context.Context, roomID string, actor room.Actor, trackID string) (room.State, error)
	TogglePlayPause(ctx context.Context, roomID string, actor room.Actor) (room.State, error)
	Skip(ctx context.Context, roomID string, actor room.Actor) (room.State, error)
	Previous(ctx context.Context, roomID string, actor room.Actor) (room.State, error)
	ToggleShuffle(ctx context.Context, roomID string, actor room.Actor) (room.State, error)
	ToggleRepeatMode(ctx context.Context, roomID string, actor room.Actor) (room.State, error)
	UpdateControlPolicy(ctx context.Context, roomID string, actor room.Actor, p room.ControlPolicy) (room.State, error)
	Seek(ctx context.Context, roomID string, actor room.Actor, positionMs int64) (room.State, error)
	Stop(ctx context.Context, roomID string, actor room.Actor) (room.State, error)
}

// Session is one actor's membership of one room: the sync engine, the
// presence heartbeat and permission-checked room actions.
type Session struct {
	ctl    Controller
	engine *Engine
	roomID string
	actor  room.Actor
	log    *logrus.Entry

	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	mu     sync.Mutex
	closed bool
}

// Join enters roomID and starts following it. The engine and heartbeat run
// until Leave; ctx only bounds the join call itself.
func Join(ctx context.Context, ctl Controller, src Source, media MediaEngine, roomID string, actor room.Actor, opts ...Option) (*Session, error) {
	roomID = room.NormalizeID(roomID)
	st, err := ctl.Join(ctx, roomID, actor)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}

	opts = append([]Option{WithAdvancer(ctl)}, opts...)
	engine := NewEngine(roomID, actor, media, src, opts...)
	engine.Prime(st)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ctl:    ctl,
		engine: engine,
		roomID: roomID,
		actor:  actor,
		log:    engine.log,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	hb := roster.NewHeartbeat(ctl, roomID, actor, engine.tun.HeartbeatInterval, engine.clock)
	go hb.Run(runCtx)
	go func() {
		defer close(s.done)
		s.runErr = engine.Run(runCtx)
		if s.runErr != nil {
			s.log.WithError(s.runErr).Warn("engine stopped")
		}
	}()

	s.log.WithField("version", st.Version).Info("joined")
	return s, nil
}

func (s *Session) RoomID() string { return s.roomID }

func (s *Session) Actor() room.Actor { return s.actor }

func (s *Session) Engine() *Engine { return s.engine }

// State is the latest document the engine accepted.
func (s *Session) State() (room.State, bool) { return s.engine.State() }

// Done is closed when the engine stops.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the engine stopped, once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.runErr
	default:
		return nil
	}
}

// PositionMs is where the room is now by the server clock.
func (s *Session) PositionMs() int64 { return s.engine.ExpectedPositionMs() }

func (s *Session) NeedsAudioUnlock() bool { return s.engine.NeedsAudioUnlock() }

func (s *Session) Unlock() { s.engine.Unlock() }

func (s *Session) SetVolume(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("volume %d out of range", pct)
	}
	s.engine.SetVolume(pct)
	return nil
}

// Leave stops the engine and heartbeat, then removes the actor from the
// roster. The roster update is best effort; calling Leave twice is a no-op.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaveTimeout)
	defer cancel()
	if _, err := s.ctl.Leave(lctx, s.roomID, s.actor); err != nil {
		s.log.WithError(err).Warn("leave failed")
		return err
	}
	s.log.Info("left")
	return nil
}

// gate rejects op against the locally observed document before anything
// leaves the process.
func (s *Session) gate(op permission.Op) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	st, ok := s.engine.State()
	if !ok {
		return ErrClosed
	}
	if err := permission.CheckOp(op, s.actor, &st); err != nil {
		s.log.WithField("op", op).Debug("denied locally")
		return err
	}
	return nil
}

func (s *Session) Enqueue(ctx context.Context, t room.Track) (room.State, error) {
	if err := s.gate(permission.OpEnqueue); err != nil {
		return room.State{}, err
	}
	return s.ctl.Enqueue(ctx, s.roomID, s.actor, t)
}

// EnqueueCandidate normalizes a search result and enqueues it.
func (s *Session) EnqueueCandidate(ctx context.Context, c room.Candidate) (room.State, error) {
	if err := s.gate(permission.OpEnqueue); err != nil {
		return room.State{}, err
	}
	t, err := room.TrackFromCandidate(c, s.actor.UserID, s.engine.ServerNowMs())
	if err != nil {
		return room.State{}, err
	}
	return s.ctl.Enqueue(ctx, s.roomID, s.actor, t)
}

func (s *Session) Dequeue(ctx context.Context, trackID string) (room.State, error) {
	if err := s.gate(permission.OpDequeue); err != nil {
		return room.State{}, err
	}
	return s.ctl.Dequeue(ctx, s.roomID, s.actor, trackID)
}

func (s *Session) TogglePlayPause(ctx context.Context) (room.State, error) {
	if err := s.gate(permission.OpPlayPause); err != nil {
		return room.State{}, err
	}
	return s.ctl.TogglePlayPause(ctx, s.roomID, s.actor)
}

func (s *Session) Skip(ctx context.Context) (room.State, error) {
	if err := s.gate(permission.OpSkip); err != nil {
		return room.State{}, err
	}
	return s.ctl.Skip(ctx, s.roomID, s.actor)
}

func (s *Session) Previous(ctx context.Context) (room.State, error) {
	if err := s.gate(permission.OpPrevious); err != nil {
		return room.State{}, err
	}
	return s.ctl.Previous(ctx, s.roomID, s.actor)
}

func (s *Session) ToggleShuffle(ctx context.Context) (room.State, error) {
	if err := s.gate(permission.OpShuffle); err != nil {
		return room.State{}, err
	}
	return s.ctl.ToggleShuffle(ctx, s.roomID, s.actor)
}

func (s *Session) ToggleRepeatMode(ctx context.Context) (room.State, error) {
	if err := s.gate(permission.OpRepeat); err != nil {
		return room.State{}, err
	}
	return s.ctl.ToggleRepeatMode(ctx, s.roomID, s.actor)
}

func (s *Session) UpdateControlPolicy(ctx context.Context, p room.ControlPolicy) (room.State, error) {
	if err := s.gate(permission.OpPolicy); err != nil {
		return room.State{}, err
	}
	return s.ctl.UpdateControlPolicy(ctx, s.roomID, s.actor, p)
}

func (s *Session) Seek(ctx context.Context, positionMs int64) (room.State, error) {
	if err := s.gate(permission.OpSeek); err != nil {
		return room.State{}, err
	}
	return s.ctl.Seek(ctx, s.roomID, s.actor, positionMs)
}

func (s *Session) Stop(ctx context.Context) (room.State, error) {
	if err := s.gate(permission.OpStop); err != nil {
		return room.State{}, err
	}
	return s.ctl.Stop(ctx, s.roomID, s.actor)
}
