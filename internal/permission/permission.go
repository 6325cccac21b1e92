// internal/permission/permission.go

// Package permission decides who may drive a room.
package permission

import (
	"errors"
	"fmt"

	"github.com/petervdpas/tuneroom/internal/room"
)

var ErrDenied = errors.New("permission denied")

// Right is a class of room control.
type Right string

const (
	RightNone     Right = ""
	RightPlayback Right = "playback"
	RightQueue    Right = "queue"
	RightPolicy   Right = "policy"
)

// Op names a coordinator operation.
type Op string

const (
	OpJoin      Op = "join"
	OpLeave     Op = "leave"
	OpTouch     Op = "touch"
	OpEnqueue   Op = "enqueue"
	OpDequeue   Op = "dequeue"
	OpShuffle   Op = "shuffle"
	OpPlayPause Op = "play_pause"
	OpSkip      Op = "skip"
	OpAdvance   Op = "advance"
	OpPrevious  Op = "previous"
	OpSeek      Op = "seek"
	OpStop      Op = "stop"
	OpRepeat    Op = "repeat"
	OpPolicy    Op = "policy"
)

var opRights = map[Op]Right{
	OpJoin:      RightNone,
	OpLeave:     RightNone,
	OpTouch:     RightNone,
	OpEnqueue:   RightQueue,
	OpDequeue:   RightQueue,
	OpShuffle:   RightQueue,
	OpPlayPause: RightPlayback,
	OpSkip:      RightPlayback,
	OpAdvance:   RightPlayback,
	OpPrevious:  RightPlayback,
	OpSeek:      RightPlayback,
	OpStop:      RightPlayback,
	OpRepeat:    RightPlayback,
	OpPolicy:    RightPolicy,
}

// RightFor returns the right op requires. Unknown ops require policy rights.
func RightFor(op Op) Right {
	if r, ok := opRights[op]; ok {
		return r
	}
	return RightPolicy
}

func privileged(a room.Actor, st *room.State) bool {
	return a.Admin || st.IsCreator(a.UserID)
}

func CanControlPlayback(a room.Actor, st *room.State) bool {
	return privileged(a, st) || st.ControlPolicy.Music == room.ControlAll
}

func CanControlQueue(a room.Actor, st *room.State) bool {
	return privileged(a, st) || st.ControlPolicy.Queue == room.ControlAll
}

func CanEditPolicy(a room.Actor, st *room.State) bool {
	return privileged(a, st)
}

// Allowed evaluates right for a against st.
func Allowed(right Right, a room.Actor, st *room.State) bool {
	switch right {
	case RightNone:
		return true
	case RightPlayback:
		return CanControlPlayback(a, st)
	case RightQueue:
		return CanControlQueue(a, st)
	default:
		return CanEditPolicy(a, st)
	}
}

// Check returns ErrDenied when a lacks right in st.
func Check(right Right, a room.Actor, st *room.State) error {
	if Allowed(right, a, st) {
		return nil
	}
	return fmt.Errorf("%w: %s needs %s control", ErrDenied, a.UserID, right)
}

// CheckOp is Check for the right behind op.
func CheckOp(op Op, a room.Actor, st *room.State) error {
	return Check(RightFor(op), a, st)
}
