// internal/room/advance.go

package room

// Intn is the subset of a random source the shuffle needs.
type Intn interface {
	IntN(n int) int
}

// playFromStart makes t current, playing from position zero, and opens a new
// playback segment.
func (s *State) playFromStart(t Track, nowMs int64) {
	tr := t
	s.CurrentTrack = &tr
	s.Segment++
	s.IsPlaying = true
	s.PositionAnchorMs = 0
	start := nowMs
	s.StartedAtMs = &start
}

func (s *State) idle() {
	s.CurrentTrack = nil
	s.IsPlaying = false
	s.PositionAnchorMs = 0
	s.StartedAtMs = nil
}

// Enqueue starts t immediately when nothing is loaded, otherwise appends it.
// The same song may be queued any number of times, including while it plays.
func (s *State) Enqueue(t Track, nowMs int64) bool {
	if s.CurrentTrack == nil {
		s.playFromStart(t, nowMs)
		return true
	}
	s.Queue = append(s.Queue, t)
	return true
}

// Dequeue removes the first queue entry with trackID.
func (s *State) Dequeue(trackID string) bool {
	for i, t := range s.Queue {
		if t.ID == trackID {
			s.Queue = append(s.Queue[:i:i], s.Queue[i+1:]...)
			return true
		}
	}
	return false
}

// TogglePlayPause pauses by folding elapsed time into the anchor, or resumes
// by re-anchoring at nowMs. False when nothing is loaded.
func (s *State) TogglePlayPause(nowMs int64) bool {
	if s.CurrentTrack == nil {
		return false
	}
	if s.IsPlaying {
		if s.StartedAtMs != nil {
			if elapsed := nowMs - *s.StartedAtMs; elapsed > 0 {
				s.PositionAnchorMs += elapsed
			}
		}
		if d := s.CurrentTrack.DurationMs(); d > 0 && s.PositionAnchorMs > d {
			s.PositionAnchorMs = d
		}
		s.StartedAtMs = nil
		s.IsPlaying = false
		return true
	}
	start := nowMs
	s.StartedAtMs = &start
	s.IsPlaying = true
	return true
}

// Seek re-anchors at positionMs, keeping the play state.
func (s *State) Seek(positionMs, nowMs int64) bool {
	if s.CurrentTrack == nil {
		return false
	}
	if positionMs < 0 {
		positionMs = 0
	}
	if d := s.CurrentTrack.DurationMs(); d > 0 && positionMs > d {
		positionMs = d
	}
	s.PositionAnchorMs = positionMs
	if s.IsPlaying {
		start := nowMs
		s.StartedAtMs = &start
	}
	return true
}

// Stop pauses and rewinds to the start, keeping track and queue.
func (s *State) Stop() bool {
	if s.CurrentTrack == nil {
		return false
	}
	if !s.IsPlaying && s.PositionAnchorMs == 0 {
		return false
	}
	s.IsPlaying = false
	s.StartedAtMs = nil
	s.PositionAnchorMs = 0
	return true
}

// Advance selects the next track on skip or natural end:
//
//  1. repeat one restarts the current track;
//  2. otherwise the outgoing track goes to history and the queue head plays;
//  3. with an empty queue and repeat all, history (oldest first) refills the queue;
//  4. otherwise the room goes idle.
func (s *State) Advance(nowMs int64, historyLimit int) {
	if s.RepeatMode == RepeatOne && s.CurrentTrack != nil {
		s.playFromStart(*s.CurrentTrack, nowMs)
		return
	}

	if s.CurrentTrack != nil {
		s.PlayHistory = append(s.PlayHistory, *s.CurrentTrack)
		if historyLimit > 0 {
			if over := len(s.PlayHistory) - historyLimit; over > 0 {
				s.PlayHistory = append([]Track{}, s.PlayHistory[over:]...)
			}
		}
	}

	if len(s.Queue) == 0 && s.RepeatMode == RepeatAll && len(s.PlayHistory) > 0 {
		s.Queue = append([]Track{}, s.PlayHistory...)
		s.PlayHistory = []Track{}
	}

	if len(s.Queue) > 0 {
		next := s.Queue[0]
		s.Queue = append([]Track{}, s.Queue[1:]...)
		s.playFromStart(next, nowMs)
		return
	}

	s.idle()
}

// Previous pops the history tail and plays it, pushing the current track back
// to the head of the queue. False when history is empty.
func (s *State) Previous(nowMs int64) bool {
	n := len(s.PlayHistory)
	if n == 0 {
		return false
	}
	prev := s.PlayHistory[n-1]
	s.PlayHistory = append([]Track{}, s.PlayHistory[:n-1]...)
	if s.CurrentTrack != nil {
		s.Queue = append([]Track{*s.CurrentTrack}, s.Queue...)
	}
	s.playFromStart(prev, nowMs)
	return true
}

// ToggleShuffle flips the flag. Turning it on shuffles the queue once;
// turning it off leaves the shuffled order in place.
func (s *State) ToggleShuffle(rng Intn) {
	s.ShuffleEnabled = !s.ShuffleEnabled
	if s.ShuffleEnabled {
		Shuffle(s.Queue, rng)
	}
}

// Shuffle is an in-place Fisher–Yates shuffle.
func Shuffle(ts []Track, rng Intn) {
	for i := len(ts) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		ts[i], ts[j] = ts[j], ts[i]
	}
}

// ToggleRepeatMode cycles off → all → one → off and returns the new mode.
func (s *State) ToggleRepeatMode() RepeatMode {
	s.RepeatMode = s.RepeatMode.Next()
	return s.RepeatMode
}

// SetPolicy overwrites the policy; empty fields keep the current value.
func (s *State) SetPolicy(p ControlPolicy) bool {
	changed := false
	if p.Music != "" && p.Music != s.ControlPolicy.Music {
		s.ControlPolicy.Music = p.Music
		changed = true
	}
	if p.Queue != "" && p.Queue != s.ControlPolicy.Queue {
		s.ControlPolicy.Queue = p.Queue
		changed = true
	}
	return changed
}

// Join inserts l into the roster or refreshes the existing entry. The first
// joiner of a room without a creator becomes its creator.
func (s *State) Join(l Listener) bool {
	if s.CreatorID == "" {
		s.CreatorID = l.UserID
	}
	if i := s.ListenerIndex(l.UserID); i >= 0 {
		cur := s.Listeners[i]
		if l.DisplayName != "" {
			cur.DisplayName = l.DisplayName
		}
		if l.AvatarURL != "" {
			cur.AvatarURL = l.AvatarURL
		}
		cur.LastActiveAtMs = l.LastActiveAtMs
		s.Listeners[i] = cur
		return true
	}
	s.Listeners = append(s.Listeners, l)
	return true
}

// Leave removes userID from the roster.
func (s *State) Leave(userID string) bool {
	i := s.ListenerIndex(userID)
	if i < 0 {
		return false
	}
	s.Listeners = append(s.Listeners[:i:i], s.Listeners[i+1:]...)
	return true
}

// Touch refreshes userID's last activity.
func (s *State) Touch(userID string, nowMs int64) bool {
	i := s.ListenerIndex(userID)
	if i < 0 {
		return false
	}
	s.Listeners[i].LastActiveAtMs = nowMs
	return true
}

// PruneStale drops listeners inactive since cutoffMs and returns how many
// were removed.
func (s *State) PruneStale(cutoffMs int64) int {
	kept := make([]Listener, 0, len(s.Listeners))
	for _, l := range s.Listeners {
		if l.LastActiveAtMs >= cutoffMs {
			kept = append(kept, l)
		}
	}
	removed := len(s.Listeners) - len(kept)
	s.Listeners = kept
	return removed
}

// Abandoned reports whether nobody is listening to a sweepable room.
func (s *State) Abandoned() bool {
	return len(s.Listeners) == 0 && !s.Background && s.CreatorID != SystemCreator
}
