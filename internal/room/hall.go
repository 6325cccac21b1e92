// internal/room/hall.go

package room

// HallTracks is the background rotation of the global music hall.
func HallTracks(nowMs int64) []Track {
	return []Track{
		{
			ID:              "default-pop-1",
			Title:           "Pop Sensation",
			Artist:          "Various Artists",
			Album:           "English Pop Hits",
			DurationSeconds: 180,
			SourceLocator:   "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-1.mp3",
			AddedBy:         SystemCreator,
			AddedAtMs:       nowMs,
		},
		{
			ID:              "default-pop-2",
			Title:           "Summer Vibes",
			Artist:          "Various Artists",
			Album:           "English Pop Hits",
			DurationSeconds: 200,
			SourceLocator:   "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-2.mp3",
			AddedBy:         SystemCreator,
			AddedAtMs:       nowMs,
		},
		{
			ID:              "default-pop-3",
			Title:           "Chill Beats",
			Artist:          "Various Artists",
			Album:           "English Pop Hits",
			DurationSeconds: 190,
			SourceLocator:   "https://www.soundhelix.com/examples/mp3/SoundHelix-Song-3.mp3",
			AddedBy:         SystemCreator,
			AddedAtMs:       nowMs,
		},
	}
}

// SeedHall fills an empty hall with the background rotation. It reports
// false when the hall already has something loaded or queued.
func (s *State) SeedHall(nowMs int64) bool {
	if s.CurrentTrack != nil || len(s.Queue) > 0 {
		return false
	}
	tracks := HallTracks(nowMs)
	s.CreatorID = SystemCreator
	s.Background = true
	s.RepeatMode = RepeatAll
	s.Queue = append([]Track{}, tracks[1:]...)
	s.playFromStart(tracks[0], nowMs)
	return true
}
