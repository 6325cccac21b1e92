// internal/room/track.go

package room

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidTrack      = errors.New("invalid track")
	ErrFallbackCandidate = errors.New("fallback candidate is not playable")
)

// CandidateKind tags where a search candidate came from.
type CandidateKind string

const (
	KindCatalog  CandidateKind = "catalog"  // music catalog entry (preview url)
	KindVideo    CandidateKind = "video"    // video platform entry (video id)
	KindFallback CandidateKind = "fallback" // synthetic link-out, not playable
)

// Candidate is a track-like search result in whatever shape its provider
// produced. TrackFromCandidate turns it into a Track exactly once, at
// ingestion.
type Candidate struct {
	Kind      CandidateKind `json:"kind"`
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Artist    string        `json:"artist,omitempty"`
	Album     string        `json:"album,omitempty"`
	Thumbnail string        `json:"thumbnail,omitempty"`

	// Exactly one of these is usually set, depending on the provider.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	DurationLabel   string  `json:"duration,omitempty"` // "4:13", "1:02:03" or "PT4M13S"

	PreviewURL string `json:"preview_url,omitempty"`
	VideoID    string `json:"video_id,omitempty"`
	PageURL    string `json:"page_url,omitempty"`
}

// TrackFromCandidate normalizes c into a Track stamped with addedBy/nowMs.
func TrackFromCandidate(c Candidate, addedBy string, nowMs int64) (Track, error) {
	if c.Kind == KindFallback {
		return Track{}, ErrFallbackCandidate
	}

	locator := ""
	switch c.Kind {
	case KindVideo:
		locator = c.VideoID
		if locator == "" {
			locator = c.ID
		}
	default:
		locator = c.PreviewURL
		if locator == "" {
			locator = c.VideoID
		}
	}

	dur := c.DurationSeconds
	if dur <= 0 && c.DurationLabel != "" {
		if d, ok := ParseDuration(c.DurationLabel); ok {
			dur = d
		}
	}

	t := Track{
		ID:              strings.TrimSpace(c.ID),
		Title:           strings.TrimSpace(c.Title),
		Artist:          strings.TrimSpace(c.Artist),
		Album:           strings.TrimSpace(c.Album),
		ArtworkURL:      c.Thumbnail,
		DurationSeconds: dur,
		SourceLocator:   locator,
		ExternalURL:     c.PageURL,
		AddedBy:         addedBy,
		AddedAtMs:       nowMs,
	}
	if err := t.Validate(); err != nil {
		return Track{}, err
	}
	return t, nil
}

// Validate checks the fields every enqueued track needs.
func (t Track) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidTrack)
	case t.Title == "":
		return fmt.Errorf("%w: missing title", ErrInvalidTrack)
	case t.SourceLocator == "":
		return fmt.Errorf("%w: missing source locator", ErrInvalidTrack)
	case t.DurationSeconds < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidTrack)
	}
	return nil
}

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseDuration accepts ISO-8601 ("PT4M13S") or clock labels ("4:13",
// "1:02:03") and returns seconds.
func ParseDuration(label string) (float64, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, false
	}
	if m := isoDurationRe.FindStringSubmatch(label); m != nil {
		if m[1] == "" && m[2] == "" && m[3] == "" {
			return 0, false
		}
		h, _ := strconv.Atoi(orZero(m[1]))
		mi, _ := strconv.Atoi(orZero(m[2]))
		sec, _ := strconv.Atoi(orZero(m[3]))
		return float64(h*3600 + mi*60 + sec), true
	}

	parts := strings.Split(label, ":")
	if len(parts) > 3 {
		return 0, false
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return float64(total), true
}

// FormatDuration renders seconds as "M:SS" or "H:MM:SS".
func FormatDuration(seconds float64) string {
	s := int(seconds)
	if s < 0 {
		s = 0
	}
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
