// internal/search/search.go

// Package search turns a text query into track candidates. Providers are
// tried in order; when all of them fail the chain still answers, with
// synthetic link-out candidates.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/room"
)

var (
	// ErrUnavailable accompanies degraded (fallback-only) results.
	ErrUnavailable = errors.New("search unavailable")
	ErrEmptyQuery  = errors.New("empty search query")
	errNoResults   = errors.New("no results")
)

const (
	DefaultLimit = 10
	MaxLimit     = 25
)

// Provider is one search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]room.Candidate, error)
}

// Chain asks each provider in turn and returns the first non-empty answer.
type Chain struct {
	providers []Provider
	log       *logrus.Entry
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
		log:       logrus.WithField("component", "search"),
	}
}

// Search never fails outright for a valid query: when no provider answers
// it returns Fallback candidates together with ErrUnavailable.
func (c *Chain) Search(ctx context.Context, query string, limit int) ([]room.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit = clampLimit(limit)

	var errs []error
	for _, p := range c.providers {
		res, err := p.Search(ctx, query, limit)
		if err == nil && len(res) == 0 {
			err = errNoResults
		}
		if err != nil {
			c.log.WithError(err).WithField("provider", p.Name()).Debug("provider failed")
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if len(res) > limit {
			res = res[:limit]
		}
		return res, nil
	}

	c.log.WithField("query", query).Info("all providers failed, using fallback")
	if len(errs) == 0 {
		return Fallback(query, limit), ErrUnavailable
	}
	return Fallback(query, limit), fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

var fallbackSuffixes = []struct{ title, query string }{
	{"Official Audio", "official audio"},
	{"Official Video", "official video"},
	{"Lyrics", "lyrics"},
	{"Full Song", "full song"},
}

// Fallback builds up to four link-out candidates pointing at a web search.
// They are marked KindFallback and cannot be enqueued. A non-positive limit
// means the default.
func Fallback(query string, limit int) []room.Candidate {
	n := min(clampLimit(limit), len(fallbackSuffixes))
	out := make([]room.Candidate, 0, n)
	for i, s := range fallbackSuffixes[:n] {
		out = append(out, room.Candidate{
			Kind:    room.KindFallback,
			ID:      fmt.Sprintf("yt-fallback-%d", i),
			Title:   query + " - " + s.title,
			Artist:  "Search on YouTube",
			PageURL: "https://www.youtube.com/results?search_query=" + url.QueryEscape(query+" "+s.query),
		})
	}
	return out
}

var (
	bracketRe  = regexp.MustCompile(`\[.*?\]`)
	officialRe = regexp.MustCompile(`(?i)\([^)]*official[^)]*\)`)
	audioRe    = regexp.MustCompile(`(?i)\([^)]*audio[^)]*\)`)
	videoRe    = regexp.MustCompile(`(?i)\([^)]*video[^)]*\)`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// CleanTitle strips "[...]" tags and "(Official Video)"-style noise.
func CleanTitle(title string) string {
	for _, re := range []*regexp.Regexp{bracketRe, officialRe, audioRe, videoRe} {
		title = re.ReplaceAllString(title, "")
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(title, " "))
}

// ExtractArtist guesses the artist from "Artist - Song" or "Song by Artist".
func ExtractArtist(title string) string {
	if i := strings.Index(title, " - "); i >= 0 {
		return strings.TrimSpace(title[:i])
	}
	lower := strings.ToLower(title)
	if i := strings.Index(lower, " by "); i >= 0 {
		rest := title[i+len(" by "):]
		if j := strings.Index(rest, "("); j >= 0 {
			rest = rest[:j]
		}
		if a := strings.TrimSpace(rest); a != "" {
			return a
		}
	}
	return ""
}

var videoIDRes = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([^&\n?#]+)`),
	regexp.MustCompile(`youtube\.com/embed/([^&\n?#]+)`),
	regexp.MustCompile(`youtube\.com/v/([^&\n?#]+)`),
}

// ExtractVideoID pulls the video id out of a watch, short, or embed url.
// Relative "/watch?v=" paths work too.
func ExtractVideoID(u string) string {
	if strings.HasPrefix(u, "/watch") {
		u = "https://www.youtube.com" + u
	}
	for _, re := range videoIDRes {
		if m := re.FindStringSubmatch(u); m != nil {
			return m[1]
		}
	}
	return ""
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
