// internal/search/piped.go

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/petervdpas/tuneroom/internal/room"
)

// Piped searches through a Piped instance; no key needed.
type Piped struct {
	baseURL string
	client  *http.Client
}

func NewPiped(baseURL string, client *http.Client) *Piped {
	if baseURL == "" {
		baseURL = DefaultPipedURL
	}
	return &Piped{baseURL: strings.TrimRight(baseURL, "/"), client: defaultClient(client)}
}

func (p *Piped) Name() string { return "piped" }

// pipedItem fields vary between instances: duration is seconds or a label,
// thumbnail is a url or a list of objects.
type pipedItem struct {
	ID           string          `json:"id"`
	URL          string          `json:"url"`
	Title        string          `json:"title"`
	UploaderName string          `json:"uploaderName"`
	Duration     json.RawMessage `json:"duration"`
	Thumbnail    json.RawMessage `json:"thumbnail"`
}

func (it pipedItem) duration() (float64, string) {
	if len(it.Duration) == 0 || string(it.Duration) == "null" {
		return 0, ""
	}
	var secs float64
	if err := json.Unmarshal(it.Duration, &secs); err == nil {
		return secs, room.FormatDuration(secs)
	}
	var label string
	if err := json.Unmarshal(it.Duration, &label); err == nil {
		d, _ := room.ParseDuration(label)
		return d, label
	}
	return 0, ""
}

func (it pipedItem) thumbnail() string {
	var s string
	if err := json.Unmarshal(it.Thumbnail, &s); err == nil {
		return s
	}
	var list []json.RawMessage
	if err := json.Unmarshal(it.Thumbnail, &list); err != nil || len(list) == 0 {
		return ""
	}
	if err := json.Unmarshal(list[0], &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	_ = json.Unmarshal(list[0], &obj)
	return obj.URL
}

func (p *Piped) Search(ctx context.Context, query string, limit int) ([]room.Candidate, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("filter", "music")

	var items []pipedItem
	if err := getJSON(ctx, p.client, p.baseURL+"/search?"+q.Encode(), &items); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]room.Candidate, 0, len(items))
	for _, it := range items {
		id := it.ID
		if id == "" {
			id = ExtractVideoID(it.URL)
		}
		if id == "" {
			continue
		}
		title := it.Title
		if title == "" {
			title = query
		}
		artist := it.UploaderName
		if artist == "" {
			artist = ExtractArtist(title)
		}
		secs, label := it.duration()
		out = append(out, room.Candidate{
			Kind:            room.KindVideo,
			ID:              id,
			Title:           CleanTitle(title),
			Artist:          artist,
			Thumbnail:       it.thumbnail(),
			DurationSeconds: secs,
			DurationLabel:   label,
			VideoID:         id,
			PageURL:         watchURL(id),
		})
	}
	return out, nil
}
