// internal/search/youtube.go

package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/petervdpas/tuneroom/internal/room"
)

const (
	DefaultYouTubeURL = "https://www.googleapis.com/youtube/v3"
	DefaultPipedURL   = "https://piped.video/api/v1"

	requestTimeout = 8 * time.Second
	musicCategory  = "10"
)

var errNoAPIKey = errors.New("no api key configured")

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: requestTimeout}
}

func getJSON(ctx context.Context, client *http.Client, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// YouTube queries the Data API v3: one search call, then one details call
// for durations.
type YouTube struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewYouTube(apiKey, baseURL string, client *http.Client) *YouTube {
	if baseURL == "" {
		baseURL = DefaultYouTubeURL
	}
	return &YouTube{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: defaultClient(client)}
}

func (y *YouTube) Name() string { return "youtube" }

type ytThumbs struct {
	Default struct {
		URL string `json:"url"`
	} `json:"default"`
	High *struct {
		URL string `json:"url"`
	} `json:"high"`
}

func (t ytThumbs) best() string {
	if t.High != nil && t.High.URL != "" {
		return t.High.URL
	}
	return t.Default.URL
}

type ytSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type ytVideosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string   `json:"title"`
			ChannelTitle string   `json:"channelTitle"`
			Thumbnails   ytThumbs `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

func (y *YouTube) Search(ctx context.Context, query string, limit int) ([]room.Candidate, error) {
	if y.apiKey == "" {
		return nil, errNoAPIKey
	}

	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("type", "video")
	q.Set("videoCategoryId", musicCategory)
	q.Set("maxResults", strconv.Itoa(limit))
	q.Set("q", query+" official audio")
	q.Set("key", y.apiKey)
	var found ytSearchResponse
	if err := getJSON(ctx, y.client, y.baseURL+"/search?"+q.Encode(), &found); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	ids := make([]string, 0, len(found.Items))
	for _, it := range found.Items {
		if it.ID.VideoID != "" {
			ids = append(ids, it.ID.VideoID)
		}
	}
	if len(ids) == 0 {
		return nil, errNoResults
	}

	d := url.Values{}
	d.Set("part", "contentDetails,snippet")
	d.Set("id", strings.Join(ids, ","))
	d.Set("key", y.apiKey)
	var details ytVideosResponse
	if err := getJSON(ctx, y.client, y.baseURL+"/videos?"+d.Encode(), &details); err != nil {
		return nil, fmt.Errorf("details: %w", err)
	}

	out := make([]room.Candidate, 0, len(details.Items))
	for _, it := range details.Items {
		title := it.Snippet.Title
		artist := ExtractArtist(title)
		if artist == "" {
			artist = it.Snippet.ChannelTitle
		}
		secs, _ := room.ParseDuration(it.ContentDetails.Duration)
		out = append(out, room.Candidate{
			Kind:            room.KindVideo,
			ID:              it.ID,
			Title:           CleanTitle(title),
			Artist:          artist,
			Thumbnail:       it.Snippet.Thumbnails.best(),
			DurationSeconds: secs,
			DurationLabel:   room.FormatDuration(secs),
			VideoID:         it.ID,
			PageURL:         watchURL(it.ID),
		})
	}
	return out, nil
}
