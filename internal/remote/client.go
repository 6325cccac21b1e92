// internal/remote/client.go

// Package remote talks to a tuneroom server over HTTP and WebSocket. Client
// satisfies listen.Controller and WSSource satisfies listen.Source, so a
// headless listener can follow a room hosted elsewhere.
package remote

import (
	"bytes"
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

	"github.com/sirupsen/logrus"

	"github.com/petervdpas/tuneroom/internal/api"
	"github.com/petervdpas/tuneroom/internal/auth"
	"github.com/petervdpas/tuneroom/internal/coordinator"
	"github.com/petervdpas/tuneroom/internal/permission"
	"github.com/petervdpas/tuneroom/internal/proto"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/store"
)

const requestTimeout = 10 * time.Second

// ErrServer is returned for server-side failures without a more specific code.
var ErrServer = errors.New("server error")

// Client calls the room API. The server derives the actor from the token,
// so the actor arguments of the Controller methods are not sent.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logrus.Entry
}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption { return func(c *Client) { c.http = h } }

func WithLogger(l *logrus.Entry) ClientOption { return func(c *Client) { c.log = l } }

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		log:     logrus.WithField("component", "remote"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// codeErrors maps API error codes back to the sentinels callers test for.
var codeErrors = map[string]error{
	"denied":       permission.ErrDenied,
	"not_found":    store.ErrNotFound,
	"conflict":     store.ErrConcurrentModification,
	"invalid":      coordinator.ErrInvalid,
	"unauthorized": auth.ErrInvalidToken,
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var eb api.ErrorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		sentinel, ok := codeErrors[eb.Code]
		if !ok {
			sentinel = ErrServer
		}
		return fmt.Errorf("%w: %s (status %d)", sentinel, eb.Error, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) state(ctx context.Context, method, path string, body any) (room.State, error) {
	var ev proto.Event
	if err := c.do(ctx, method, path, body, &ev); err != nil {
		return room.State{}, err
	}
	if ev.State == nil {
		return room.State{}, fmt.Errorf("%w: response without state", ErrServer)
	}
	return *ev.State, nil
}

func roomPath(roomID, suffix string) string {
	return "/api/rooms/" + url.PathEscape(room.NormalizeID(roomID)) + suffix
}

// ServerTime reads the server clock.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var tr proto.TimeResponse
	if err := c.do(ctx, http.MethodGet, "/api/time", nil, &tr); err != nil {
		return 0, err
	}
	return tr.ServerMs, nil
}

func (c *Client) Rooms(ctx context.Context) ([]api.RoomSummary, error) {
	var out struct {
		Rooms []api.RoomSummary `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (c *Client) Create(ctx context.Context) (room.State, error) {
	return c.state(ctx, http.MethodPost, "/api/rooms", nil)
}

func (c *Client) Get(ctx context.Context, roomID string) (room.State, error) {
	return c.state(ctx, http.MethodGet, roomPath(roomID, ""), nil)
}

func (c *Client) Join(ctx context.Context, roomID string, _ room.Actor) (room.State, error) {
	return c.state(ctx, http.MethodPost, roomPath(roomID, "/join"), nil)
}

func (c *Client) Leave(ctx context.Context, roomID string, _ room.Actor) (room.State, error) {
	return c.state(ctx, http.MethodPost, roomPath(roomID, "/leave"), nil)
}

func (c *Client) Touch(ctx context.Context, roomID string, _ room.Actor) (room.State, error) {
	return c.state(ctx, http.MethodPost, roomPath(roomID, "/touch"), nil)
}

func (c *Client) Enqueue(ctx context.Context, roomID string, _ room.Actor, t room.Track) (room.State, error) {
	return c.state(ctx, http.MethodPost, roomPath(roomID, "/queue"), api.EnqueueRequest{Track: &t})
}

// EnqueueCandidate lets the server normalize a search result.
func (c *Client) EnqueueCandidate(ctx context.Context, roomID string, cand room.Candidate) (room.State, error) {
	return c.state(ctx, http.MethodPost, roomPath(roomID, "/queue"), api.EnqueueRequest{Candidate: &cand})
}

func (c *Client) Dequeue(ctx context.Context, roomID string, _ room.Actor, trackID string) (room.State, error) {
	return c.state(ctx, http.MethodDelete, roomPath(roomID, "/queue/"+url.PathEscape(trackID)), nil)
}

func (c *Client) playback(ctx context.Context, roomID string, req api.PlaybackRequest) (room.State, error) {
	return c.state(ctx, http.MethodPost, roomPath(roomID, "/playback"), req)
}

func (c *Client) TogglePlayPause(ctx context.Context, roomID string, _ room.Actor) (room.State, error) {
	return c.playback(ctx, roomID, api.PlaybackRequest{Action: "toggle"})
}

func (c *Client) Skip(ctx context.Context, roomID string, _ room.Actor) (room.State, error) {
	return c.playback(ctx, roomID, api.PlaybackRequest{Action: "skip"})
}

func (c *Client) Previous(ctx context.Context, roomID string, _ room.Actor) (room.State, error) {
	return c.playback(ctx, roomID, api.PlaybackRequest{Action: "previous"})
}

func (c *Client) Seek(ctx context.Context, roomID string, _ room.Actor, positionMs int64) (room.State, error) {
	return c.playback(ctx, roomID, api.PlaybackRequest{Action: "seek", PositionMs: positionMs})
}

func (c *Client) Stop(ctx context.Context, roomID string, _ room.Actor) (room.State, error) {
	return c.playback(ctx, roomID, api.PlaybackRequest{Action: "stop"})
}

func (c *Client) AdvanceFrom(ctx context.Context, roomID string, _ room.Actor, endedTrackID string, segment uint64) (room.State, error) {
	return c.playback(ctx, roomID, api.PlaybackRequest{Action: "ended", TrackID: endedTrackID, Segment: segment})
}

func (c *Client) ToggleShuffle(ctx context.Context, roomID string, _ room.Actor) (room.State, error) {
	return c.state(ctx, http.MethodPost, roomPath(roomID, "/shuffle"), nil)
}

func (c *Client) ToggleRepeatMode(ctx context.Context, roomID string, _ room.Actor) (room.State, error) {
	return c.state(ctx, http.MethodPost, roomPath(roomID, "/repeat"), nil)
}

func (c *Client) UpdateControlPolicy(ctx context.Context, roomID string, _ room.Actor, p room.ControlPolicy) (room.State, error) {
	return c.state(ctx, http.MethodPut, roomPath(roomID, "/policy"), p)
}

// Search returns candidates and whether they are degraded fallbacks.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]room.Candidate, bool, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp api.SearchResponse
	if err := c.do(ctx, http.MethodGet, "/api/search?"+q.Encode(), nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Results, resp.Degraded, nil
}
