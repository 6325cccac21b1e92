package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/tuneroom/internal/auth"
	"github.com/petervdpas/tuneroom/internal/coordinator"
	"github.com/petervdpas/tuneroom/internal/proto"
	"github.com/petervdpas/tuneroom/internal/room"
	"github.com/petervdpas/tuneroom/internal/search"
	"github.com/petervdpas/tuneroom/internal/store"
)

var (
	owner = room.Actor{UserID: "owner", DisplayName: "Owner"}
	guest = room.Actor{UserID: "guest", DisplayName: "Guest"}
)

type fixture struct {
	t      *testing.T
	clock  *clock.Mock
	coord  *coordinator.Coordinator
	server *Server
	router *gin.Engine
	signer *auth.Signer
}

type stubSearcher struct {
	res []room.Candidate
	err error
}

func (s stubSearcher) Search(context.Context, string, int) ([]room.Candidate, error) {
	return s.res, s.err
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1_700_000_000_000))

	st := store.NewMemoryStore(store.Options{Clock: mock})
	t.Cleanup(func() { _ = st.Close() })
	coord := coordinator.New(st, coordinator.WithClock(mock), coordinator.WithAuthority())

	signer, err := auth.NewSigner("test-secret", time.Hour, mock)
	require.NoError(t, err)

	srv := NewServer(coord, signer, append([]Option{WithClock(mock)}, opts...)...)
	return &fixture{t: t, clock: mock, coord: coord, server: srv, router: srv.Router(), signer: signer}
}

func (f *fixture) token(a room.Actor) string {
	tok, err := f.signer.Issue(a)
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) do(a *room.Actor, method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = strings.NewReader(string(b))
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if a != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(*a))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeEvent(t *testing.T, w *httptest.ResponseRecorder) proto.Event {
	t.Helper()
	var ev proto.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ev), w.Body.String())
	return ev
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func testTrack(id string) room.Track {
	return room.Track{ID: id, Title: "Song " + id, SourceLocator: "loc-" + id, DurationSeconds: 200}
}

func TestTimeNeedsNoToken(t *testing.T) {
	f := newFixture(t)
	w := f.do(nil, http.MethodGet, "/api/time", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var tr proto.TimeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tr))
	assert.Equal(t, int64(1_700_000_000_000), tr.ServerMs)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRejectsMissingAndBadTokens(t *testing.T) {
	f := newFixture(t)

	w := f.do(nil, http.MethodGet, "/api/rooms", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeUnauthorized, decodeError(t, w).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/rooms?token="+f.token(owner), nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoomLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(&owner, http.MethodPost, "/api/rooms", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeEvent(t, w)
	id := created.RoomID
	require.NotEmpty(t, id)
	assert.Equal(t, "owner", created.State.CreatorID)

	w = f.do(&owner, http.MethodPost, "/api/rooms/"+id+"/queue", EnqueueRequest{Track: ptr(testTrack("t1"))})
	require.Equal(t, http.StatusOK, w.Code)
	ev := decodeEvent(t, w)
	require.NotNil(t, ev.State.CurrentTrack)
	assert.Equal(t, "t1", ev.State.CurrentTrack.ID)
	assert.Equal(t, "owner", ev.State.CurrentTrack.AddedBy)
	assert.True(t, ev.State.IsPlaying)

	w = f.do(&guest, http.MethodPost, "/api/rooms/music_room_"+id+"/join", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeEvent(t, w).State.Listeners, 2)

	w = f.do(&guest, http.MethodPost, "/api/rooms/"+id+"/playback", PlaybackRequest{Action: "toggle"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, codeDenied, decodeError(t, w).Code)

	w = f.do(&owner, http.MethodPost, "/api/rooms/"+id+"/playback", PlaybackRequest{Action: "seek", PositionMs: 30_000})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(30_000), decodeEvent(t, w).PositionMs)

	f.clock.Add(5 * time.Second)
	w = f.do(&guest, http.MethodGet, "/api/rooms/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(35_000), decodeEvent(t, w).PositionMs)

	w = f.do(&owner, http.MethodPut, "/api/rooms/"+id+"/policy", room.ControlPolicy{Music: room.ControlAll, Queue: room.ControlAll})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(&guest, http.MethodPost, "/api/rooms/"+id+"/playback", PlaybackRequest{Action: "toggle"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeEvent(t, w).State.IsPlaying)

	w = f.do(&owner, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Rooms []RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, 2, list.Rooms[0].Listeners)
	assert.Equal(t, 2, list.Rooms[0].Active)
	assert.Equal(t, "Song t1", list.Rooms[0].CurrentTitle)

	w = f.do(&guest, http.MethodPost, "/api/rooms/"+id+"/leave", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeEvent(t, w).State.Listeners, 1)
}

func TestEndedAdvancesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.coord.Join(ctx, "r1", owner)
	require.NoError(t, err)
	for _, id := range []string{"t1", "t2"} {
		_, err = f.coord.Enqueue(ctx, "r1", owner, testTrack(id))
		require.NoError(t, err)
	}

	w := f.do(&owner, http.MethodPost, "/api/rooms/r1/playback", PlaybackRequest{Action: "ended", TrackID: "t1"})
	require.Equal(t, http.StatusOK, w.Code)
	first := decodeEvent(t, w)
	assert.Equal(t, "t2", first.State.CurrentTrack.ID)

	w = f.do(&owner, http.MethodPost, "/api/rooms/r1/playback", PlaybackRequest{Action: "ended", TrackID: "t1"})
	require.Equal(t, http.StatusOK, w.Code)
	second := decodeEvent(t, w)
	assert.Equal(t, "t2", second.State.CurrentTrack.ID)
	assert.Equal(t, first.State.Version, second.State.Version)
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Join(context.Background(), "r1", owner)
	require.NoError(t, err)

	w := f.do(&owner, http.MethodGet, "/api/rooms/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeNotFound, decodeError(t, w).Code)

	fallback := search.Fallback("x", 1)[0]
	w = f.do(&owner, http.MethodPost, "/api/rooms/r1/queue", EnqueueRequest{Candidate: &fallback})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(&owner, http.MethodPost, "/api/rooms/r1/queue", EnqueueRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(&owner, http.MethodPost, "/api/rooms/r1/queue", EnqueueRequest{Track: &room.Track{ID: "x"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(&owner, http.MethodPost, "/api/rooms/r1/playback", PlaybackRequest{Action: "rewind"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeInvalid, decodeError(t, w).Code)
}

func TestEnqueueCandidate(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Join(context.Background(), "r1", owner)
	require.NoError(t, err)

	c := room.Candidate{Kind: room.KindVideo, ID: "v1", Title: "Tune", VideoID: "v1", DurationLabel: "3:20"}
	w := f.do(&owner, http.MethodPost, "/api/rooms/r1/queue", EnqueueRequest{Candidate: &c})
	require.Equal(t, http.StatusOK, w.Code)
	cur := decodeEvent(t, w).State.CurrentTrack
	require.NotNil(t, cur)
	assert.Equal(t, "v1", cur.SourceLocator)
	assert.Equal(t, 200.0, cur.DurationSeconds)

	w = f.do(&owner, http.MethodDelete, "/api/rooms/r1/queue/nope", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, WithSearcher(stubSearcher{res: search.Fallback("q", 2), err: search.ErrUnavailable}))
	w := f.do(&guest, http.MethodGet, "/api/search?q=q&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Degraded)
	assert.Len(t, resp.Results, 2)

	f = newFixture(t, WithSearcher(stubSearcher{err: search.ErrEmptyQuery}))
	w = f.do(&guest, http.MethodGet, "/api/search?q=", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(&guest, http.MethodGet, "/api/search?q=a&limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f = newFixture(t)
	w = f.do(&guest, http.MethodGet, "/api/search?q=daft+punk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Degraded)
	assert.Len(t, resp.Results, 4)

	w = f.do(&guest, http.MethodGet, "/api/search?q=daft+punk&limit=-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 4)
}

func TestSSEStreamsCommits(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Join(context.Background(), "r1", owner)
	require.NoError(t, err)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/rooms/r1/events?token="+f.token(guest), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan [2]string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		var name string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				events <- [2]string{name, strings.TrimSpace(strings.TrimPrefix(line, "data:"))}
			}
		}
		close(events)
	}()

	next := func() [2]string {
		select {
		case ev := <-events:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("no sse event")
			return [2]string{}
		}
	}

	assert.Equal(t, "connected", next()[0])

	ev := next()
	require.Equal(t, proto.TypeState, ev[0])
	var first proto.Event
	require.NoError(t, json.Unmarshal([]byte(ev[1]), &first))
	assert.Equal(t, "r1", first.RoomID)

	_, err = f.coord.Enqueue(context.Background(), "r1", owner, testTrack("t1"))
	require.NoError(t, err)

	ev = next()
	var second proto.Event
	require.NoError(t, json.Unmarshal([]byte(ev[1]), &second))
	assert.Greater(t, second.State.Version, first.State.Version)
	assert.Equal(t, "t1", second.State.CurrentTrack.ID)
}

func TestStreamsRejectUnknownRoom(t *testing.T) {
	f := newFixture(t)
	w := f.do(&owner, http.MethodGet, "/api/rooms/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(&owner, http.MethodGet, "/api/rooms/nope/ws", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebSocketStreamsCommits(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Join(context.Background(), "r1", owner)
	require.NoError(t, err)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/rooms/r1/ws?token=" + f.token(guest)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first proto.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, proto.TypeState, first.Type)
	assert.Equal(t, 1, f.server.Hub().Count("r1"))

	_, err = f.coord.Enqueue(context.Background(), "r1", owner, testTrack("t1"))
	require.NoError(t, err)

	var second proto.Event
	require.NoError(t, conn.ReadJSON(&second))
	assert.Greater(t, second.State.Version, first.State.Version)

	f.server.Hub().CloseAll()
	assert.Equal(t, 0, f.server.Hub().Count("r1"))
}

func ptr[T any](v T) *T { return &v }
