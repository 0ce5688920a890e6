package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/huntsync/internal/hub"
	"github.com/signalsfoundry/huntsync/internal/observability"
	"github.com/signalsfoundry/huntsync/internal/persist"
	"github.com/signalsfoundry/huntsync/internal/protocol"
	"github.com/signalsfoundry/huntsync/internal/transport/ws"
	"github.com/signalsfoundry/huntsync/kb"
	"github.com/signalsfoundry/huntsync/model"
)

type testServer struct {
	url  string
	hub  *hub.Hub
	port *persist.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	metrics, err := observability.NewSyncCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	port := persist.NewMemoryStore()
	store := kb.NewStore(model.ReferenceMarker{Lat: 51.988488, Lng: 5.896824})
	require.NoError(t, persist.Load(t.Context(), port, store, nil))
	h := hub.New(store, hub.WithPersistence(port), hub.WithMetrics(metrics))

	srv := httptest.NewServer(NewRouter(Config{
		Backend: h,
		Events:  ws.NewServer(h, ws.Options{}),
		Metrics: metrics,
	}))
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, hub: h, port: port}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	for i := 0; i < 4; i++ {
		readEvent(t, c)
	}
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := c.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.DecodeEnvelope(frame)
	require.NoError(t, err)
	return env
}

func writeEvent(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := protocol.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, frame))
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthcheckAtRootAndAPI(t *testing.T) {
	s := newTestServer(t)
	for _, prefix := range []string{"", "/api"} {
		var body map[string]string
		assert.Equal(t, http.StatusOK, getJSON(t, s.url+prefix+"/healthcheck", &body))
		assert.Equal(t, "ok", body["status"])
	}
}

func TestSnapshotsEndpoints(t *testing.T) {
	s := newTestServer(t)

	var marker model.ReferenceMarker
	getJSON(t, s.url+"/draggablemarker/location", &marker)
	assert.Equal(t, model.ReferenceMarker{Lat: 51.988488, Lng: 5.896824}, marker)

	var ui map[string]any
	getJSON(t, s.url+"/api/ui", &ui)
	assert.Empty(t, ui)

	c := s.dial(t, "/ws")
	for _, v := range []map[string]any{
		{"id": "v1", "lat": 52.0, "lng": 5.9, "area": "Alpha", "startedAt": "2024-01-01T10:00:00Z"},
		{"id": "v2", "lat": 52.1, "lng": 6.0, "area": "Alpha", "startedAt": "2024-01-01T11:00:00Z"},
	} {
		writeEvent(t, c, protocol.MsgVosCreate, v)
		assert.Equal(t, protocol.MsgVosUpsert, readEvent(t, c).Event)
		assert.Equal(t, protocol.MsgVosGraph, readEvent(t, c).Event)
	}

	var vos map[string]model.SearchEntity
	getJSON(t, s.url+"/vos", &vos)
	require.Len(t, vos, 2)
	assert.True(t, vos["v1"].CircleEnabled)

	var graph model.AreaGraph
	getJSON(t, s.url+"/api/vos/graph", &graph)
	assert.Equal(t, []string{"v1", "v2"}, graph.Areas[model.AreaAlpha].Order)
	assert.Equal(t, "v2", graph.Areas[model.AreaAlpha].NewestID)
}

func TestPostVisitedBroadcasts(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t, "/api/ws")

	resp, err := http.Post(s.url+"/api/visited", "application/json", strings.NewReader(`{"id":"52.0,5.9","visited":true}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	env := readEvent(t, c)
	assert.Equal(t, protocol.MsgVisitedUpdate, env.Event)
	assert.JSONEq(t, `{"id":"52.0,5.9","visited":true}`, string(env.Data))

	var visited map[string]model.VisitedFlag
	getJSON(t, s.url+"/visited", &visited)
	assert.True(t, visited["52.0,5.9"].Visited)
	assert.NotZero(t, visited["52.0,5.9"].Timestamp)
}

func TestPostVisitedRejectsBadBody(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{`{"id":"x"}`, `{"visited":true}`, `not json`, `{"id":"x","visited":"yes"}`, `{"id":"  ","visited":true}`} {
		resp, err := http.Post(s.url+"/visited", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		var out map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "id & visited required", out["error"])
	}
	assert.Empty(t, s.hub.Visited())
}

func TestDeleteVos(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t, "/ws")
	writeEvent(t, c, protocol.MsgVosCreate, map[string]any{
		"id": "v1", "lat": 52.0, "lng": 5.9, "area": "Delta", "startedAt": "2024-01-01T10:00:00Z",
	})
	readEvent(t, c)
	readEvent(t, c)

	del := func(id string) map[string]bool {
		req, err := http.NewRequest(http.MethodDelete, s.url+"/api/vos/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	assert.Equal(t, map[string]bool{"ok": true, "removed": true}, del("v1"))
	assert.Equal(t, protocol.MsgVosRemove, readEvent(t, c).Event)
	assert.Equal(t, protocol.MsgVosGraph, readEvent(t, c).Event)
	assert.Equal(t, map[string]bool{"ok": true, "removed": false}, del("v1"))

	var persisted map[string]model.SearchEntity
	found, err := s.port.ReadAll(persist.Path(persist.NamespaceVos), &persisted)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, persisted)
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	s := newTestServer(t)
	var out map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, s.url+"/nope", &out))
	assert.Equal(t, "not found", out["error"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, s.url+"/api/visited", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://game.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
