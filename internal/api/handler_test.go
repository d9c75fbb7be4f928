package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/nodeflow/internal/config"
	"github.com/gyaneshwarpardhi/nodeflow/internal/engine"
	"github.com/gyaneshwarpardhi/nodeflow/internal/event"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node"
	"github.com/gyaneshwarpardhi/nodeflow/internal/node/builtin"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg := node.NewRegistry()
	builtin.Register(reg)
	eng := engine.New(context.Background(), reg, config.EngineConf{})
	t.Cleanup(eng.Shutdown)
	return eng
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func waitIdle(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Wait(ctx))
}

func TestBuildAndExecuteOverHTTP(t *testing.T) {
	eng := newTestEngine(t)
	h := New(eng, nil)

	rec := do(t, h, http.MethodPost, "/v1/nodes", map[string]any{
		"id": "c", "type": builtin.Constant, "properties": map[string]any{"value": 2},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "c", decodeBody(t, rec)["id"])

	rec = do(t, h, http.MethodPost, "/v1/nodes", map[string]any{
		"id": "x", "type": builtin.Expression, "properties": map[string]any{"expr": "inputs.a * 10"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/links", map[string]any{
		"id":   "c-x",
		"from": map[string]string{"node": "c", "port": "value"},
		"to":   map[string]string{"node": "x", "port": "a"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "core:value", decodeBody(t, rec)["link_type"])

	waitIdle(t, eng)

	rec = do(t, h, http.MethodGet, "/v1/links/c-x/value", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["has_value"])
	assert.EqualValues(t, 2, body["value"])

	rec = do(t, h, http.MethodGet, "/v1/nodes/x", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "executed", decodeBody(t, rec)["state"])

	rec = do(t, h, http.MethodPut, "/v1/nodes/c/properties", map[string]any{"value": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	waitIdle(t, eng)

	rec = do(t, h, http.MethodGet, "/v1/links/c-x/value", nil)
	assert.EqualValues(t, 5, decodeBody(t, rec)["value"])

	rec = do(t, h, http.MethodGet, "/v1/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	nodes := decodeBody(t, rec)["nodes"].([]any)
	assert.Len(t, nodes, 2)

	rec = do(t, h, http.MethodDelete, "/v1/links/c-x", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodDelete, "/v1/nodes/c", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/links", nil)
	assert.Empty(t, decodeBody(t, rec)["links"])
}

func TestErrorStatusCodes(t *testing.T) {
	eng := newTestEngine(t)
	h := New(eng, nil)

	rec := do(t, h, http.MethodPost, "/v1/nodes", map[string]any{
		"id": "c", "type": builtin.Constant, "properties": map[string]any{"value": 1},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed body", http.MethodPost, "/v1/nodes", "{", http.StatusBadRequest},
		{"missing type", http.MethodPost, "/v1/nodes", map[string]any{"id": "n"}, http.StatusBadRequest},
		{"unknown type", http.MethodPost, "/v1/nodes", map[string]any{"type": "core:nope"}, http.StatusUnprocessableEntity},
		{"duplicate id", http.MethodPost, "/v1/nodes", map[string]any{"id": "c", "type": builtin.Constant, "properties": map[string]any{"value": 1}}, http.StatusConflict},
		{"invalid properties", http.MethodPost, "/v1/nodes", map[string]any{"id": "e", "type": builtin.Constant}, http.StatusUnprocessableEntity},
		{"unknown node", http.MethodGet, "/v1/nodes/ghost", nil, http.StatusNotFound},
		{"remove unknown node", http.MethodDelete, "/v1/nodes/ghost", nil, http.StatusNotFound},
		{"execute unknown node", http.MethodPost, "/v1/nodes/ghost/execute", nil, http.StatusNotFound},
		{"reset unknown node", http.MethodPost, "/v1/nodes/ghost/reset", nil, http.StatusNotFound},
		{"remove unknown link", http.MethodDelete, "/v1/links/ghost", nil, http.StatusNotFound},
		{"unknown link value", http.MethodGet, "/v1/links/ghost/value", nil, http.StatusNotFound},
		{"link to unknown node", http.MethodPost, "/v1/links", map[string]any{
			"from": map[string]string{"node": "c", "port": "value"},
			"to":   map[string]string{"node": "ghost", "port": "a"},
		}, http.StatusUnprocessableEntity},
		{"link from unknown port", http.MethodPost, "/v1/links", map[string]any{
			"from": map[string]string{"node": "c", "port": "nope"},
			"to":   map[string]string{"node": "c", "port": "value"},
		}, http.StatusUnprocessableEntity},
		{"reload without file", http.MethodPost, "/v1/design/reload", nil, http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			if tc.want >= 400 {
				assert.NotEmpty(t, decodeBody(t, rec)["error"])
			}
		})
	}
}

func TestPauseResumeAndStats(t *testing.T) {
	eng := newTestEngine(t)
	h := New(eng, nil)

	rec := do(t, h, http.MethodPost, "/v1/engine/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["paused"])

	rec = do(t, h, http.MethodPost, "/v1/engine/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["paused"])

	rec = do(t, h, http.MethodGet, "/v1/types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), builtin.Gate)
}

func TestReloadDesignFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "design.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "1"
design:
  nodes:
    - id: one
      type: core:constant
      properties: {value: 1}
    - id: sink
      type: core:sink
  links:
    - id: one-sink
      from: {node: one, port: value}
      to: {node: sink, port: in}
`), 0o600))
	loader, err := config.NewLoader(path)
	require.NoError(t, err)

	eng := newTestEngine(t)
	h := New(eng, loader)

	rec := do(t, h, http.MethodPost, "/v1/design/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["nodes"])
	assert.EqualValues(t, 1, body["links"])
	waitIdle(t, eng)

	rec = do(t, h, http.MethodGet, "/v1/nodes/sink", nil)
	assert.Equal(t, "executed", decodeBody(t, rec)["state"])

	rec = do(t, h, http.MethodDelete, "/v1/design", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/nodes", nil)
	assert.Empty(t, decodeBody(t, rec)["nodes"])
}

func TestReadiness(t *testing.T) {
	eng := newTestEngine(t)
	h := New(eng, nil)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", nil).Code)

	eng.Shutdown()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/readyz", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/v1/nodes", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil).Code)
}

func TestEventStream(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.AddNode(engine.NodeSpec{ID: "c", Type: builtin.Constant, Properties: map[string]any{"value": 1}})
	require.NoError(t, err)
	waitIdle(t, eng)

	srv := httptest.NewServer(New(eng, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() *event.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev event.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return &ev
	}

	first := read()
	assert.Equal(t, event.KindState, first.Kind)
	assert.Equal(t, "c", first.NodeID)
	assert.Equal(t, "executed", first.State)

	require.NoError(t, eng.RequestExecution("c"))

	var states []string
	sawIdle := false
	for !sawIdle {
		ev := read()
		switch ev.Kind {
		case event.KindState:
			states = append(states, ev.State)
		case event.KindIdle:
			sawIdle = true
		}
	}
	assert.Equal(t, []string{"pending", "executing", "executed"}, states)
}
