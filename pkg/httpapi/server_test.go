package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/engine/pkg/chat"
	"github.com/storyforge/engine/pkg/executor"
	"github.com/storyforge/engine/pkg/ir"
	"github.com/storyforge/engine/pkg/nodes"
	"github.com/storyforge/engine/pkg/session"
	"github.com/storyforge/engine/pkg/traffic"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoDoc(id string) *ir.Document {
	doc := &ir.Document{
		ID: id, Version: 1, Entry: "main",
		Nodes: []ir.NodeDef{{ID: "main", Type: "WriteState"}},
	}
	doc.Index()
	return doc
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry, err := nodes.Discover([]nodes.Provider{nodes.BuiltinProvider})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, writeFlowFile(dir, "main.flow.json", `{"id":"main","version":1,"entry":"main","nodes":[{"id":"main","type":"WriteState"}]}`))

	loader := ir.NewLoader()
	_, err = loader.Reload([]string{dir})
	require.NoError(t, err)

	exec := executor.New(loader, registry)
	store, err := session.New(t.TempDir())
	require.NoError(t, err)
	pipeline := chat.New(store, exec, nodes.Resources{}, nopLogger())
	recorder := traffic.NewRecorder(10)

	return NewServer(loader, exec, registry, store, pipeline, recorder, nopLogger())
}

func writeFlowFile(dir, name, content string) error {
	return os.WriteFile(dir+"/"+name, []byte(content), 0o644)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHandleSessionStartCreatesSession(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/chat/session/start", map[string]any{
		"initial_state": map[string]any{"turn_count": 0},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["session_id"])
	assert.NotEmpty(t, resp["branch_id"])
	snapshot, _ := resp["state_snapshot"].(map[string]any)
	assert.EqualValues(t, 0, snapshot["turn_count"])
}

func TestHandleSendEndToEnd(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/chat/session/start", map[string]any{})
	var started map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	w = doJSON(t, s, http.MethodPost, "/api/chat/send", map[string]any{
		"session_id": started["session_id"], "branch_id": started["branch_id"],
		"user_input": "hi", "ref": "main@1",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["round_no"])
	assert.Contains(t, resp, "snapshot_id")
	assert.Contains(t, resp, "llm_reply")
	assert.Contains(t, resp, "state_snapshot")
	assert.Contains(t, resp, "round_status")
}

func TestHandleSendMissingFieldsReturns404ForUnknownSession(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/chat/send", map[string]any{
		"session_id": "ghost", "user_input": "hi", "ref": "main@1",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleFlowValidateInlineDocWithNoEntryNode(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/flow/validate", map[string]any{
		"doc": map[string]any{"id": "x", "version": 1, "entry": "nope", "nodes": []any{}},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["valid"])
	assert.Equal(t, "entry not found", resp["error"])
}

func TestHandleFlowValidateInlineDocIsValid(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/flow/validate", map[string]any{
		"doc": map[string]any{
			"id": "x", "version": 1, "entry": "main",
			"nodes": []any{map[string]any{"id": "main", "type": "WriteState"}},
		},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["valid"])
}

func TestHandleFlowReloadReportsCompositeAndAtomicNodeTypes(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/flow/reload", map[string]any{})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	nodeTypes, _ := resp["node_types"].([]any)
	assert.Contains(t, nodeTypes, "Sequence")
	assert.Contains(t, nodeTypes, "If")
	assert.Contains(t, nodeTypes, "Subflow")
	assert.Contains(t, nodeTypes, "WriteState")
}

func TestHandleTrafficListAndClear(t *testing.T) {
	s := newTestServer(t)
	s.recorder.Record(traffic.Event{Type: "request", Service: "llm"})

	w := doJSON(t, s, http.MethodGet, "/api/debug/traffic", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	events, _ := resp["events"].([]any)
	assert.Len(t, events, 1)

	w = doJSON(t, s, http.MethodPost, "/api/debug/traffic/clear", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/debug/traffic", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	events, _ = resp["events"].([]any)
	assert.Empty(t, events)
}

func TestHandleRoundStatusRejectsNonIntegerRound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/chat/round/sess/branch/not-a-number/status", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
