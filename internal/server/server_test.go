package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/agent"
	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/memory"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/store"
)

func newTestServer(t *testing.T) (*Server, *app.Runtime) {
	t.Helper()
	rt, err := app.New(context.Background(), app.Options{
		Root:         t.TempDir(),
		Version:      "test",
		Orchestrator: &agent.Stub{ChatAnswer: "use the queue"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	s, err := New(rt)
	require.NoError(t, err)
	return s, rt
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec, payload := doJSON(t, s, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "test", payload["version"])
}

func TestReadOnlyGuard(t *testing.T) {
	s, _ := newTestServer(t)
	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		rec, payload := doJSON(t, s, method, "/api/memories", "")
		assert.Equal(t, http.StatusForbidden, rec.Code, method)
		assert.Equal(t, "read-only", payload["error"], method)
	}
}

func TestStatus(t *testing.T) {
	s, rt := newTestServer(t)
	ts := time.Now().UTC()
	_, err := store.IndexSession(rt.Sessions, &models.SessionRecord{
		RunID: "claudecode-a", AgentType: "claudecode", SessionPath: "/tmp/a.jsonl",
		StartTime: &ts, ContentHash: "h1",
	})
	require.NoError(t, err)

	rec, payload := doJSON(t, s, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, payload["sessions"])
	assert.Contains(t, payload, "queue")
	assert.Contains(t, payload, "platforms")
}

func TestRunsListAndStats(t *testing.T) {
	s, rt := newTestServer(t)
	for i, id := range []string{"claudecode-a", "claudecode-b"} {
		ts := time.Now().UTC().Add(-time.Duration(i) * time.Hour)
		_, err := store.IndexSession(rt.Sessions, &models.SessionRecord{
			RunID: id, AgentType: "claudecode", SessionPath: "/tmp/x.jsonl",
			StartTime: &ts, MessageCount: 3, ContentHash: "h" + id,
		})
		require.NoError(t, err)
	}

	rec, payload := doJSON(t, s, http.MethodGet, "/api/runs?limit=1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, payload["total"])
	assert.Len(t, payload["runs"], 1)

	// Scope keywords bound the window; agent_type filters by adapter.
	rec, payload = doJSON(t, s, http.MethodGet, "/api/runs?scope=week&agent_type=claudecode", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, payload["total"])

	rec, payload = doJSON(t, s, http.MethodGet, "/api/runs?agent_type=codex", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, payload["total"])

	rec, _ = doJSON(t, s, http.MethodGet, "/api/runs/stats?scope=today", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSearchQueryParams(t *testing.T) {
	s, rt := newTestServer(t)
	ts := time.Now().UTC()
	_, err := store.IndexSession(rt.Sessions, &models.SessionRecord{
		RunID: "claudecode-q1", AgentType: "claudecode", SessionPath: "/tmp/q.jsonl",
		StartTime: &ts, ContentHash: "hq", Content: "we chose exponential backoff for retries",
	})
	require.NoError(t, err)

	rec, payload := doJSON(t, s, http.MethodGet, "/api/search?query=backoff&scope=week", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, payload["total"])

	rec, payload = doJSON(t, s, http.MethodGet, "/api/search?query=backoff&agent_type=codex", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, payload["total"])
}

func TestRunMessagesNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := doJSON(t, s, http.MethodGet, "/api/runs/claudecode-ghost/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunMessagesReadsAndCaches(t *testing.T) {
	s, rt := newTestServer(t)

	trace := filepath.Join(t.TempDir(), "abc.jsonl")
	fixture := `{"type":"user","timestamp":"2026-08-20T10:00:00Z","sessionId":"abc","message":{"role":"user","content":"hello"}}
`
	require.NoError(t, os.WriteFile(trace, []byte(fixture), 0o644))
	_, err := store.IndexSession(rt.Sessions, &models.SessionRecord{
		RunID: "claudecode-abc", AgentType: "claudecode", SessionPath: trace, ContentHash: "h",
	})
	require.NoError(t, err)

	rec, payload := doJSON(t, s, http.MethodGet, "/api/runs/claudecode-abc/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, payload["messages"], 1)

	// Cached: deleting the file does not break the second read.
	require.NoError(t, os.Remove(trace))
	rec, _ = doJSON(t, s, http.MethodGet, "/api/runs/claudecode-abc/messages", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMemoriesEndpoints(t *testing.T) {
	s, rt := newTestServer(t)
	path, err := memory.WriteNormalized(memory.WriteRequest{
		MemoryRoot:    rt.Layout.MemoryRoot(),
		RequestedPath: filepath.Join(rt.Layout.MemoryRoot(), "learnings", "x.md"),
		RunID:         "claudecode-20260101-abc",
		Content:       "---\ntitle: Prefer table tests\nkind: insight\n---\n\nTable tests scale.\n",
	})
	require.NoError(t, err)
	id := strings.TrimSuffix(filepath.Base(path), ".md")

	rec, payload := doJSON(t, s, http.MethodGet, "/api/memories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, payload["total"])

	rec, payload = doJSON(t, s, http.MethodGet, "/api/memories/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Prefer table tests", payload["title"])

	rec, _ = doJSON(t, s, http.MethodGet, "/api/memories/20990101-none", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectAndProject(t *testing.T) {
	s, _ := newTestServer(t)

	rec, payload := doJSON(t, s, http.MethodGet, "/api/connect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, payload["platforms"], 4)

	source := t.TempDir()
	rec, payload = doJSON(t, s, http.MethodPost, "/api/connect",
		`{"platform":"claudecode","path":"`+source+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "claudecode", payload["name"])

	rec, _ = doJSON(t, s, http.MethodPost, "/api/connect", `{"platform":"notreal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	proj := t.TempDir()
	rec, payload = doJSON(t, s, http.MethodPost, "/api/project/add", `{"path":"`+proj+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	name, _ := payload["name"].(string)
	require.NotEmpty(t, name)

	rec, _ = doJSON(t, s, http.MethodPost, "/api/project/remove", `{"name":"`+name+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChat(t *testing.T) {
	s, _ := newTestServer(t)
	rec, payload := doJSON(t, s, http.MethodPost, "/api/chat", `{"question":"how do I retry jobs?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "use the queue", payload["answer"])

	rec, _ = doJSON(t, s, http.MethodPost, "/api/chat", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncAndMaintainStart(t *testing.T) {
	s, _ := newTestServer(t)

	rec, payload := doJSON(t, s, http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", payload["status"])
	assert.NotEmpty(t, payload["job_id"])

	rec, payload = doJSON(t, s, http.MethodPost, "/api/sync",
		`{"agent":"claudecode","max_sessions":2,"dry_run":true}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", payload["status"])

	rec, payload = doJSON(t, s, http.MethodPost, "/api/maintain", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", payload["status"])
}

func TestConfigGetAndPatch(t *testing.T) {
	s, rt := newTestServer(t)

	rec, _ := doJSON(t, s, http.MethodGet, "/api/config", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, s, http.MethodPatch, "/api/config", `{"patch":{"sync":{"max_sessions":11}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	b, err := os.ReadFile(rt.Layout.ConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(b), "max_sessions = 11")

	// A body without the patch envelope is rejected.
	rec, _ = doJSON(t, s, http.MethodPatch, "/api/config", `{"sync":{"max_sessions":12}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
