package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/agent"
	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/models"
)

func newRuntime(t *testing.T) *app.Runtime {
	t.Helper()
	rt, err := app.New(context.Background(), app.Options{
		Root:         t.TempDir(),
		Version:      "test",
		Orchestrator: &agent.Stub{ChatAnswer: "prefer the queue"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestStatusEmptyRoot(t *testing.T) {
	rt := newRuntime(t)

	report, err := Status(rt)
	require.NoError(t, err)

	assert.Equal(t, rt.Layout.Root, report.Root)
	assert.Zero(t, report.Sessions)
	assert.Zero(t, report.ActiveMemories)
	for status, n := range report.Queue {
		assert.Zero(t, n, "queue status %s", status)
	}
	assert.Nil(t, report.LastSync)
	assert.Equal(t, report.SchemaLatest, report.SchemaCurrent)
}

func TestConnectListReportsAllAdapters(t *testing.T) {
	rt := newRuntime(t)

	platforms, err := ConnectList(rt)
	require.NoError(t, err)
	require.Len(t, platforms, 4)
	for _, p := range platforms {
		assert.False(t, p.Connected, p.Name)
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	rt := newRuntime(t)
	dir := t.TempDir()

	p, err := Connect(rt, "claudecode", dir)
	require.NoError(t, err)
	assert.Equal(t, "claudecode", p.Name)
	assert.Equal(t, dir, p.SourcePath)

	platforms, err := ConnectList(rt)
	require.NoError(t, err)
	var found bool
	for _, info := range platforms {
		if info.Name == "claudecode" {
			found = true
			assert.True(t, info.Connected)
			assert.Equal(t, dir, info.SourcePath)
		}
	}
	assert.True(t, found)

	require.NoError(t, Disconnect(rt, "claudecode"))
	assert.Empty(t, rt.Platforms.List())
}

func TestConnectUnknownPlatform(t *testing.T) {
	rt := newRuntime(t)

	_, err := Connect(rt, "vim", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown platform")
}

func TestConnectAutoSkipsMissingDirs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	rt := newRuntime(t)

	added, err := ConnectAuto(rt)
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestProjectLifecycle(t *testing.T) {
	rt := newRuntime(t)
	dir := t.TempDir()

	p, err := ProjectAdd(rt, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, p.Path)

	projects := ProjectList(rt)
	require.Len(t, projects, 1)
	assert.Equal(t, p.Name, projects[0].Name)

	require.NoError(t, ProjectRemove(rt, p.Name))
	assert.Empty(t, ProjectList(rt))
}

func TestMemoryAddListGet(t *testing.T) {
	rt := newRuntime(t)

	entry, err := MemoryAdd(rt, MemoryAddRequest{
		Title: "Prefer table-driven tests",
		Body:  "Small cases read better as a table.",
		Kind:  "practice",
		Tags:  []string{"testing"},
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.PrimitiveLearning, entry.Primitive)
	assert.Equal(t, "Prefer table-driven tests", entry.Title)

	entries, err := MemoryList(rt, MemoryListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got, err := MemoryGet(rt, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, got.Body, "table")

	missing, err := MemoryGet(rt, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryAddRequiresTitle(t *testing.T) {
	rt := newRuntime(t)

	_, err := MemoryAdd(rt, MemoryAddRequest{Body: "no title"})
	require.Error(t, err)
}

func TestMemoryAddDecisionGoesToDecisions(t *testing.T) {
	rt := newRuntime(t)

	entry, err := MemoryAdd(rt, MemoryAddRequest{
		Primitive: string(models.PrimitiveDecision),
		Title:     "Use SQLite for the catalog",
		Body:      "Single file, no daemon to manage.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PrimitiveDecision, entry.Primitive)
}

func TestMemorySearch(t *testing.T) {
	rt := newRuntime(t)

	_, err := MemoryAdd(rt, MemoryAddRequest{Title: "Retry with backoff", Body: "Transient SQLITE_BUSY errors deserve a retry."})
	require.NoError(t, err)
	_, err = MemoryAdd(rt, MemoryAddRequest{Title: "Pin schema migrations", Body: "Embed migrations in the binary."})
	require.NoError(t, err)

	hits, err := MemorySearch(rt, "backoff retry", MemoryListOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Retry with backoff", hits[0].Title)
}

func TestMemoryExportAndReset(t *testing.T) {
	rt := newRuntime(t)

	_, err := MemoryAdd(rt, MemoryAddRequest{Title: "Keep handlers thin", Body: "Push work into the shared action layer."})
	require.NoError(t, err)

	out, err := MemoryExport(rt, "json")
	require.NoError(t, err)
	assert.Contains(t, string(out), "Keep handlers thin")

	require.NoError(t, MemoryReset(rt))
	entries, err := MemoryList(rt, MemoryListOptions{State: "all"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChatFallsBackInProcess(t *testing.T) {
	rt := newRuntime(t)
	// No server is listening on the configured port, so the HTTP path fails
	// and the stub orchestrator answers.
	rt.Config.Server.Port = 1 // guaranteed closed

	answer, err := Chat(context.Background(), rt, "how should jobs be scheduled?", 5)
	require.NoError(t, err)
	assert.Equal(t, "prefer the queue", answer)
}
