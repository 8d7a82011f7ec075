package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/llm"
	"github.com/dotcommander/lerim/internal/workspace"
)

func newToolbox(t *testing.T, mode Mode) (*Toolbox, string) {
	t.Helper()
	base := t.TempDir()
	memoryRoot := filepath.Join(base, "memory")
	for _, d := range []string{"decisions", "learnings", "summaries"} {
		require.NoError(t, os.MkdirAll(filepath.Join(memoryRoot, d), 0o755))
	}
	run, err := workspace.NewRun(filepath.Join(base, "workspace"), "sync", nil)
	require.NoError(t, err)

	return &Toolbox{
		Mode:       mode,
		MemoryRoot: memoryRoot,
		Run:        run,
		RunID:      "claudecode-test",
		ReadRoots:  []string{memoryRoot, run.Dir},
		WriteRoots: []string{memoryRoot, run.Dir},
	}, memoryRoot
}

func call(name string, args map[string]any) llm.ToolCall {
	b, _ := json.Marshal(args)
	return llm.ToolCall{ID: "tc", Name: name, Arguments: b}
}

func TestToolSurfacePerMode(t *testing.T) {
	chat, _ := newToolbox(t, ModeChat)
	assert.ElementsMatch(t, []string{"read", "glob", "grep", "explore"}, chat.Names())

	sync, _ := newToolbox(t, ModeSync)
	assert.Contains(t, sync.Names(), "extract_pipeline")
	assert.Contains(t, sync.Names(), "write")
	assert.NotContains(t, sync.Names(), "edit")

	maintain, _ := newToolbox(t, ModeMaintain)
	assert.Contains(t, maintain.Names(), "edit")
	assert.NotContains(t, maintain.Names(), "extract_pipeline")
}

func TestToolNotAvailableInMode(t *testing.T) {
	tb, _ := newToolbox(t, ModeChat)
	out := tb.Execute(context.Background(), call("write", map[string]any{"path": "x", "content": "y"}))
	assert.Contains(t, out, "not available in chat mode")
}

func TestReadInsideBoundary(t *testing.T) {
	tb, memoryRoot := newToolbox(t, ModeChat)
	path := filepath.Join(memoryRoot, "learnings", "20250814-x.md")
	require.NoError(t, os.WriteFile(path, []byte("line1\nline2\nline3\n"), 0o644))

	out := tb.Execute(context.Background(), call("read", map[string]any{"path": path}))
	assert.Equal(t, "line1\nline2\nline3\n", out)

	limited := tb.Execute(context.Background(), call("read", map[string]any{"path": path, "limit": 2}))
	assert.Equal(t, "line1\nline2\n", limited)
}

func TestReadOutsideBoundary(t *testing.T) {
	tb, _ := newToolbox(t, ModeChat)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o644))

	out := tb.Execute(context.Background(), call("read", map[string]any{"path": outside}))
	assert.Contains(t, out, "outside the allowed roots")

	// Traversal through an allowed root is still caught.
	tb2, memoryRoot := newToolbox(t, ModeChat)
	sneaky := filepath.Join(memoryRoot, "..", "..", "etc", "passwd")
	out = tb2.Execute(context.Background(), call("read", map[string]any{"path": sneaky}))
	assert.Contains(t, out, "outside the allowed roots")
}

func TestWriteNormalizesMemoryFiles(t *testing.T) {
	tb, memoryRoot := newToolbox(t, ModeSync)
	out := tb.Execute(context.Background(), call("write", map[string]any{
		"path":    filepath.Join(memoryRoot, "learnings", "anything.md"),
		"content": "---\ntitle: Always use require in setup\nkind: procedure\n---\n\nBody text.\n",
	}))

	var resp map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Contains(t, filepath.Base(resp["path"]), "always-use-require-in-setup.md")
	_, err := os.Stat(resp["path"])
	assert.NoError(t, err)
}

func TestWriteIntoRunFolderIsVerbatim(t *testing.T) {
	tb, _ := newToolbox(t, ModeSync)
	target := filepath.Join(tb.Run.Dir, "memory_actions.json")
	out := tb.Execute(context.Background(), call("write", map[string]any{
		"path":    target,
		"content": `{"counts":{"add":0,"update":0,"no_op":0}}`,
	}))
	var resp map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, target, resp["path"])

	raw, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.JSONEq(t, `{"counts":{"add":0,"update":0,"no_op":0}}`, string(raw))
}

func TestWriteSummariesRejected(t *testing.T) {
	tb, memoryRoot := newToolbox(t, ModeSync)
	out := tb.Execute(context.Background(), call("write", map[string]any{
		"path":    filepath.Join(memoryRoot, "summaries", "20250814", "103000", "s.md"),
		"content": "---\ntitle: s\n---\n\nbody\n",
	}))
	assert.Contains(t, out, "outside the allowed roots")
}

func TestEditRejectsSummaries(t *testing.T) {
	tb, memoryRoot := newToolbox(t, ModeMaintain)
	sum := filepath.Join(memoryRoot, "summaries", "20250814", "103000", "s.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(sum), 0o755))
	require.NoError(t, os.WriteFile(sum, []byte("x"), 0o644))

	out := tb.Execute(context.Background(), call("edit", map[string]any{"path": sum, "old": "x", "new": "y"}))
	assert.Contains(t, out, "summaries cannot be edited")
}

func TestEditReplacesOnce(t *testing.T) {
	tb, memoryRoot := newToolbox(t, ModeMaintain)
	path := filepath.Join(memoryRoot, "learnings", "20250814-x.md")
	require.NoError(t, os.WriteFile(path, []byte("aaa bbb aaa\n"), 0o644))

	out := tb.Execute(context.Background(), call("edit", map[string]any{"path": path, "old": "aaa", "new": "ccc"}))
	assert.NotContains(t, out, "error")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ccc bbb aaa\n", string(raw))
}

func TestGlobAndGrep(t *testing.T) {
	tb, memoryRoot := newToolbox(t, ModeChat)
	require.NoError(t, os.WriteFile(filepath.Join(memoryRoot, "learnings", "20250814-a.md"), []byte("needle here\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(memoryRoot, "decisions", "20250814-b.md"), []byte("nothing\n"), 0o644))

	out := tb.Execute(context.Background(), call("glob", map[string]any{"pattern": "**/*.md"}))
	var paths []string
	require.NoError(t, json.Unmarshal([]byte(out), &paths))
	assert.Len(t, paths, 2)

	out = tb.Execute(context.Background(), call("grep", map[string]any{"pattern": "needle"}))
	var hits []grepMatch
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].Line)
}

func TestExploreLogsSubagentOutput(t *testing.T) {
	tb, _ := newToolbox(t, ModeSync)
	tb.Explore = func(_ context.Context, task string) (string, error) {
		return "explored: " + task, nil
	}

	out := tb.Execute(context.Background(), call("explore", map[string]any{"task": "scan learnings"}))
	assert.Equal(t, "explored: scan learnings", out)
	assert.True(t, tb.Run.HasArtifact(workspace.SubagentsLogName))
}
