package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/models"
)

func TestLayoutPaths(t *testing.T) {
	l := NewLayout("/data/.lerim")

	assert.Equal(t, "/data/.lerim/memory", l.MemoryRoot())
	assert.Equal(t, "/data/.lerim/memory/decisions", l.DecisionsDir())
	assert.Equal(t, "/data/.lerim/memory/learnings", l.LearningsDir())
	assert.Equal(t, "/data/.lerim/memory/summaries", l.SummariesDir())
	assert.Equal(t, "/data/.lerim/workspace", l.WorkspaceRoot())
	assert.Equal(t, "/data/.lerim/index/sessions.sqlite3", l.SessionsDBPath())
	assert.Equal(t, "/data/.lerim/index/memories.sqlite3", l.AccessDBPath())
	assert.Equal(t, "/data/.lerim/index/writer.lock", l.WriterLockPath())
	assert.Equal(t, "/data/.lerim/platforms.json", l.PlatformsPath())
	assert.Equal(t, "/data/.lerim/config.toml", l.ConfigPath())
}

func TestScopedLayoutSplitsGlobalState(t *testing.T) {
	l := NewScopedLayout("/repo/.lerim", "/home/u/.lerim")

	// Memory tree, workspace, access DB and writer lock stay per data root.
	assert.Equal(t, "/repo/.lerim/memory", l.MemoryRoot())
	assert.Equal(t, "/repo/.lerim/workspace", l.WorkspaceRoot())
	assert.Equal(t, "/repo/.lerim/index/memories.sqlite3", l.AccessDBPath())
	assert.Equal(t, "/repo/.lerim/index/writer.lock", l.WriterLockPath())
	assert.Equal(t, "/repo/.lerim/config.toml", l.ConfigPath())

	// Session catalog, registries, cache and server files are host-wide.
	assert.Equal(t, "/home/u/.lerim/index/sessions.sqlite3", l.SessionsDBPath())
	assert.Equal(t, "/home/u/.lerim/platforms.json", l.PlatformsPath())
	assert.Equal(t, "/home/u/.lerim/projects.json", l.ProjectsPath())
	assert.Equal(t, "/home/u/.lerim/cache", l.CacheDir())
	assert.Equal(t, "/home/u/.lerim/server.pid", l.ServerPIDPath())
	assert.Equal(t, "/home/u/.lerim/server.log", l.ServerLogPath())
}

func TestArchivedDir(t *testing.T) {
	l := NewLayout("/data/.lerim")

	dir, err := l.ArchivedDir(models.PrimitiveDecision)
	require.NoError(t, err)
	assert.Equal(t, "/data/.lerim/memory/archived/decisions", dir)

	dir, err = l.ArchivedDir(models.PrimitiveLearning)
	require.NoError(t, err)
	assert.Equal(t, "/data/.lerim/memory/archived/learnings", dir)

	_, err = l.ArchivedDir(models.PrimitiveSummary)
	assert.Error(t, err)
}

func TestEnsureTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".lerim")
	l := NewLayout(root)
	require.NoError(t, l.EnsureTree())

	for _, dir := range []string{
		l.DecisionsDir(),
		l.LearningsDir(),
		l.SummariesDir(),
		filepath.Join(l.MemoryRoot(), "archived", "decisions"),
		filepath.Join(l.MemoryRoot(), "archived", "learnings"),
		l.WorkspaceRoot(),
		l.IndexDir(),
		l.CacheDir(),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}

	// Idempotent.
	require.NoError(t, l.EnsureTree())

	// A scoped layout also creates the global index alongside the data root.
	global := filepath.Join(t.TempDir(), ".lerim")
	scoped := NewScopedLayout(filepath.Join(t.TempDir(), ".lerim"), global)
	require.NoError(t, scoped.EnsureTree())
	info, err := os.Stat(filepath.Join(global, "index"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestGitRoot(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0o750))
	nested := filepath.Join(repo, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	got, ok := GitRoot(nested)
	require.True(t, ok)
	assert.Equal(t, repo, got)

	proj, ok := ProjectRoot(nested)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(repo, ".lerim"), proj)

	_, ok = GitRoot(t.TempDir())
	assert.False(t, ok)
}
