package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/models"
)

func seedTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"decisions/20250810-use-wal-mode.md":            "---\nid: 20250810-use-wal-mode\ntitle: Use WAL mode\ntags:\n  - sqlite\n---\n\nWAL allows concurrent readers.\n",
		"learnings/20250814-prefer-table-tests.md":      "---\nid: 20250814-prefer-table-tests\ntitle: Prefer table tests\nkind: insight\n---\n\nKeep fixtures close.\n",
		"archived/learnings/20250701-old-lesson.md":     "---\nid: 20250701-old-lesson\ntitle: Old lesson\nkind: pitfall\n---\n\nRetired.\n",
		"summaries/20250814/103000/session-summary.md":  "---\nid: s\ntitle: Session summary\nrun_id: claudecode-x\n---\n\nNarrative.\n",
		"learnings/not-a-memory.txt":                    "ignored",
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestListActive(t *testing.T) {
	root := seedTree(t)
	entries, err := List(root, ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first by dated id.
	assert.Equal(t, "20250814-prefer-table-tests", entries[0].ID)
	assert.Equal(t, "20250810-use-wal-mode", entries[1].ID)
}

func TestListArchivedAndFiltered(t *testing.T) {
	root := seedTree(t)

	archived, err := List(root, ListOptions{State: "archived"})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.True(t, archived[0].Archived)

	decisions, err := List(root, ListOptions{Primitive: models.PrimitiveDecision})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "Use WAL mode", decisions[0].Title)
}

func TestSearch(t *testing.T) {
	root := seedTree(t)

	hits, err := Search(root, "concurrent readers", ListOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "20250810-use-wal-mode", hits[0].ID)

	none, err := Search(root, "nonexistent phrase", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGet(t *testing.T) {
	root := seedTree(t)

	e, err := Get(root, "20250701-old-lesson")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.True(t, e.Archived)

	missing, err := Get(root, "20990101-nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExportJSON(t *testing.T) {
	root := seedTree(t)
	b, err := Export(root, "json")
	require.NoError(t, err)

	var entries []Entry
	require.NoError(t, json.Unmarshal(b, &entries))
	assert.Len(t, entries, 3)

	_, err = Export(root, "xml")
	assert.Error(t, err)
}

func TestReset(t *testing.T) {
	root := seedTree(t)
	require.NoError(t, Reset(root))
	entries, err := List(root, ListOptions{State: "all"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
