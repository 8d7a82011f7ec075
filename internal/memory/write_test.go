package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/models"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Prefer table-driven tests": "prefer-table-driven-tests",
		"  Leading & trailing!  ":   "leading-trailing",
		"ALL CAPS 123":              "all-caps-123",
		"":                          "untitled",
		"___":                       "untitled",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}

	long := Slugify("a very long title that keeps going and going and going and going and going and going")
	assert.LessOrEqual(t, len(long), maxSlugLen)
}

func TestRunIDDate(t *testing.T) {
	d, ok := RunIDDate("codex-rollout-2025-06-01T10-00-00-abc")
	require.True(t, ok)
	assert.Equal(t, "20250601", d)

	d, ok = RunIDDate("sync-20250814-103000-deadbeef")
	require.True(t, ok)
	assert.Equal(t, "20250814", d)

	_, ok = RunIDDate("claudecode-5f2a9c1e")
	assert.False(t, ok)
}

const learningContent = `---
title: Prefer table-driven tests
kind: insight
confidence: 0.8
tags:
  - testing
---

Table-driven tests keep the fixtures next to the expectations.
`

func TestWriteNormalized(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 8, 14, 10, 30, 0, 0, time.UTC)

	path, err := WriteNormalized(WriteRequest{
		MemoryRoot:    root,
		RequestedPath: filepath.Join(root, "learnings", "whatever.md"),
		RunID:         "claudecode-5f2a9c1e",
		Content:       learningContent,
		Now:           now,
	})
	require.NoError(t, err)

	// Run id has no embedded date, so today's date is used, and the filename
	// is re-derived from the title regardless of the requested name.
	assert.Equal(t, filepath.Join(root, "learnings", "20250814-prefer-table-driven-tests.md"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	f, err := Parse(string(raw))
	require.NoError(t, err)
	assert.Equal(t, "20250814-prefer-table-driven-tests", f.Front.ID)
	assert.Equal(t, "2025-08-14T10:30:00Z", f.Front.Created)
	assert.Equal(t, "2025-08-14T10:30:00Z", f.Front.Updated)
	assert.Equal(t, "claudecode-5f2a9c1e", f.Front.Source)
	assert.Equal(t, "insight", f.Front.Kind)
	assert.Equal(t, "Table-driven tests keep the fixtures next to the expectations.\n", f.Body)
}

func TestWriteNormalizedDateFromRunID(t *testing.T) {
	root := t.TempDir()
	path, err := WriteNormalized(WriteRequest{
		MemoryRoot:    root,
		RequestedPath: filepath.Join(root, "decisions", "d.md"),
		RunID:         "codex-rollout-2025-06-01T10-00-00-abc",
		Content:       "---\ntitle: Use WAL mode\n---\n\nBody.\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "20250601-use-wal-mode.md", filepath.Base(path))
}

func TestWriteNormalizedRejectsMissingTitle(t *testing.T) {
	root := t.TempDir()
	_, err := WriteNormalized(WriteRequest{
		MemoryRoot:    root,
		RequestedPath: filepath.Join(root, "learnings", "x.md"),
		RunID:         "r",
		Content:       "---\nkind: insight\n---\n\nbody\n",
	})
	var ae *models.ArtifactError
	require.ErrorAs(t, err, &ae)
}

func TestWriteNormalizedRejectsSummaries(t *testing.T) {
	root := t.TempDir()
	_, err := WriteNormalized(WriteRequest{
		MemoryRoot:    root,
		RequestedPath: filepath.Join(root, "summaries", "20250814", "103000", "x.md"),
		RunID:         "r",
		Content:       learningContent,
	})
	var be *models.BoundaryError
	require.ErrorAs(t, err, &be)
}

func TestWriteNormalizedRejectsEscape(t *testing.T) {
	root := t.TempDir()
	_, err := WriteNormalized(WriteRequest{
		MemoryRoot:    root,
		RequestedPath: filepath.Join(root, "..", "outside.md"),
		RunID:         "r",
		Content:       learningContent,
	})
	var be *models.BoundaryError
	require.ErrorAs(t, err, &be)
}

func TestWriteSummary(t *testing.T) {
	root := t.TempDir()
	runTime := time.Date(2025, 8, 14, 10, 30, 0, 0, time.UTC)
	path, err := WriteSummary(root, runTime, "Fix adapter window filtering", "---\ntitle: t\n---\n\nbody\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "summaries", "20250814", "103000", "fix-adapter-window-filtering.md"), path)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestArchive(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "learnings", "20250814-a.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte(learningContent), 0o644))

	dest, err := Archive(root, src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "archived", "learnings", "20250814-a.md"), dest)
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	// Summaries are never archived.
	sum := filepath.Join(root, "summaries", "20250814", "103000", "s.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(sum), 0o755))
	require.NoError(t, os.WriteFile(sum, []byte("x"), 0o644))
	_, err = Archive(root, sum)
	assert.Error(t, err)
}

func TestParseRenderRoundTrip(t *testing.T) {
	f, err := Parse(learningContent)
	require.NoError(t, err)

	rendered, err := f.Render()
	require.NoError(t, err)

	again, err := Parse(rendered)
	require.NoError(t, err)
	assert.Equal(t, f.Front, again.Front)
	assert.Equal(t, f.Body, again.Body)
}

func TestParseStripsByteOrderMark(t *testing.T) {
	// Editors on Windows sometimes save memory files with a BOM prefix.
	f, err := Parse("\ufeff" + learningContent)
	require.NoError(t, err)

	plain, err := Parse(learningContent)
	require.NoError(t, err)
	assert.Equal(t, plain.Front, f.Front)
	assert.Equal(t, plain.Body, f.Body)
}
