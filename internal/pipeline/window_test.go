package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/store"
)

func TestParseWindow(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"12h": 12 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"1d":  24 * time.Hour,
	}
	for spec, want := range cases {
		got, err := ParseWindow(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, want, got, spec)
	}
}

func TestParseWindowRejects(t *testing.T) {
	for _, spec := range []string{"", "0s", "0d", "7w", "7", "d7", "-3d", "3.5h", "all"} {
		_, err := ParseWindow(spec)
		assert.Error(t, err, spec)
	}
}

func TestResolveWindowDuration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w, err := ResolveWindow(nil, "7d", nil, nil, now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -7), *w.Since)
	assert.Equal(t, now, *w.Until)
	assert.Equal(t, "7d", w.Label)
}

func TestResolveWindowExplicit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-48 * time.Hour)

	w, err := ResolveWindow(nil, "", &since, nil, now)
	require.NoError(t, err)
	assert.Equal(t, since, *w.Since)
	assert.Equal(t, now, *w.Until, "missing until defaults to now")
}

func TestResolveWindowConflict(t *testing.T) {
	now := time.Now().UTC()
	since := now.Add(-time.Hour)
	_, err := ResolveWindow(nil, "7d", &since, nil, now)
	require.Error(t, err)
	assert.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestResolveWindowBadSpecIsUsage(t *testing.T) {
	_, err := ResolveWindow(nil, "0s", nil, nil, time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestResolveWindowAll(t *testing.T) {
	db, err := store.InitDB(t.TempDir() + "/sessions.sqlite3")
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()

	// Empty catalog: all means unbounded.
	w, err := ResolveWindow(db, WindowAll, nil, nil, now)
	require.NoError(t, err)
	assert.Nil(t, w.Since)
	assert.Equal(t, now, *w.Until)

	oldest := time.Date(2025, 1, 5, 8, 0, 0, 0, time.UTC)
	newer := oldest.AddDate(0, 2, 0)
	for i, ts := range []time.Time{newer, oldest} {
		ts := ts
		_, err := store.IndexSession(db, &models.SessionRecord{
			RunID:       []string{"claudecode-a", "claudecode-b"}[i],
			AgentType:   "claudecode",
			SessionPath: "/tmp/x.jsonl",
			StartTime:   &ts,
			ContentHash: "h",
		})
		require.NoError(t, err)
	}

	w, err = ResolveWindow(db, WindowAll, nil, nil, now)
	require.NoError(t, err)
	require.NotNil(t, w.Since)
	assert.True(t, w.Since.Equal(oldest))
}
