package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "sessions.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInitDBCreatesSchema(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"session_docs", "session_jobs", "service_runs", "sessions_fts"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestInitDBRepeatedCallsSamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.sqlite3")

	db1, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	// Second init hits the initialized-path cache; schema must still be intact.
	db2, err := InitDB(path)
	require.NoError(t, err)
	defer db2.Close()

	var n int
	require.NoError(t, db2.QueryRow(`SELECT COUNT(*) FROM session_docs`).Scan(&n))
	require.Zero(t, n)
}

func TestSchemaVersion(t *testing.T) {
	db := setupTestDB(t)

	current, latest, err := SchemaVersion(db)
	require.NoError(t, err)
	require.Equal(t, latest, current, "fresh database is fully migrated")
	require.GreaterOrEqual(t, latest, int64(3))
}

func TestNormalizeSQLiteDSN(t *testing.T) {
	require.Equal(t, "file:/tmp/x.db?mode=rwc&_txlock=immediate", normalizeSQLiteDSN("/tmp/x.db"))
	require.Equal(t, "file::memory:?cache=shared&_txlock=immediate", normalizeSQLiteDSN(":memory:"))
	require.Equal(t, "file:custom?mode=ro", normalizeSQLiteDSN("file:custom?mode=ro"))
}

func TestIsRetryableError(t *testing.T) {
	require.True(t, isRetryableError(errString("database is locked (5) (SQLITE_BUSY)")))
	require.True(t, isRetryableError(errString("SQLITE_BUSY: database busy")))
	require.False(t, isRetryableError(errString("UNIQUE constraint failed: session_jobs.run_id")))
	require.False(t, isRetryableError(errString("no such table: nope")))
}

type errString string

func (e errString) Error() string { return string(e) }
