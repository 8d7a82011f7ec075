package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MigrateDB runs all pending migrations with a file lock to prevent concurrent
// migration races. For in-memory databases (tests), the lock is skipped.
func MigrateDB(db *sql.DB, dbPath string) error {
	if dbPath != ":memory:" && !strings.Contains(dbPath, ":memory:") {
		lockF, err := lockFile(dbPath)
		if err != nil {
			return fmt.Errorf("migration lock: %w", err)
		}
		defer unlockFile(lockF)
	}
	return RunMigrations(db)
}

// RunMigrations runs all pending migrations using goose, then ensures the
// optional FTS index exists.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetVerbose(false) // Suppress migration logs for clean JSON output
	goose.SetLogger(goose.NopLogger())

	// goose uses "sqlite3" as its dialect name regardless of the underlying driver.
	// We use modernc.org/sqlite (registered as "sqlite"), but goose's dialect
	// controls SQL generation, not the driver name.
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return err
	}

	return ensureSearchIndex(db)
}

// SchemaVersion returns the current and latest migration versions.
// current comes from goose_db_version; latest is the highest version
// in the embedded migration files. Returns (0, latest, nil) for a fresh DB.
func SchemaVersion(db *sql.DB) (current int64, latest int64, err error) {
	goose.SetBaseFS(embedMigrations)
	goose.SetVerbose(false)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, 0, fmt.Errorf("set dialect: %w", err)
	}

	current, err = goose.GetDBVersion(db)
	if err != nil {
		// Fresh DB with no goose_db_version table: treat as version 0
		current = 0
	}

	latest, err = latestMigrationVersion()
	if err != nil {
		return current, 0, fmt.Errorf("determine latest version: %w", err)
	}
	return current, latest, nil
}

// latestMigrationVersion reads the embedded migrations directory and returns
// the highest version number found.
func latestMigrationVersion() (int64, error) {
	entries, err := embedMigrations.ReadDir("migrations")
	if err != nil {
		return 0, fmt.Errorf("read migrations dir: %w", err)
	}
	var max int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		// Parse version from filename prefix "00002_name.sql" -> 2
		idx := strings.IndexByte(name, '_')
		if idx <= 0 {
			continue
		}
		v, err := strconv.ParseInt(name[:idx], 10, 64)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max, nil
}

// ensureSearchIndex creates the FTS5 virtual table and its sync triggers.
// FTS5 lives outside the goose migrations on purpose: a SQLite build without
// the fts5 module must still get a working catalog, with search degrading to
// LIKE (see SearchSessions). Safe to call repeatedly.
func ensureSearchIndex(db *sql.DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS sessions_fts USING fts5(
			run_id, agent_type, repo_name, content,
			content='session_docs', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS session_docs_ai AFTER INSERT ON session_docs BEGIN
			INSERT INTO sessions_fts(rowid, run_id, agent_type, repo_name, content)
			VALUES (new.id, new.run_id, new.agent_type, new.repo_name, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS session_docs_ad AFTER DELETE ON session_docs BEGIN
			INSERT INTO sessions_fts(sessions_fts, rowid, run_id, agent_type, repo_name, content)
			VALUES ('delete', old.id, old.run_id, old.agent_type, old.repo_name, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS session_docs_au AFTER UPDATE ON session_docs BEGIN
			INSERT INTO sessions_fts(sessions_fts, rowid, run_id, agent_type, repo_name, content)
			VALUES ('delete', old.id, old.run_id, old.agent_type, old.repo_name, old.content);
			INSERT INTO sessions_fts(rowid, run_id, agent_type, repo_name, content)
			VALUES (new.id, new.run_id, new.agent_type, new.repo_name, new.content);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			if isMissingFTS(err) {
				slog.Warn("fts5 unavailable, search will use LIKE fallback", "error", err)
				return nil
			}
			return fmt.Errorf("create search index: %w", err)
		}
	}
	return nil
}

// isMissingFTS matches the error a non-fts5 SQLite build returns for the
// virtual table DDL, and the follow-on errors for its triggers.
func isMissingFTS(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such module: fts5") ||
		strings.Contains(msg, "no such table: sessions_fts") ||
		strings.Contains(msg, "no such table: main.sessions_fts")
}
