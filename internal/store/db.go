package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// defaultBusyTimeoutMS is the SQLite busy_timeout in milliseconds.
// Override with LERIM_BUSY_TIMEOUT_MS for environments with high contention.
const defaultBusyTimeoutMS = 5000

var (
	initMu          sync.Mutex
	initializedPath = map[string]bool{}
)

// InitDB opens the session catalog at dbPath, applies pragmas, and runs
// migrations. Safe to call concurrently and repeatedly: a process-local
// mutex plus an initialized-path cache make repeated calls cheap and
// race-free.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	// In-memory databases vanish when their last connection closes, so the
	// cache only applies to file-backed paths.
	memory := dbPath == ":memory:" || strings.Contains(dbPath, ":memory:")

	initMu.Lock()
	defer initMu.Unlock()
	if memory || !initializedPath[dbPath] {
		if err := RetryWithBackoff(func() error { return MigrateDB(db, dbPath) }); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		if !memory {
			initializedPath[dbPath] = true
		}
	}
	return db, nil
}

// Open opens a SQLite database with WAL mode and the connection settings the
// catalog relies on, without touching the schema. The access tracker shares
// this for its own database file.
func Open(dbPath string) (*sql.DB, error) {
	if err := ensureDBDir(dbPath); err != nil {
		return nil, err
	}

	// modernc.org/sqlite is strict about DSNs. Use a file: URI with mode=rwc
	// so the database can be created/written consistently across platforms.
	// _txlock=immediate makes every write transaction take the writer lock
	// up front (BEGIN IMMEDIATE), which is what the queue's claim semantics
	// assume.
	db, err := sql.Open("sqlite", normalizeSQLiteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: this is a local catalog, not a server pool, and one
	// connection sidesteps SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busyTimeout := defaultBusyTimeoutMS
	if v := os.Getenv("LERIM_BUSY_TIMEOUT_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			busyTimeout = parsed
		}
	}

	// Trade-offs:
	//   busy_timeout  — blocks writers up to N ms instead of failing immediately.
	//   synchronous=NORMAL — skips fsync on every commit (WAL still provides
	//                        crash safety for committed txns).
	//   journal_mode=WAL   — concurrent readers + one writer; required for the
	//                        HTTP server reading while a sync cycle writes.
	pragmas := []string{
		// Set busy_timeout first so subsequent pragmas (including WAL) will wait on locks.
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}
	for _, pragma := range pragmas {
		if err := RetryWithBackoff(func() error {
			_, err := db.ExecContext(context.Background(), pragma)
			return err
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	return db, nil
}

func ensureDBDir(dbPath string) error {
	if dbPath == ":memory:" || strings.Contains(dbPath, ":memory:") || strings.HasPrefix(dbPath, "file:") {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database dir %s: %w", dir, err)
	}
	return nil
}

func normalizeSQLiteDSN(dbPath string) string {
	// Support an explicit file: DSN as-is.
	if strings.HasPrefix(dbPath, "file:") {
		return dbPath
	}

	// Provide a predictable in-memory option when callers use the common token.
	if dbPath == ":memory:" {
		return "file::memory:?cache=shared&_txlock=immediate"
	}

	// mode=rwc => read/write/create. Without this, some environments open read-only.
	return "file:" + dbPath + "?mode=rwc&_txlock=immediate"
}
