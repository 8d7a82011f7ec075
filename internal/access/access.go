package access

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Tracker records when memory files are read or written. It is a fact store:
// all decay policy is computed by the caller from these facts.
type Tracker struct {
	db *sql.DB
}

// Open opens (and migrates) the tracker database at dbPath.
func Open(dbPath string) (*Tracker, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.RetryWithBackoff(func() error { return runMigrations(db) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate access tracker: %w", err)
	}
	return &Tracker{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetVerbose(false)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Close closes the underlying database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// RecordRead counts one read of path when it is a body read (see IsBodyRead)
// of a trackable memory file. Returns whether the read was counted.
func (t *Tracker) RecordRead(memoryRoot, path string, limit *int) (bool, error) {
	if !IsBodyRead(limit) {
		return false, nil
	}
	return t.record(memoryRoot, path)
}

// RecordWrite counts one write of path when it is a trackable memory file.
// Writes always count; there is no frontmatter-only write.
func (t *Tracker) RecordWrite(memoryRoot, path string) (bool, error) {
	return t.record(memoryRoot, path)
}

func (t *Tracker) record(memoryRoot, path string) (bool, error) {
	memoryID := ExtractMemoryID(memoryRoot, path)
	if memoryID == "" {
		return false, nil
	}
	now := time.Now().UTC()
	err := store.Transact(t.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO memory_access (memory_id, memory_root, last_accessed, access_count)
			VALUES (?, ?, ?, 1)
			ON CONFLICT(memory_id, memory_root) DO UPDATE SET
				last_accessed = excluded.last_accessed,
				access_count = access_count + 1`,
			memoryID, memoryRoot, now,
		)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("record access for %s: %w", memoryID, err)
	}
	return true, nil
}

// Get returns the access record for one memory id, nil when never accessed.
func (t *Tracker) Get(memoryRoot, memoryID string) (*models.AccessRecord, error) {
	row := t.db.QueryRow(`
		SELECT memory_id, memory_root, last_accessed, access_count
		FROM memory_access WHERE memory_root = ? AND memory_id = ?`,
		memoryRoot, memoryID)
	var rec models.AccessRecord
	err := row.Scan(&rec.MemoryID, &rec.MemoryRoot, &rec.LastAccessed, &rec.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.LastAccessed = rec.LastAccessed.UTC()
	return &rec, nil
}

// Stats returns every access record under memoryRoot keyed by memory id.
func (t *Tracker) Stats(memoryRoot string) (map[string]models.AccessRecord, error) {
	rows, err := t.db.Query(`
		SELECT memory_id, memory_root, last_accessed, access_count
		FROM memory_access WHERE memory_root = ?`, memoryRoot)
	if err != nil {
		return nil, fmt.Errorf("load access stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]models.AccessRecord{}
	for rows.Next() {
		var rec models.AccessRecord
		if err := rows.Scan(&rec.MemoryID, &rec.MemoryRoot, &rec.LastAccessed, &rec.AccessCount); err != nil {
			return nil, err
		}
		rec.LastAccessed = rec.LastAccessed.UTC()
		out[rec.MemoryID] = rec
	}
	return out, rows.Err()
}

// Count returns the number of tracked memories under memoryRoot.
func (t *Tracker) Count(memoryRoot string) (int, error) {
	var n int
	err := t.db.QueryRow(`SELECT COUNT(*) FROM memory_access WHERE memory_root = ?`, memoryRoot).Scan(&n)
	return n, err
}

// frontmatterLines is the read-limit boundary: a read of at most this many
// lines is a frontmatter scan and does not count as a body read.
const frontmatterLines = 20

// IsBodyRead reports whether a read with the given line limit went past the
// frontmatter window. A nil limit reads the whole file.
func IsBodyRead(limit *int) bool {
	return limit == nil || *limit > frontmatterLines
}

var memoryFilePattern = regexp.MustCompile(`^\d{8}-[a-z0-9][a-z0-9-]*\.md$`)

// ExtractMemoryID returns the filename stem for files directly under
// memory/{decisions,learnings}/ whose name matches YYYYMMDD-<slug>.md.
// Anything else — archived files, summaries, nested paths, other names —
// returns "".
func ExtractMemoryID(memoryRoot, path string) string {
	rel, err := filepath.Rel(memoryRoot, path)
	if err != nil {
		return ""
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") {
		return ""
	}
	parts := strings.Split(rel, "/")
	if len(parts) != 2 {
		return ""
	}
	if parts[0] != "decisions" && parts[0] != "learnings" {
		return ""
	}
	name := parts[1]
	if !memoryFilePattern.MatchString(name) {
		return ""
	}
	return strings.TrimSuffix(name, ".md")
}
