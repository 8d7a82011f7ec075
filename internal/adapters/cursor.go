package adapters

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dotcommander/lerim/internal/models"
	_ "modernc.org/sqlite"
)

// Cursor reads Cursor's composer sessions out of the editor's state database
// (state.vscdb, a SQLite key-value table). Because the source is a database,
// each session is exported to a canonical JSONL cache file and that cache
// path becomes session_path, so downstream code treats every platform
// uniformly.
//
// Content identity: the hash is computed over the canonical export bytes,
// never over state.vscdb itself. Export lines are struct-marshaled (fixed
// field order) and LF-terminated, so the same conversation always produces
// the same bytes and re-exports cannot manufacture spurious "changed"
// sessions. The cache file is rewritten only when its bytes differ.
type Cursor struct {
	cacheDir string
}

// NewCursor returns a Cursor adapter writing JSONL exports under
// cacheDir/cursor/.
func NewCursor(cacheDir string) *Cursor {
	return &Cursor{cacheDir: cacheDir}
}

func (a *Cursor) Name() string { return "cursor" }

func (a *Cursor) DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Cursor", "User", "globalStorage", "state.vscdb")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Cursor", "User", "globalStorage", "state.vscdb")
		}
		return filepath.Join(home, "AppData", "Roaming", "Cursor", "User", "globalStorage", "state.vscdb")
	default:
		return filepath.Join(home, ".config", "Cursor", "User", "globalStorage", "state.vscdb")
	}
}

func (a *Cursor) CountSessions(dir string) (int, error) {
	composers, err := a.listComposers(dir)
	if err != nil {
		return 0, err
	}
	return len(composers), nil
}

func (a *Cursor) IterSessions(opts IterOptions) ([]models.SessionRecord, error) {
	dbPath := opts.Dir
	if dbPath == "" {
		dbPath = a.DefaultPath()
	}
	composers, err := a.listComposers(dbPath)
	if err != nil {
		return nil, err
	}

	var records []models.SessionRecord
	for _, c := range composers {
		runID := "cursor-" + c.ComposerID
		content := a.export(c)
		hash := HashBytes(content)

		// Materialize the cache before the skip check so session_path stays
		// readable even for sessions the catalog already knows.
		cachePath := a.cachePath(c.ComposerID)
		if err := writeIfChanged(cachePath, content); err != nil {
			return nil, err
		}
		if shouldSkip(opts, runID, hash) {
			continue
		}

		vs := a.viewerFromComposer(runID, c)
		rec := recordFromViewer(runID, a.Name(), cachePath, hash, vs)
		if rec.StartTime == nil {
			rec.StartTime = ParseTimestamp(c.CreatedAt)
		}
		if !InWindow(rec.StartTime, opts.Since, opts.Until) {
			continue
		}
		rec.Changed = changed(opts.KnownRunHashes, runID, hash)
		records = append(records, rec)
	}
	return records, nil
}

func (a *Cursor) FindSessionPath(sessionID, dir string) (string, error) {
	if dir == "" {
		dir = a.DefaultPath()
	}
	native := strings.TrimPrefix(sessionID, "cursor-")

	cachePath := a.cachePath(native)
	if _, err := os.Stat(cachePath); err == nil {
		return cachePath, nil
	}

	composers, err := a.listComposers(dir)
	if err != nil {
		return "", err
	}
	for _, c := range composers {
		if c.ComposerID != native {
			continue
		}
		if err := writeIfChanged(cachePath, a.export(c)); err != nil {
			return "", err
		}
		return cachePath, nil
	}
	return "", fmt.Errorf("session %q not found in %s", sessionID, dir)
}

// ReadSession reads a previously exported cache file.
func (a *Cursor) ReadSession(path, sessionID string) (*models.ViewerSession, error) {
	lines, err := ReadJSONL(path)
	if err != nil {
		return nil, err
	}
	vs := &models.ViewerSession{SessionID: sessionID, Meta: map[string]any{}}
	for _, line := range lines {
		if id := firstString(line, "session_id"); id != "" {
			vs.Meta["native_id"] = id
			if title := firstString(line, "title"); title != "" {
				vs.Meta["title"] = title
			}
			continue
		}
		role := firstString(line, "role")
		text := firstString(line, "text")
		if role == "" || text == "" {
			continue
		}
		vs.Messages = append(vs.Messages, models.ViewerMessage{
			Role:      role,
			Content:   text,
			Timestamp: ParseTimestamp(line["timestamp"]),
		})
	}
	return vs, nil
}

type cursorComposer struct {
	ComposerID   string         `json:"composerId"`
	Name         string         `json:"name"`
	CreatedAt    float64        `json:"createdAt"` // epoch milliseconds
	Conversation []cursorBubble `json:"conversation"`
}

type cursorBubble struct {
	Type       int            `json:"type"` // 1 user, 2 assistant
	Text       string         `json:"text"`
	TimingInfo map[string]any `json:"timingInfo"`
}

// cursorHeader is the first canonical export line.
type cursorHeader struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// cursorLine is one canonical export message line. Struct marshaling fixes
// the key order; this is what makes the export hash deterministic.
type cursorLine struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (a *Cursor) listComposers(dbPath string) ([]cursorComposer, error) {
	if dbPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil
	}

	// The editor may hold the database; open read-only and wait briefly on
	// its locks rather than failing.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("configure %s: %w", dbPath, err)
	}

	rows, err := db.Query(`SELECT value FROM cursorDiskKV WHERE key LIKE 'composerData:%'`)
	if err != nil {
		return nil, fmt.Errorf("query composers: %w", err)
	}
	defer rows.Close()

	var composers []cursorComposer
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan composer: %w", err)
		}
		var c cursorComposer
		if err := json.Unmarshal(value, &c); err != nil || c.ComposerID == "" {
			continue
		}
		if !c.hasContent() {
			continue
		}
		composers = append(composers, c)
	}
	return composers, rows.Err()
}

func (c cursorComposer) hasContent() bool {
	for _, b := range c.Conversation {
		if strings.TrimSpace(b.Text) != "" {
			return true
		}
	}
	return false
}

// export renders the canonical JSONL bytes for one composer.
func (a *Cursor) export(c cursorComposer) []byte {
	var buf bytes.Buffer
	writeLine := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	header := cursorHeader{SessionID: c.ComposerID, Title: c.Name}
	if ts := ParseTimestamp(c.CreatedAt); ts != nil {
		header.CreatedAt = ts.Format(time.RFC3339)
	}
	writeLine(header)

	for _, b := range c.Conversation {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		line := cursorLine{Role: bubbleRole(b.Type), Text: text}
		if b.TimingInfo != nil {
			if ts := ParseTimestamp(b.TimingInfo["clientStartTime"]); ts != nil {
				line.Timestamp = ts.Format(time.RFC3339)
			}
		}
		writeLine(line)
	}
	return buf.Bytes()
}

func (a *Cursor) viewerFromComposer(runID string, c cursorComposer) *models.ViewerSession {
	vs := &models.ViewerSession{SessionID: runID, Meta: map[string]any{"native_id": c.ComposerID}}
	if c.Name != "" {
		vs.Meta["title"] = c.Name
	}
	for _, b := range c.Conversation {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		msg := models.ViewerMessage{Role: bubbleRole(b.Type), Content: text}
		if b.TimingInfo != nil {
			msg.Timestamp = ParseTimestamp(b.TimingInfo["clientStartTime"])
		}
		vs.Messages = append(vs.Messages, msg)
	}
	return vs
}

func bubbleRole(t int) string {
	switch t {
	case 1:
		return "user"
	case 2:
		return "assistant"
	default:
		return "system"
	}
}

func (a *Cursor) cachePath(composerID string) string {
	return filepath.Join(a.cacheDir, "cursor", composerID+".jsonl")
}

// writeIfChanged writes content to path atomically, but leaves an existing
// byte-identical file untouched so mtimes keep meaning something.
func writeIfChanged(path string, content []byte) error {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit cache: %w", err)
	}
	return nil
}
