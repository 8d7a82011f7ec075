package adapters

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dotcommander/lerim/internal/models"
)

// IterOptions bounds one discovery pass over a platform's sessions.
type IterOptions struct {
	// Dir overrides the adapter's default source path when non-empty.
	Dir string
	// Since/Until filter by session start time, inclusive. A session with no
	// start time passes only when both bounds are nil.
	Since *time.Time
	Until *time.Time
	// KnownRunHashes maps run_id to the content hash the catalog already
	// holds. Sessions whose hash matches are omitted from the result;
	// sessions present with a different hash are returned (content changed).
	KnownRunHashes map[string]string
	// Skipped, when non-nil, is incremented once per session omitted because
	// the catalog already holds its content hash.
	Skipped *int
}

// Adapter reads sessions from one coding-agent platform and yields normalized
// records. Implementations namespace run ids as "<platform>-<native id>" so
// ids never collide across adapters.
type Adapter interface {
	Name() string
	// DefaultPath is the conventional install location of this platform's
	// session store; it may not exist.
	DefaultPath() string
	CountSessions(dir string) (int, error)
	IterSessions(opts IterOptions) ([]models.SessionRecord, error)
	// FindSessionPath resolves a native or namespaced session id to the file
	// the session lives in.
	FindSessionPath(sessionID, dir string) (string, error)
	// ReadSession parses the session file into the normalized viewer form.
	ReadSession(path, sessionID string) (*models.ViewerSession, error)
}

// Set is the registry of available adapters keyed by platform name. New
// platforms are added here by implementation, never by dynamic lookup.
type Set map[string]Adapter

// DefaultSet builds the full adapter registry. cacheDir receives JSONL
// exports from database-backed sources.
func DefaultSet(cacheDir string) Set {
	return Set{
		"claudecode": NewClaudeCode(),
		"codex":      NewCodex(),
		"gemini":     NewGemini(),
		"cursor":     NewCursor(cacheDir),
	}
}

// Names returns the adapter names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the adapter for name.
func (s Set) Lookup(name string) (Adapter, error) {
	a, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q (available: %v)", name, s.Names())
	}
	return a, nil
}

// shouldSkip implements the incremental contract: a record is omitted only
// when the catalog already holds exactly this content hash for the run id.
func shouldSkip(opts IterOptions, runID, hash string) bool {
	h, ok := opts.KnownRunHashes[runID]
	if ok && h == hash {
		if opts.Skipped != nil {
			*opts.Skipped++
		}
		return true
	}
	return false
}

// changed reports whether the catalog knows this run id under a different hash.
func changed(known map[string]string, runID, hash string) bool {
	h, ok := known[runID]
	return ok && h != hash
}

// recordFromViewer derives the indexed catalog fields from a normalized
// session. Every adapter funnels through here so counters and content mean
// the same thing regardless of source format.
func recordFromViewer(runID, agentType, path, hash string, vs *models.ViewerSession) models.SessionRecord {
	rec := models.SessionRecord{
		RunID:       runID,
		AgentType:   agentType,
		SessionPath: path,
		ContentHash: hash,
		Status:      "completed",
		RepoPath:    vs.CWD,
		TotalTokens: vs.TotalInputTokens + vs.TotalOutputTokens,
	}
	if vs.CWD != "" {
		rec.RepoName = baseName(vs.CWD)
	}

	var first, last *time.Time
	var content strings.Builder
	for _, msg := range vs.Messages {
		if msg.Timestamp != nil {
			if first == nil || msg.Timestamp.Before(*first) {
				first = msg.Timestamp
			}
			if last == nil || msg.Timestamp.After(*last) {
				last = msg.Timestamp
			}
		}
		switch {
		case msg.Role == "tool":
			// tool results are outputs of a call already counted, not new calls
		case msg.ToolName != "":
			rec.ToolCallCount++
		case msg.Role == "user" || msg.Role == "assistant":
			rec.MessageCount++
		}
		if msg.IsError {
			rec.ErrorCount++
		}
		if msg.Role == "user" && msg.Content != "" && len(rec.Summaries) < snippetLimit {
			rec.Summaries = append(rec.Summaries, truncateRunes(msg.Content, snippetRunes))
		}
		if msg.Content != "" {
			content.WriteString(msg.Role)
			content.WriteString(": ")
			content.WriteString(msg.Content)
			content.WriteByte('\n')
		}
	}
	rec.StartTime = first
	if first != nil && last != nil {
		rec.DurationMS = last.Sub(*first).Milliseconds()
	}
	rec.Content = content.String()
	if turns, err := json.Marshal(vs.Messages); err == nil {
		rec.TurnsJSON = string(turns)
	}
	return rec
}

func baseName(p string) string {
	p = strings.TrimRight(p, "/\\")
	if i := strings.LastIndexAny(p, "/\\"); i >= 0 {
		return p[i+1:]
	}
	return p
}
