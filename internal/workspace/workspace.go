// Package workspace manages per-cycle run folders under <root>/workspace and
// the artifact files the runtime agent writes into them.
package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/dotcommander/lerim/internal/memory"
)

// Artifact names of the sync run contract.
const (
	ArtifactExtract       = "extract.json"
	ArtifactSummary       = "summary.json"
	ArtifactMemoryActions = "memory_actions.json"
	ArtifactMaintain      = "maintain_actions.json"
	AgentLogName          = "agent.log"
	SubagentsLogName      = "subagents.log"
	SessionLogName        = "session.log"
)

// Run is one workspace run folder.
type Run struct {
	Dir       string
	Kind      string // "sync" or "maintain"
	StartedAt time.Time
}

// NewRun creates workspace/<kind>-YYYYMMDD-HHMMSS-<hex>/ with an initial
// session.log of run metadata.
func NewRun(workspaceRoot, kind string, meta map[string]any) (*Run, error) {
	now := time.Now().UTC()
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s-%s", kind, now.Format("20060102-150405"), hex.EncodeToString(suffix))
	dir := filepath.Join(workspaceRoot, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create run folder: %w", err)
	}

	r := &Run{Dir: dir, Kind: kind, StartedAt: now}
	log := map[string]any{
		"kind":       kind,
		"started_at": now.Format(time.RFC3339),
		"pid":        os.Getpid(),
	}
	for k, v := range meta {
		log[k] = v
	}
	if err := r.WriteArtifact(SessionLogName, log); err != nil {
		return nil, err
	}
	return r, nil
}

var runFolderPattern = regexp.MustCompile(`^(?:sync|maintain)-(\d{8})-(\d{6})-[0-9a-f]+$`)

// ParseRunFolderDate extracts the timestamp embedded in a run folder name.
func ParseRunFolderDate(dir string) (time.Time, bool) {
	m := runFolderPattern.FindStringSubmatch(filepath.Base(dir))
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102-150405", m[1]+"-"+m[2])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// WriteArtifact writes v as indented JSON under the run folder, atomically.
func (r *Run) WriteArtifact(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return memory.WriteFileAtomic(filepath.Join(r.Dir, name), append(b, '\n'))
}

// ReadArtifact parses the named JSON artifact into v.
func (r *Run) ReadArtifact(name string, v any) error {
	return ReadArtifact(r.Dir, name, v)
}

// ReadArtifact parses runDir/name into v.
func ReadArtifact(runDir, name string, v any) error {
	b, err := os.ReadFile(filepath.Join(runDir, name)) //nolint:gosec // G304: run dirs come from our own layout
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// HasArtifact reports whether the named artifact exists in the run folder.
func (r *Run) HasArtifact(name string) bool {
	_, err := os.Stat(filepath.Join(r.Dir, name))
	return err == nil
}

// AppendAgentLog appends text to agent.log.
func (r *Run) AppendAgentLog(text string) error {
	return appendFile(filepath.Join(r.Dir, AgentLogName), []byte(text))
}

// AppendSubagentLog appends one JSONL record of a delegated explorer's output.
func (r *Run) AppendSubagentLog(record map[string]any) error {
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return appendFile(filepath.Join(r.Dir, SubagentsLogName), append(b, '\n'))
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // G302/G304: log files under our own run folder
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
