// Package agent implements the runtime agent shell: the scoped tool surface
// the LLM orchestrator works through, the prompt builders for the three modes,
// and the orchestrator implementations (in-process loop, subprocess bridge,
// and a deterministic stub for tests).
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dotcommander/lerim/internal/access"
	"github.com/dotcommander/lerim/internal/llm"
	"github.com/dotcommander/lerim/internal/memory"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/workspace"
)

// Mode selects which tools the agent may call.
type Mode string

// Agent modes.
const (
	ModeChat     Mode = "chat"
	ModeSync     Mode = "sync"
	ModeMaintain Mode = "maintain"
)

// readLimitBytes caps how much of a file one read tool call returns.
const readLimitBytes = 256 * 1024

// ExploreFunc delegates a read-only task to an explorer subagent and returns
// its final text.
type ExploreFunc func(ctx context.Context, task string) (string, error)

// Toolbox is the scoped tool surface handed to one agent run. Every path an
// LLM supplies is resolved and checked against the allowed roots; escapes are
// structured failures, never silent allowance.
type Toolbox struct {
	Mode       Mode
	MemoryRoot string
	Run        *workspace.Run
	RunID      string

	// ReadRoots are the directories readable in this run: memory root,
	// workspace root, the run folder, the global cache dir, and any extra
	// roots explicitly granted (e.g. the trace file's parent).
	ReadRoots []string
	// WriteRoots are the memory root and the run folder.
	WriteRoots []string

	Tracker   *access.Tracker
	Pipelines *Pipelines
	Explore   ExploreFunc
}

// toolError is returned to the LLM as a structured failure payload.
func toolError(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

func toolOK(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return toolError(err)
	}
	return string(b)
}

// checkPath resolves p and verifies it is inside one of roots.
func checkPath(op, p string, roots []string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", &models.BoundaryError{Op: op, Path: p}
	}
	abs = filepath.Clean(abs)
	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if rel == "." || (!strings.HasPrefix(rel, "../") && rel != "..") {
			return abs, nil
		}
	}
	return "", &models.BoundaryError{Op: op, Path: p}
}

// Names returns the tool names available in this mode.
func (t *Toolbox) Names() []string {
	base := []string{"read", "glob", "grep", "explore"}
	switch t.Mode {
	case ModeSync:
		return append(base, "write", "extract_pipeline", "summarize_pipeline")
	case ModeMaintain:
		return append(base, "write", "edit")
	default:
		return base
	}
}

// Specs returns the tool schemas advertised to the model for this mode.
func (t *Toolbox) Specs() []llm.ToolSpec {
	all := map[string]llm.ToolSpec{
		"read": {
			Name:        "read",
			Description: "Read a file inside the allowed roots. Optional limit caps the number of lines.",
			Parameters: objSchema(map[string]any{
				"path":  map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer"},
			}, "path"),
		},
		"glob": {
			Name:        "glob",
			Description: "Match files under an allowed root with a glob pattern (** supported).",
			Parameters: objSchema(map[string]any{
				"root":    map[string]any{"type": "string"},
				"pattern": map[string]any{"type": "string"},
			}, "pattern"),
		},
		"grep": {
			Name:        "grep",
			Description: "Search files under an allowed root for a regular expression.",
			Parameters: objSchema(map[string]any{
				"root":    map[string]any{"type": "string"},
				"pattern": map[string]any{"type": "string"},
			}, "pattern"),
		},
		"explore": {
			Name:        "explore",
			Description: "Delegate a read-only exploration task to a subagent and return its findings.",
			Parameters: objSchema(map[string]any{
				"task": map[string]any{"type": "string"},
			}, "task"),
		},
		"write": {
			Name:        "write",
			Description: "Write a file inside the memory root or this run's folder. Memory files are normalized server-side.",
			Parameters: objSchema(map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			}, "path", "content"),
		},
		"edit": {
			Name:        "edit",
			Description: "Replace text in an existing memory file. Summaries cannot be edited.",
			Parameters: objSchema(map[string]any{
				"path": map[string]any{"type": "string"},
				"old":  map[string]any{"type": "string"},
				"new":  map[string]any{"type": "string"},
			}, "path", "old", "new"),
		},
		"extract_pipeline": {
			Name:        "extract_pipeline",
			Description: "Run the extraction pipeline on a trace file, writing candidate primitives to out_path inside the run folder.",
			Parameters: objSchema(map[string]any{
				"trace_path": map[string]any{"type": "string"},
				"out_path":   map[string]any{"type": "string"},
			}, "trace_path", "out_path"),
		},
		"summarize_pipeline": {
			Name:        "summarize_pipeline",
			Description: "Run the summarization pipeline on a trace file. Writes the summary markdown under memory/summaries and the pointer artifact to out_path.",
			Parameters: objSchema(map[string]any{
				"trace_path": map[string]any{"type": "string"},
				"out_path":   map[string]any{"type": "string"},
			}, "trace_path", "out_path"),
		},
	}
	var specs []llm.ToolSpec
	for _, name := range t.Names() {
		specs = append(specs, all[name])
	}
	return specs
}

func objSchema(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Execute runs one tool call and returns the payload handed back to the
// model. Boundary violations and other tool failures come back as structured
// error payloads; only infrastructure problems return a Go error.
func (t *Toolbox) Execute(ctx context.Context, call llm.ToolCall) string {
	allowed := false
	for _, n := range t.Names() {
		if n == call.Name {
			allowed = true
			break
		}
	}
	if !allowed {
		return toolError(fmt.Errorf("tool %q is not available in %s mode", call.Name, t.Mode))
	}

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := llm.UnmarshalRepaired(string(call.Arguments), &args); err != nil {
			return toolError(fmt.Errorf("parse arguments: %w", err))
		}
	}

	switch call.Name {
	case "read":
		return t.read(args)
	case "glob":
		return t.glob(args)
	case "grep":
		return t.grep(args)
	case "explore":
		return t.explore(ctx, args)
	case "write":
		return t.write(args)
	case "edit":
		return t.edit(args)
	case "extract_pipeline":
		return t.extractPipeline(ctx, args)
	case "summarize_pipeline":
		return t.summarizePipeline(ctx, args)
	}
	return toolError(fmt.Errorf("unknown tool %q", call.Name))
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func (t *Toolbox) read(args map[string]any) string {
	path, err := checkPath("read", argString(args, "path"), t.ReadRoots)
	if err != nil {
		return toolError(err)
	}

	var limit *int
	if v, ok := args["limit"].(float64); ok {
		n := int(v)
		limit = &n
	}

	f, err := os.Open(path) //nolint:gosec // G304: path boundary-checked above
	if err != nil {
		return toolError(err)
	}
	defer func() { _ = f.Close() }()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), readLimitBytes)
	lines := 0
	for scanner.Scan() {
		if limit != nil && lines >= *limit {
			break
		}
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
		lines++
		if sb.Len() > readLimitBytes {
			sb.WriteString("... (truncated)\n")
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return toolError(err)
	}

	if t.Tracker != nil {
		_, _ = t.Tracker.RecordRead(t.MemoryRoot, path, limit)
	}
	return sb.String()
}

func (t *Toolbox) glob(args map[string]any) string {
	root := argString(args, "root")
	if root == "" {
		root = t.MemoryRoot
	}
	absRoot, err := checkPath("glob", root, t.ReadRoots)
	if err != nil {
		return toolError(err)
	}
	pattern := argString(args, "pattern")
	matches, err := doublestar.Glob(os.DirFS(absRoot), pattern)
	if err != nil {
		return toolError(fmt.Errorf("glob %q: %w", pattern, err))
	}
	sort.Strings(matches)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Join(absRoot, m))
	}
	return toolOK(out)
}

// grepMatch is one grep hit.
type grepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

const grepMatchLimit = 200

func (t *Toolbox) grep(args map[string]any) string {
	root := argString(args, "root")
	if root == "" {
		root = t.MemoryRoot
	}
	absRoot, err := checkPath("grep", root, t.ReadRoots)
	if err != nil {
		return toolError(err)
	}
	re, err := regexp.Compile(argString(args, "pattern"))
	if err != nil {
		return toolError(fmt.Errorf("bad pattern: %w", err))
	}

	var matches []grepMatch
	walkErr := filepath.WalkDir(absRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || len(matches) >= grepMatchLimit {
			return err
		}
		f, err := os.Open(path) //nolint:gosec // G304: under boundary-checked root
		if err != nil {
			return nil
		}
		defer func() { _ = f.Close() }()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), readLimitBytes)
		line := 0
		for scanner.Scan() {
			line++
			if re.MatchString(scanner.Text()) {
				matches = append(matches, grepMatch{Path: path, Line: line, Text: scanner.Text()})
				if len(matches) >= grepMatchLimit {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return toolError(walkErr)
	}
	return toolOK(matches)
}

func (t *Toolbox) explore(ctx context.Context, args map[string]any) string {
	if t.Explore == nil {
		return toolError(fmt.Errorf("explore is not available"))
	}
	task := argString(args, "task")
	result, err := t.Explore(ctx, task)
	if err != nil {
		return toolError(err)
	}
	if t.Run != nil {
		_ = t.Run.AppendSubagentLog(map[string]any{"task": task, "result": result})
	}
	return result
}

func (t *Toolbox) write(args map[string]any) string {
	rawPath := argString(args, "path")
	path, err := checkPath("write", rawPath, t.WriteRoots)
	if err != nil {
		return toolError(err)
	}
	content := argString(args, "content")

	// Writes into the memory tree are normalized server-side; writes into the
	// run folder are taken as-is.
	if inside(path, t.MemoryRoot) {
		final, err := memory.WriteNormalized(memory.WriteRequest{
			MemoryRoot:    t.MemoryRoot,
			RequestedPath: path,
			RunID:         t.RunID,
			Content:       content,
		})
		if err != nil {
			return toolError(err)
		}
		if t.Tracker != nil {
			_, _ = t.Tracker.RecordWrite(t.MemoryRoot, final)
		}
		return toolOK(map[string]string{"path": final})
	}

	if err := memory.WriteFileAtomic(path, []byte(content)); err != nil {
		return toolError(err)
	}
	return toolOK(map[string]string{"path": path})
}

func (t *Toolbox) edit(args map[string]any) string {
	path, err := checkPath("edit", argString(args, "path"), t.WriteRoots)
	if err != nil {
		return toolError(err)
	}
	if inside(path, filepath.Join(t.MemoryRoot, "summaries")) {
		return toolError(fmt.Errorf("summaries cannot be edited"))
	}

	raw, err := os.ReadFile(path) //nolint:gosec // G304: path boundary-checked above
	if err != nil {
		return toolError(err)
	}
	oldText := argString(args, "old")
	newText := argString(args, "new")
	if !strings.Contains(string(raw), oldText) {
		return toolError(fmt.Errorf("old text not found in %s", path))
	}
	updated := strings.Replace(string(raw), oldText, newText, 1)
	if err := memory.WriteFileAtomic(path, []byte(updated)); err != nil {
		return toolError(err)
	}
	if t.Tracker != nil {
		_, _ = t.Tracker.RecordWrite(t.MemoryRoot, path)
	}
	return toolOK(map[string]string{"path": path})
}

func (t *Toolbox) extractPipeline(ctx context.Context, args map[string]any) string {
	if t.Pipelines == nil {
		return toolError(fmt.Errorf("extract_pipeline is not available"))
	}
	tracePath, err := checkPath("extract_pipeline", argString(args, "trace_path"), t.ReadRoots)
	if err != nil {
		return toolError(err)
	}
	outPath, err := checkPath("extract_pipeline", argString(args, "out_path"), []string{t.Run.Dir})
	if err != nil {
		return toolError(err)
	}
	candidates, err := t.Pipelines.Extract(ctx, tracePath, outPath)
	if err != nil {
		return toolError(err)
	}
	return toolOK(map[string]any{"out_path": outPath, "candidates": len(candidates)})
}

func (t *Toolbox) summarizePipeline(ctx context.Context, args map[string]any) string {
	if t.Pipelines == nil {
		return toolError(fmt.Errorf("summarize_pipeline is not available"))
	}
	tracePath, err := checkPath("summarize_pipeline", argString(args, "trace_path"), t.ReadRoots)
	if err != nil {
		return toolError(err)
	}
	outPath, err := checkPath("summarize_pipeline", argString(args, "out_path"), []string{t.Run.Dir})
	if err != nil {
		return toolError(err)
	}
	summaryPath, err := t.Pipelines.Summarize(ctx, tracePath, outPath)
	if err != nil {
		return toolError(err)
	}
	return toolOK(map[string]string{"summary_path": summaryPath, "out_path": outPath})
}

func inside(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel == "." || (!strings.HasPrefix(rel, "../") && rel != "..")
}
