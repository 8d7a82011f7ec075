package adapters

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotcommander/lerim/internal/models"
)

// ClaudeCode reads Claude Code transcripts: one JSONL file per session under
// ~/.claude/projects/<flattened-project-dir>/<session-uuid>.jsonl.
type ClaudeCode struct{}

func NewClaudeCode() *ClaudeCode { return &ClaudeCode{} }

func (a *ClaudeCode) Name() string { return "claudecode" }

func (a *ClaudeCode) DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

func (a *ClaudeCode) CountSessions(dir string) (int, error) {
	files, err := a.sessionFiles(dir)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

func (a *ClaudeCode) IterSessions(opts IterOptions) ([]models.SessionRecord, error) {
	dir := opts.Dir
	if dir == "" {
		dir = a.DefaultPath()
	}
	files, err := a.sessionFiles(dir)
	if err != nil {
		return nil, err
	}

	var records []models.SessionRecord
	for _, path := range files {
		runID := "claudecode-" + fileStem(path)
		hash, err := HashFile(path)
		if err != nil {
			continue
		}
		if shouldSkip(opts, runID, hash) {
			continue
		}
		vs, err := a.ReadSession(path, runID)
		if err != nil {
			continue
		}
		rec := recordFromViewer(runID, a.Name(), path, hash, vs)
		if !InWindow(rec.StartTime, opts.Since, opts.Until) {
			continue
		}
		rec.Changed = changed(opts.KnownRunHashes, runID, hash)
		records = append(records, rec)
	}
	return records, nil
}

func (a *ClaudeCode) FindSessionPath(sessionID, dir string) (string, error) {
	if dir == "" {
		dir = a.DefaultPath()
	}
	native := strings.TrimPrefix(sessionID, "claudecode-")
	files, err := a.sessionFiles(dir)
	if err != nil {
		return "", err
	}
	for _, path := range files {
		if fileStem(path) == native {
			return path, nil
		}
	}
	return "", fmt.Errorf("session %q not found under %s", sessionID, dir)
}

// ReadSession normalizes one transcript. Each line is an event object; user
// and assistant events carry a nested message whose content is either a
// string or a list of typed blocks (text, tool_use, tool_result).
func (a *ClaudeCode) ReadSession(path, sessionID string) (*models.ViewerSession, error) {
	lines, err := ReadJSONL(path)
	if err != nil {
		return nil, err
	}

	vs := &models.ViewerSession{SessionID: sessionID, Meta: map[string]any{}}
	for _, line := range lines {
		if vs.CWD == "" {
			vs.CWD = firstString(line, "cwd")
		}
		if vs.GitBranch == "" {
			vs.GitBranch = firstString(line, "gitBranch")
		}

		kind, _ := line["type"].(string)
		if kind != "user" && kind != "assistant" {
			continue
		}
		msg, _ := line["message"].(map[string]any)
		if msg == nil {
			continue
		}
		ts := ParseTimestamp(line["timestamp"])
		role := firstString(msg, "role")
		if role == "" {
			role = kind
		}

		if usage, ok := msg["usage"].(map[string]any); ok {
			vs.TotalInputTokens += intField(usage, "input_tokens")
			vs.TotalOutputTokens += intField(usage, "output_tokens")
		}

		// Content blocks split into one viewer message per block so tool
		// activity stays visible between the text turns.
		switch content := msg["content"].(type) {
		case string:
			if content != "" {
				vs.Messages = append(vs.Messages, models.ViewerMessage{Role: role, Content: content, Timestamp: ts})
			}
		case []any:
			for _, raw := range content {
				block, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				switch firstString(block, "type") {
				case "text":
					if text := firstString(block, "text"); text != "" {
						vs.Messages = append(vs.Messages, models.ViewerMessage{Role: role, Content: text, Timestamp: ts})
					}
				case "tool_use":
					vs.Messages = append(vs.Messages, models.ViewerMessage{
						Role:      role,
						Content:   compactJSON(block["input"]),
						Timestamp: ts,
						ToolName:  firstString(block, "name"),
					})
				case "tool_result":
					isErr, _ := block["is_error"].(bool)
					vs.Messages = append(vs.Messages, models.ViewerMessage{
						Role:      "tool",
						Content:   truncateRunes(contentText(block["content"]), snippetRunes),
						Timestamp: ts,
						ToolName:  "tool_result",
						IsError:   isErr,
					})
				}
			}
		}
	}
	return vs, nil
}

// sessionFiles lists *.jsonl files one project directory deep, the layout
// Claude Code writes. A missing source directory is an empty platform, not
// an error.
func (a *ClaudeCode) sessionFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}
