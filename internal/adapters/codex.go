package adapters

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotcommander/lerim/internal/models"
)

// Codex reads Codex CLI rollout files: JSONL transcripts named
// rollout-<timestamp>-<uuid>.jsonl under date-sharded directories in
// ~/.codex/sessions. Each line wraps a typed payload; the first is usually
// session_meta.
type Codex struct{}

func NewCodex() *Codex { return &Codex{} }

func (a *Codex) Name() string { return "codex" }

func (a *Codex) DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "sessions")
}

func (a *Codex) CountSessions(dir string) (int, error) {
	files, err := a.sessionFiles(dir)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

func (a *Codex) IterSessions(opts IterOptions) ([]models.SessionRecord, error) {
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
		hash, err := HashFile(path)
		if err != nil {
			continue
		}
		vs, err := a.ReadSession(path, "")
		if err != nil {
			continue
		}
		runID := "codex-" + a.nativeID(path, vs)
		vs.SessionID = runID
		if shouldSkip(opts, runID, hash) {
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

func (a *Codex) FindSessionPath(sessionID, dir string) (string, error) {
	if dir == "" {
		dir = a.DefaultPath()
	}
	native := strings.TrimPrefix(sessionID, "codex-")
	files, err := a.sessionFiles(dir)
	if err != nil {
		return "", err
	}
	for _, path := range files {
		stem := fileStem(path)
		if stem == native || strings.Contains(stem, native) {
			return path, nil
		}
	}
	return "", fmt.Errorf("session %q not found under %s", sessionID, dir)
}

func (a *Codex) ReadSession(path, sessionID string) (*models.ViewerSession, error) {
	lines, err := ReadJSONL(path)
	if err != nil {
		return nil, err
	}

	vs := &models.ViewerSession{SessionID: sessionID, Meta: map[string]any{}}
	var lastIn, lastOut int64
	for _, line := range lines {
		payload, _ := line["payload"].(map[string]any)
		if payload == nil {
			continue
		}
		ts := ParseTimestamp(line["timestamp"])

		switch firstString(line, "type") {
		case "session_meta":
			if id := firstString(payload, "id"); id != "" {
				vs.Meta["native_id"] = id
			}
			if vs.CWD == "" {
				vs.CWD = firstString(payload, "cwd")
			}
			if git, ok := payload["git"].(map[string]any); ok {
				vs.GitBranch = firstString(git, "branch")
			}
		case "response_item":
			switch firstString(payload, "type") {
			case "message":
				role := firstString(payload, "role")
				if text := contentText(payload["content"]); text != "" {
					vs.Messages = append(vs.Messages, models.ViewerMessage{Role: role, Content: text, Timestamp: ts})
				}
			case "function_call", "local_shell_call", "custom_tool_call":
				vs.Messages = append(vs.Messages, models.ViewerMessage{
					Role:      "assistant",
					Content:   truncateRunes(firstString(payload, "arguments", "input"), snippetRunes),
					Timestamp: ts,
					ToolName:  firstString(payload, "name", "type"),
				})
			case "function_call_output":
				vs.Messages = append(vs.Messages, models.ViewerMessage{
					Role:      "tool",
					Content:   truncateRunes(firstString(payload, "output"), snippetRunes),
					Timestamp: ts,
					ToolName:  "tool_result",
				})
			}
		case "event_msg":
			// token_count events carry cumulative totals; keep the last.
			if firstString(payload, "type") == "token_count" {
				if info, ok := payload["info"].(map[string]any); ok {
					if usage, ok := info["total_token_usage"].(map[string]any); ok {
						lastIn = intField(usage, "input_tokens")
						lastOut = intField(usage, "output_tokens")
					}
				}
			}
		}
	}
	vs.TotalInputTokens = lastIn
	vs.TotalOutputTokens = lastOut
	return vs, nil
}

// nativeID prefers the session_meta id and falls back to the rollout file
// stem so every transcript gets a stable identity even without metadata.
func (a *Codex) nativeID(path string, vs *models.ViewerSession) string {
	if id, ok := vs.Meta["native_id"].(string); ok && id != "" {
		return id
	}
	return strings.TrimPrefix(fileStem(path), "rollout-")
}

func (a *Codex) sessionFiles(dir string) ([]string, error) {
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
		name := d.Name()
		if !d.IsDir() && strings.HasPrefix(name, "rollout-") && strings.HasSuffix(name, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}
