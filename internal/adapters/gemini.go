package adapters

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotcommander/lerim/internal/models"
)

// Gemini reads Gemini CLI chat files: one JSON document per session at
// ~/.gemini/tmp/<project-hash>/chats/session-*.json, messages inline.
type Gemini struct{}

func NewGemini() *Gemini { return &Gemini{} }

func (a *Gemini) Name() string { return "gemini" }

func (a *Gemini) DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gemini", "tmp")
}

func (a *Gemini) CountSessions(dir string) (int, error) {
	files, err := a.sessionFiles(dir)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

func (a *Gemini) IterSessions(opts IterOptions) ([]models.SessionRecord, error) {
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
		runID := "gemini-" + a.nativeID(path, vs)
		vs.SessionID = runID
		if shouldSkip(opts, runID, hash) {
			continue
		}
		rec := recordFromViewer(runID, a.Name(), path, hash, vs)
		if rec.StartTime == nil {
			if meta, ok := vs.Meta["start_time"].(string); ok {
				rec.StartTime = ParseTimestamp(meta)
			}
		}
		if !InWindow(rec.StartTime, opts.Since, opts.Until) {
			continue
		}
		rec.Changed = changed(opts.KnownRunHashes, runID, hash)
		records = append(records, rec)
	}
	return records, nil
}

func (a *Gemini) FindSessionPath(sessionID, dir string) (string, error) {
	if dir == "" {
		dir = a.DefaultPath()
	}
	native := strings.TrimPrefix(sessionID, "gemini-")
	files, err := a.sessionFiles(dir)
	if err != nil {
		return "", err
	}
	for _, path := range files {
		if fileStem(path) == native || strings.Contains(fileStem(path), native) {
			return path, nil
		}
		doc, err := a.readDoc(path)
		if err == nil && doc.SessionID == native {
			return path, nil
		}
	}
	return "", fmt.Errorf("session %q not found under %s", sessionID, dir)
}

type geminiDoc struct {
	SessionID   string          `json:"sessionId"`
	ProjectHash string          `json:"projectHash"`
	StartTime   string          `json:"startTime"`
	LastUpdated string          `json:"lastUpdated"`
	Messages    []geminiMessage `json:"messages"`
}

type geminiMessage struct {
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Tokens    map[string]any `json:"tokens"`
}

func (a *Gemini) ReadSession(path, sessionID string) (*models.ViewerSession, error) {
	doc, err := a.readDoc(path)
	if err != nil {
		return nil, err
	}

	vs := &models.ViewerSession{SessionID: sessionID, Meta: map[string]any{}}
	if doc.SessionID != "" {
		vs.Meta["native_id"] = doc.SessionID
	}
	if doc.StartTime != "" {
		vs.Meta["start_time"] = doc.StartTime
	}
	for _, msg := range doc.Messages {
		role := msg.Type
		if role == "gemini" {
			role = "assistant"
		}
		if msg.Content == "" {
			continue
		}
		vs.Messages = append(vs.Messages, models.ViewerMessage{
			Role:      role,
			Content:   msg.Content,
			Timestamp: ParseTimestamp(msg.Timestamp),
		})
		if msg.Tokens != nil {
			vs.TotalInputTokens += intField(msg.Tokens, "input")
			vs.TotalOutputTokens += intField(msg.Tokens, "output")
		}
	}
	return vs, nil
}

func (a *Gemini) readDoc(path string) (*geminiDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var doc geminiDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	return &doc, nil
}

func (a *Gemini) nativeID(path string, vs *models.ViewerSession) string {
	if id, ok := vs.Meta["native_id"].(string); ok && id != "" {
		return id
	}
	return strings.TrimPrefix(fileStem(path), "session-")
}

func (a *Gemini) sessionFiles(dir string) ([]string, error) {
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
		if !d.IsDir() && strings.HasPrefix(name, "session-") && strings.HasSuffix(name, ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}
