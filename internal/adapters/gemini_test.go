package adapters

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const geminiFixture = `{
  "sessionId": "g-123",
  "projectHash": "abcd1234",
  "startTime": "2025-08-20T08:00:00.000Z",
  "lastUpdated": "2025-08-20T08:30:00.000Z",
  "messages": [
    {"id": "1", "timestamp": "2025-08-20T08:00:00.000Z", "type": "user", "content": "Explain this stack trace"},
    {"id": "2", "timestamp": "2025-08-20T08:00:20.000Z", "type": "gemini", "content": "The panic originates in the scheduler tick.", "tokens": {"input": 300, "output": 80, "total": 380}}
  ]
}`

func writeGeminiSession(t *testing.T, dir, hash, name, content string) string {
	t.Helper()
	chats := filepath.Join(dir, hash, "chats")
	require.NoError(t, os.MkdirAll(chats, 0o755))
	path := filepath.Join(chats, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGeminiIterSessions(t *testing.T) {
	dir := t.TempDir()
	path := writeGeminiSession(t, dir, "abcd1234", "session-2025-08-20.json", geminiFixture)

	a := NewGemini()
	records, err := a.IterSessions(IterOptions{Dir: dir})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, "gemini-g-123", rec.RunID)
	require.Equal(t, "gemini", rec.AgentType)
	require.Equal(t, path, rec.SessionPath)
	require.Len(t, rec.ContentHash, 64)

	require.NotNil(t, rec.StartTime)
	require.Equal(t, time.Date(2025, 8, 20, 8, 0, 0, 0, time.UTC), *rec.StartTime)
	require.Equal(t, 2, rec.MessageCount)
	require.Equal(t, int64(380), rec.TotalTokens)
	require.Equal(t, []string{"Explain this stack trace"}, rec.Summaries)
}

func TestGeminiRoleMapping(t *testing.T) {
	dir := t.TempDir()
	path := writeGeminiSession(t, dir, "abcd1234", "session-roles.json", geminiFixture)

	a := NewGemini()
	vs, err := a.ReadSession(path, "gemini-g-123")
	require.NoError(t, err)
	require.Len(t, vs.Messages, 2)
	require.Equal(t, "user", vs.Messages[0].Role)
	require.Equal(t, "assistant", vs.Messages[1].Role, "gemini type maps to assistant")
}

func TestGeminiFindSessionPathBySessionID(t *testing.T) {
	dir := t.TempDir()
	path := writeGeminiSession(t, dir, "abcd1234", "session-2025-08-20.json", geminiFixture)

	a := NewGemini()
	found, err := a.FindSessionPath("gemini-g-123", dir)
	require.NoError(t, err)
	require.Equal(t, path, found)
}

func TestGeminiMalformedSessionSkipped(t *testing.T) {
	dir := t.TempDir()
	writeGeminiSession(t, dir, "abcd1234", "session-bad.json", "{not json")
	writeGeminiSession(t, dir, "abcd1234", "session-good.json", geminiFixture)

	a := NewGemini()
	records, err := a.IterSessions(IterOptions{Dir: dir})
	require.NoError(t, err)
	require.Len(t, records, 1, "unreadable sessions are skipped, not fatal")
}
