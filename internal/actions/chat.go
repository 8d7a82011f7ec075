package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dotcommander/lerim/internal/app"
)

// chatHTTPTimeout bounds one forwarded chat request.
const chatHTTPTimeout = 5 * time.Minute

// Chat answers a question over the memory tree. When the local API server is
// up the question is forwarded there (so its access tracking and cache are
// shared); otherwise an in-process agent answers directly.
func Chat(ctx context.Context, rt *app.Runtime, question string, limit int) (string, error) {
	if answer, ok := chatViaServer(ctx, rt, question, limit); ok {
		return answer, nil
	}
	orch, err := rt.Orchestrator()
	if err != nil {
		return "", err
	}
	return orch.Chat(ctx, question, limit)
}

func chatViaServer(ctx context.Context, rt *app.Runtime, question string, limit int) (string, bool) {
	url := fmt.Sprintf("http://%s:%d/api/chat", rt.Config.Server.Host, rt.Config.Server.Port)
	body, err := json.Marshal(map[string]any{"question": question, "limit": limit})
	if err != nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, chatHTTPTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		// Server down: the caller falls back to in-process.
		return "", false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var payload struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", false
	}
	return payload.Answer, true
}
