package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/models"
)

func TestRegistry(t *testing.T) {
	Register("fake", func() (Provider, error) {
		return NewOpenAIClient("fake", "http://localhost:0", "key"), nil
	})
	p, err := Get("fake")
	require.NoError(t, err)
	assert.Equal(t, "fake", p.Name())

	_, err = Get("missing")
	assert.Error(t, err)
}

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		var req oaiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "hello",
					"tool_calls": []map[string]any{{
						"id":   "tc-1",
						"type": "function",
						"function": map[string]any{
							"name":      "read",
							"arguments": `{"path":"/tmp/x"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient("test", srv.URL, "test-key")
	resp, err := c.Chat(context.Background(), Request{
		Model: "test-model",
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "read", resp.ToolCalls[0].Name)
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
}

func TestOpenAIChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"maximum context length exceeded"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test", srv.URL, "k")
	_, err := c.Chat(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	var pe *models.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "context window exceeded")
}

func TestAnthropicChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be terse", req.System)
		require.Len(t, req.Messages, 1)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "claude "},
				{"type": "text", "text": "says hi"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 7, "output_tokens": 3},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient("test-key", srv.URL)
	resp, err := c.Chat(context.Background(), Request{
		Model: "claude-x",
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "claude says hi", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
}

func TestUnmarshalRepaired(t *testing.T) {
	var v map[string]any
	require.NoError(t, UnmarshalRepaired(`{"a": 1}`, &v))
	assert.EqualValues(t, 1, v["a"])

	// Trailing comma + fence: repairable.
	v = nil
	require.NoError(t, UnmarshalRepaired("```json\n{\"a\": 1,}\n```", &v))
	assert.EqualValues(t, 1, v["a"])
}
