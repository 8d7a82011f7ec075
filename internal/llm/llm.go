// Package llm defines the provider abstraction the runtime agent talks
// through: shared request/response types, a name-keyed provider registry, and
// HTTP clients for OpenAI-compatible and Anthropic endpoints.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a conversation, shared across providers.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec describes one callable tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting of one response.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is one chat completion result.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string
}

// Provider is one LLM backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req Request) (*Response, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() (Provider, error){}
)

// Register adds a provider constructor under name. Construction is deferred
// so a missing API key only errors when the provider is actually used.
func Register(name string, ctor func() (Provider, error)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// Get builds the named provider.
func Get(name string) (Provider, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
	return ctor()
}
