package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/dotcommander/lerim/internal/config"
	"github.com/dotcommander/lerim/internal/models"
)

// ForRole resolves the provider client for one agent role. The API key is
// read from the provider's environment variable at call time; a missing key
// is a ConfigError only for the role actually being built.
func ForRole(cfg *config.Config, role string) (Provider, config.RoleConfig, error) {
	rc := cfg.Role(role)
	p, err := buildProvider(rc.Provider)
	if err != nil {
		return nil, rc, err
	}
	return p, rc, nil
}

func buildProvider(name string) (Provider, error) {
	envVar, ok := config.APIKeyEnv(name)
	if !ok {
		return nil, &models.ConfigError{Field: "llm.roles.provider", Reason: fmt.Sprintf("unknown provider %q", name)}
	}
	key := os.Getenv(envVar)
	if key == "" {
		return nil, &models.ConfigError{Field: envVar, Reason: "API key environment variable is not set"}
	}

	switch strings.ToLower(name) {
	case "openrouter":
		return NewOpenAIClient("openrouter", OpenRouterBaseURL, key), nil
	case "openai":
		return NewOpenAIClient("openai", OpenAIBaseURL, key), nil
	case "zai":
		return NewOpenAIClient("zai", ZAIBaseURL, key), nil
	case "anthropic":
		return NewAnthropicClient(key, ""), nil
	default:
		return nil, &models.ConfigError{Field: "llm.roles.provider", Reason: fmt.Sprintf("unknown provider %q", name)}
	}
}

// UnmarshalRepaired parses raw as JSON into v, running a repair pass when the
// first parse fails. Models wrap JSON in prose or fences often enough that a
// strict parse alone loses usable output.
func UnmarshalRepaired(raw string, v any) error {
	trimmed := stripFences(raw)
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return fmt.Errorf("repair json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("parse repaired json: %w", err)
	}
	return nil
}

// stripFences removes a surrounding ```json fence when present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
