package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"dario.cat/mergo"
)

// PatchUserConfig deep-merges patch into the user config file and rewrites it
// atomically. Keys that look like API keys are dropped: those live only in
// the environment.
func PatchUserConfig(path string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	stripSecretKeys(patch)
	normalizeNumbers(patch)

	current := map[string]any{}
	if b, err := os.ReadFile(path); err == nil { //nolint:gosec // G304: layout-derived path
		if err := toml.Unmarshal(b, &current); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := mergo.Merge(&current, patch, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge config patch: %w", err)
	}

	b, err := toml.Marshal(current)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	return writeFileAtomic(path, b, 0o600)
}

// WriteDefault writes the commented default user config if none exists.
// Returns true when a new file was created.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return false, err
	}
	if err := writeFileAtomic(path, []byte(defaultConfigTOML), 0o600); err != nil {
		return false, err
	}
	return true, nil
}

func stripSecretKeys(m map[string]any) {
	for k, v := range m {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "api_key") || strings.Contains(lower, "apikey") || lower == "token" {
			delete(m, k)
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			stripSecretKeys(nested)
		}
	}
}

// normalizeNumbers rewrites integral float64 values (the shape JSON decoding
// produces) as int64 so the rewritten TOML keeps integer fields integer.
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case float64:
			if val == float64(int64(val)) {
				m[k] = int64(val)
			}
		case map[string]any:
			normalizeNumbers(val)
		}
	}
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

const defaultConfigTOML = `# lerim configuration
# Values here layer over built-in defaults; a project-level
# .lerim/config.toml layers over this file.
# API keys are read only from the environment:
#   OPENROUTER_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY, ZAI_API_KEY

[memory]
# scope = "auto"        # "auto" or "global_only"
# decay_days = 90
# min_floor = 0.2
# grace_days = 14

[sync]
# window = "7d"
# max_sessions = 5

[daemon]
# sync_interval_minutes = 60
# maintain_interval_minutes = 1440

[server]
# host = "127.0.0.1"
# port = 8765

[llm]
# mode = "inproc"       # "inproc" or "subprocess"

# [llm.roles.lead]
# provider = "openrouter"
# model = "anthropic/claude-sonnet-4"
`
