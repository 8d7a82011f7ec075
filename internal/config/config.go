package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"dario.cat/mergo"
)

// Memory scope values.
const (
	ScopeAuto       = "auto"
	ScopeGlobalOnly = "global_only"
)

// LLM orchestrator modes.
const (
	LLMModeInproc     = "inproc"
	LLMModeSubprocess = "subprocess"
)

// Role names resolved against [llm.roles].
const (
	RoleLead      = "lead"
	RoleExplorer  = "explorer"
	RoleExtract   = "extract"
	RoleSummarize = "summarize"
)

// Config is the fully layered configuration tree. All values carry usable
// defaults; resolveDefaults folds anything invalid back with a warning.
type Config struct {
	Memory MemoryConfig `toml:"memory"`
	Sync   SyncConfig   `toml:"sync"`
	Daemon DaemonConfig `toml:"daemon"`
	Server ServerConfig `toml:"server"`
	LLM    LLMConfig    `toml:"llm"`
}

// MemoryConfig controls scoping and decay policy.
type MemoryConfig struct {
	// Scope "auto" picks the project data root when the working directory is
	// inside a git repository; "global_only" pins everything to ~/.lerim and
	// skips the project config layer.
	Scope     string  `toml:"scope"`
	DecayDays int     `toml:"decay_days"`
	MinFloor  float64 `toml:"min_floor"`
	GraceDays int     `toml:"grace_days"`
}

// SyncConfig controls the sync cycle defaults.
type SyncConfig struct {
	Window              string `toml:"window"`
	MaxSessions         int    `toml:"max_sessions"`
	ClaimTimeoutSeconds int    `toml:"claim_timeout_seconds"`
}

// DaemonConfig controls the scheduler intervals.
type DaemonConfig struct {
	SyncIntervalMinutes     int `toml:"sync_interval_minutes"`
	MaintainIntervalMinutes int `toml:"maintain_interval_minutes"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// DashboardDir overrides the embedded dashboard with a static directory.
	DashboardDir string `toml:"dashboard_dir"`
}

// LLMConfig selects the orchestrator implementation and per-role model settings.
type LLMConfig struct {
	Mode       string                `toml:"mode"`
	Subprocess SubprocessConfig      `toml:"subprocess"`
	Roles      map[string]RoleConfig `toml:"roles"`
}

// SubprocessConfig configures the external agent command used in subprocess mode.
type SubprocessConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// RoleConfig is the model selection for one agent role.
type RoleConfig struct {
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	MaxTurns    int     `toml:"max_turns"`
}

// Defaults returns the built-in configuration, the lowest layer of the merge.
func Defaults() Config {
	return Config{
		Memory: MemoryConfig{
			Scope:     ScopeAuto,
			DecayDays: 90,
			MinFloor:  0.2,
			GraceDays: 14,
		},
		Sync: SyncConfig{
			Window:              "7d",
			MaxSessions:         5,
			ClaimTimeoutSeconds: 300,
		},
		Daemon: DaemonConfig{
			SyncIntervalMinutes:     60,
			MaintainIntervalMinutes: 1440,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		LLM: LLMConfig{
			Mode: LLMModeInproc,
			Roles: map[string]RoleConfig{
				RoleLead:      {Provider: "openrouter", Model: "anthropic/claude-sonnet-4", Temperature: 0.2, MaxTokens: 8192, MaxTurns: 25},
				RoleExplorer:  {Provider: "openrouter", Model: "openai/gpt-4.1-mini", Temperature: 0.2, MaxTokens: 4096, MaxTurns: 10},
				RoleExtract:   {Provider: "openrouter", Model: "anthropic/claude-sonnet-4", Temperature: 0.0, MaxTokens: 8192},
				RoleSummarize: {Provider: "openrouter", Model: "openai/gpt-4.1-mini", Temperature: 0.3, MaxTokens: 4096},
			},
		},
	}
}

// LoadOptions selects the file layers. Zero values mean "discover normally".
type LoadOptions struct {
	// GlobalConfigPath is the user config file, normally ~/.lerim/config.toml.
	GlobalConfigPath string
	// ProjectConfigPath is <git-root>/.lerim/config.toml; skipped when empty
	// or when the merged scope resolves to global_only.
	ProjectConfigPath string
	// OverridePath defaults to $LERIM_CONFIG.
	OverridePath string
	Logger       *slog.Logger
}

// Load layers the configuration: defaults, user file, project file, explicit
// override. Later layers win field-by-field; missing files are not errors.
func Load(opts LoadOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := Defaults()

	if err := mergeFile(&cfg, opts.GlobalConfigPath); err != nil {
		return nil, err
	}

	// The user layer decides whether the project layer applies at all.
	if cfg.Memory.Scope != ScopeGlobalOnly {
		if err := mergeFile(&cfg, opts.ProjectConfigPath); err != nil {
			return nil, err
		}
	}

	override := opts.OverridePath
	if override == "" {
		override = os.Getenv("LERIM_CONFIG")
	}
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return nil, fmt.Errorf("LERIM_CONFIG %s: %w", override, err)
		}
		if err := mergeFile(&cfg, override); err != nil {
			return nil, err
		}
	}

	resolveDefaults(&cfg, logger)
	return &cfg, nil
}

// mergeFile loads a TOML layer and merges it over cfg. A missing file is
// skipped; a malformed one is an error (silent misconfiguration is worse
// than failing fast).
func mergeFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path) //nolint:gosec // G304: config paths come from the layout, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var layer Config
	if err := toml.Unmarshal(b, &layer); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := mergo.Merge(cfg, layer, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// resolveDefaults folds invalid values back to the built-in defaults, warning
// on each one rather than failing the load.
func resolveDefaults(cfg *Config, logger *slog.Logger) {
	def := Defaults()

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		logger.Warn("invalid server port, using default", "port", cfg.Server.Port, "default", def.Server.Port)
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}

	switch cfg.Memory.Scope {
	case ScopeAuto, ScopeGlobalOnly:
	default:
		logger.Warn("unknown memory scope, using auto", "scope", cfg.Memory.Scope)
		cfg.Memory.Scope = ScopeAuto
	}
	if cfg.Memory.DecayDays <= 0 {
		logger.Warn("invalid decay_days, using default", "decay_days", cfg.Memory.DecayDays, "default", def.Memory.DecayDays)
		cfg.Memory.DecayDays = def.Memory.DecayDays
	}
	if cfg.Memory.MinFloor < 0 || cfg.Memory.MinFloor > 1 {
		logger.Warn("invalid min_floor, using default", "min_floor", cfg.Memory.MinFloor, "default", def.Memory.MinFloor)
		cfg.Memory.MinFloor = def.Memory.MinFloor
	}
	if cfg.Memory.GraceDays < 0 {
		cfg.Memory.GraceDays = def.Memory.GraceDays
	}

	if cfg.Sync.MaxSessions <= 0 {
		cfg.Sync.MaxSessions = def.Sync.MaxSessions
	}
	if cfg.Sync.ClaimTimeoutSeconds <= 0 {
		cfg.Sync.ClaimTimeoutSeconds = def.Sync.ClaimTimeoutSeconds
	}
	if cfg.Sync.Window == "" {
		cfg.Sync.Window = def.Sync.Window
	}

	if cfg.Daemon.SyncIntervalMinutes <= 0 {
		logger.Warn("invalid sync interval, using default", "minutes", cfg.Daemon.SyncIntervalMinutes, "default", def.Daemon.SyncIntervalMinutes)
		cfg.Daemon.SyncIntervalMinutes = def.Daemon.SyncIntervalMinutes
	}
	if cfg.Daemon.MaintainIntervalMinutes <= 0 {
		logger.Warn("invalid maintain interval, using default", "minutes", cfg.Daemon.MaintainIntervalMinutes, "default", def.Daemon.MaintainIntervalMinutes)
		cfg.Daemon.MaintainIntervalMinutes = def.Daemon.MaintainIntervalMinutes
	}

	switch cfg.LLM.Mode {
	case LLMModeInproc, LLMModeSubprocess:
	default:
		logger.Warn("unknown llm mode, using inproc", "mode", cfg.LLM.Mode)
		cfg.LLM.Mode = LLMModeInproc
	}
	if cfg.LLM.Roles == nil {
		cfg.LLM.Roles = def.LLM.Roles
	}
}

// Role returns the settings for a named role, falling back to the lead role
// and then to built-in defaults so callers never dereference a zero model.
func (c *Config) Role(name string) RoleConfig {
	if rc, ok := c.LLM.Roles[name]; ok && rc.Model != "" {
		return rc
	}
	if rc, ok := c.LLM.Roles[RoleLead]; ok && rc.Model != "" {
		return rc
	}
	return Defaults().LLM.Roles[RoleLead]
}

// APIKeyEnv maps a provider name to the environment variable that carries its
// key. Keys are never read from TOML.
func APIKeyEnv(provider string) (string, bool) {
	switch strings.ToLower(provider) {
	case "openrouter":
		return "OPENROUTER_API_KEY", true
	case "openai":
		return "OPENAI_API_KEY", true
	case "anthropic":
		return "ANTHROPIC_API_KEY", true
	case "zai":
		return "ZAI_API_KEY", true
	}
	return "", false
}
