// Package app composes the process-wide runtime: resolved data root, layered
// config, catalog and access databases, registries, adapters, metrics, and
// the orchestrator factory. Commands and the server build one Runtime and
// thread it everywhere.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dotcommander/lerim/internal/access"
	"github.com/dotcommander/lerim/internal/adapters"
	"github.com/dotcommander/lerim/internal/agent"
	"github.com/dotcommander/lerim/internal/config"
	"github.com/dotcommander/lerim/internal/metrics"
	"github.com/dotcommander/lerim/internal/paths"
	"github.com/dotcommander/lerim/internal/registry"
	"github.com/dotcommander/lerim/internal/store"
	"github.com/dotcommander/lerim/internal/telemetry"
)

// Options configures Runtime construction. The zero value resolves everything
// from the environment and the current working directory.
type Options struct {
	// Root pins the data root, bypassing scope resolution. Tests point this
	// at a temp dir; the CLI leaves it empty.
	Root string
	// WorkDir anchors project-scope detection. Empty means os.Getwd.
	WorkDir string
	// ConfigPath is an explicit override config file, same effect as
	// LERIM_CONFIG.
	ConfigPath string
	Logger     *slog.Logger
	Version    string
	// Orchestrator overrides the config-selected implementation. Tests
	// inject agent.Stub here.
	Orchestrator agent.Orchestrator
}

// Runtime is the composition root. Close releases resources in reverse
// construction order.
type Runtime struct {
	Config    *config.Config
	Layout    paths.Layout
	Sessions  *sql.DB
	Tracker   *access.Tracker
	Platforms *registry.Platforms
	Projects  *registry.Projects
	Adapters  adapters.Set
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Version   string

	orchestrator  agent.Orchestrator
	traceShutdown func(context.Context) error
}

// New resolves the data root, layers the config, opens both databases, and
// loads the registries. The on-disk tree is created if missing.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	layout, cfg, err := resolveLayout(opts, logger)
	if err != nil {
		return nil, err
	}
	if err := layout.EnsureTree(); err != nil {
		return nil, err
	}

	traceShutdown, err := telemetry.Setup(ctx, opts.Version)
	if err != nil {
		return nil, fmt.Errorf("telemetry setup: %w", err)
	}

	sessions, err := store.InitDB(layout.SessionsDBPath())
	if err != nil {
		return nil, err
	}

	tracker, err := access.Open(layout.AccessDBPath())
	if err != nil {
		sessions.Close()
		return nil, err
	}

	platforms, err := registry.LoadPlatforms(layout.PlatformsPath())
	if err != nil {
		tracker.Close()
		sessions.Close()
		return nil, err
	}
	projects, err := registry.LoadProjects(layout.ProjectsPath())
	if err != nil {
		tracker.Close()
		sessions.Close()
		return nil, err
	}

	rt := &Runtime{
		Config:        cfg,
		Layout:        layout,
		Sessions:      sessions,
		Tracker:       tracker,
		Platforms:     platforms,
		Projects:      projects,
		Adapters:      adapters.DefaultSet(layout.CacheDir()),
		Metrics:       metrics.New(),
		Logger:        logger,
		Version:       opts.Version,
		orchestrator:  opts.Orchestrator,
		traceShutdown: traceShutdown,
	}
	return rt, nil
}

// resolveLayout picks the data root per the memory scope: the enclosing
// repository's .lerim directory when scope is auto and one exists, otherwise
// ~/.lerim. An explicit Options.Root wins outright.
func resolveLayout(opts Options, logger *slog.Logger) (paths.Layout, *config.Config, error) {
	if opts.Root != "" {
		layout := paths.NewLayout(opts.Root)
		cfg, err := config.Load(config.LoadOptions{
			GlobalConfigPath: layout.ConfigPath(),
			OverridePath:     opts.ConfigPath,
			Logger:           logger,
		})
		return layout, cfg, err
	}

	globalRoot, err := paths.GlobalRoot()
	if err != nil {
		return paths.Layout{}, nil, err
	}

	workDir := opts.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return paths.Layout{}, nil, err
		}
	}
	projectRoot, inRepo := paths.ProjectRoot(workDir)

	loadOpts := config.LoadOptions{
		GlobalConfigPath: filepath.Join(globalRoot, paths.UserConfigName),
		OverridePath:     opts.ConfigPath,
		Logger:           logger,
	}
	if inRepo {
		loadOpts.ProjectConfigPath = filepath.Join(projectRoot, paths.UserConfigName)
	}
	cfg, err := config.Load(loadOpts)
	if err != nil {
		return paths.Layout{}, nil, err
	}

	if cfg.Memory.Scope == config.ScopeAuto && inRepo {
		return paths.NewScopedLayout(projectRoot, globalRoot), cfg, nil
	}
	return paths.NewLayout(globalRoot), cfg, nil
}

// Orchestrator returns the configured agent implementation, building it on
// first use. Construction is deferred so read-only commands never touch the
// LLM config.
func (rt *Runtime) Orchestrator() (agent.Orchestrator, error) {
	if rt.orchestrator != nil {
		return rt.orchestrator, nil
	}
	switch rt.Config.LLM.Mode {
	case config.LLMModeSubprocess:
		sub, err := agent.NewSubprocess(rt.Config.LLM.Subprocess, rt.Logger)
		if err != nil {
			return nil, err
		}
		rt.orchestrator = sub
	default:
		inproc := agent.NewInproc(rt.Config, rt.Tracker, rt.Logger)
		inproc.MemoryRoot = rt.Layout.MemoryRoot()
		rt.orchestrator = inproc
	}
	return rt.orchestrator, nil
}

// Close releases the runtime's resources. Safe to call once.
func (rt *Runtime) Close() error {
	var firstErr error
	if rt.traceShutdown != nil {
		if err := rt.traceShutdown(context.Background()); err != nil {
			firstErr = err
		}
	}
	if rt.Tracker != nil {
		if err := rt.Tracker.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.Sessions != nil {
		if err := rt.Sessions.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
