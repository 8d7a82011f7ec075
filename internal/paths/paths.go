package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotcommander/lerim/internal/models"
)

// Well-known file and directory names under a data root.
const (
	MemoryDirName    = "memory"
	WorkspaceDirName = "workspace"
	IndexDirName     = "index"
	CacheDirName     = "cache"

	SessionsDBName  = "sessions.sqlite3"
	AccessDBName    = "memories.sqlite3"
	WriterLockName  = "writer.lock"
	PlatformsName   = "platforms.json"
	ProjectsName    = "projects.json"
	UserConfigName  = "config.toml"
	ServerPIDName   = "server.pid"
	ServerLogName   = "server.log"
	DashboardSubdir = "dashboard"
)

// Layout computes the canonical folder tree. Root is the data root for the
// memory and workspace trees; Global is where host-wide state lives: the
// session catalog, the registries, and the server lifecycle files. Under
// global scope the two coincide. It does no I/O except in EnsureTree.
type Layout struct {
	Root   string
	Global string
}

// NewLayout returns a Layout with both roots at root (cleaned, not
// resolved). Tests and explicit --root overrides use this form.
func NewLayout(root string) Layout {
	root = filepath.Clean(root)
	return Layout{Root: root, Global: root}
}

// NewScopedLayout returns a project-scoped Layout: memory and workspace
// under root, host-wide state under global.
func NewScopedLayout(root, global string) Layout {
	return Layout{Root: filepath.Clean(root), Global: filepath.Clean(global)}
}

// MemoryRoot returns <root>/memory.
func (l Layout) MemoryRoot() string { return filepath.Join(l.Root, MemoryDirName) }

// DecisionsDir returns <root>/memory/decisions.
func (l Layout) DecisionsDir() string { return filepath.Join(l.MemoryRoot(), "decisions") }

// LearningsDir returns <root>/memory/learnings.
func (l Layout) LearningsDir() string { return filepath.Join(l.MemoryRoot(), "learnings") }

// SummariesDir returns <root>/memory/summaries.
func (l Layout) SummariesDir() string { return filepath.Join(l.MemoryRoot(), "summaries") }

// ArchivedDir returns the archive folder for a primitive kind. Summaries are
// never archived, so only decisions and learnings have one.
func (l Layout) ArchivedDir(p models.Primitive) (string, error) {
	switch p {
	case models.PrimitiveDecision:
		return filepath.Join(l.MemoryRoot(), "archived", "decisions"), nil
	case models.PrimitiveLearning:
		return filepath.Join(l.MemoryRoot(), "archived", "learnings"), nil
	default:
		return "", fmt.Errorf("primitive %q has no archive folder", p)
	}
}

// WorkspaceRoot returns <root>/workspace.
func (l Layout) WorkspaceRoot() string { return filepath.Join(l.Root, WorkspaceDirName) }

// IndexDir returns <root>/index: the per-root databases and lock.
func (l Layout) IndexDir() string { return filepath.Join(l.Root, IndexDirName) }

// GlobalIndexDir returns <global>/index.
func (l Layout) GlobalIndexDir() string { return filepath.Join(l.Global, IndexDirName) }

// SessionsDBPath returns the session catalog database path. The catalog is
// host-wide: it always lives under the global root, even when the memory
// tree is project-scoped.
func (l Layout) SessionsDBPath() string { return filepath.Join(l.GlobalIndexDir(), SessionsDBName) }

// AccessDBPath returns the access tracker database path, per data root.
func (l Layout) AccessDBPath() string { return filepath.Join(l.IndexDir(), AccessDBName) }

// WriterLockPath returns the advisory writer lock path. The lock guards this
// root's memory tree, so it follows the data root.
func (l Layout) WriterLockPath() string { return filepath.Join(l.IndexDir(), WriterLockName) }

// PlatformsPath returns the platform registry path (global root only).
func (l Layout) PlatformsPath() string { return filepath.Join(l.Global, PlatformsName) }

// ProjectsPath returns the project registry path (global root only).
func (l Layout) ProjectsPath() string { return filepath.Join(l.Global, ProjectsName) }

// ConfigPath returns the config.toml path under the data root.
func (l Layout) ConfigPath() string { return filepath.Join(l.Root, UserConfigName) }

// CacheDir returns the adapter export cache. Exports feed the host-wide
// catalog, so the cache is global too.
func (l Layout) CacheDir() string { return filepath.Join(l.Global, CacheDirName) }

// ServerPIDPath returns the detached server pid file path (global root only).
func (l Layout) ServerPIDPath() string { return filepath.Join(l.Global, ServerPIDName) }

// ServerLogPath returns the detached server log path (global root only).
func (l Layout) ServerLogPath() string { return filepath.Join(l.Global, ServerLogName) }

// EnsureTree creates every directory of the canonical layout.
func (l Layout) EnsureTree() error {
	dirs := []string{
		l.DecisionsDir(),
		l.LearningsDir(),
		l.SummariesDir(),
		filepath.Join(l.MemoryRoot(), "archived", "decisions"),
		filepath.Join(l.MemoryRoot(), "archived", "learnings"),
		l.WorkspaceRoot(),
		l.IndexDir(),
		l.GlobalIndexDir(),
		l.CacheDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// GlobalRoot returns ~/.lerim.
func GlobalRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lerim"), nil
}

// GitRoot walks upward from startDir looking for a .git entry and returns the
// containing directory. ok is false when no repository encloses startDir.
func GitRoot(startDir string) (root string, ok bool) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ProjectRoot returns <git-root>/.lerim for the repository enclosing startDir.
func ProjectRoot(startDir string) (string, bool) {
	gitRoot, ok := GitRoot(startDir)
	if !ok {
		return "", false
	}
	return filepath.Join(gitRoot, ".lerim"), true
}
