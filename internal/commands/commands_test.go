package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/models"
)

// run executes the full command tree against an isolated data root.
func run(t *testing.T, root string, args ...string) error {
	t.Helper()
	cmd := newRootCmd("test")
	cmd.SetArgs(append(args, "--root", root))
	return cmd.Execute()
}

func TestRootHasExpectedSubcommands(t *testing.T) {
	root := newRootCmd("test")
	for _, name := range []string{
		"init", "connect", "project", "sync", "maintain", "daemon",
		"memory", "chat", "status", "serve", "up", "down", "logs", "dashboard",
	} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		require.Equal(t, name, sub.Name())
	}
}

func TestUsageErrorsExitTwo(t *testing.T) {
	err := cmdErr(usageErr("bad flag"))
	require.Error(t, err)
	require.IsType(t, printedError{}, err)
	assert.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestInitCreatesConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, run(t, root, "init"))
	assert.FileExists(t, filepath.Join(root, "config.toml"))

	// Second init is a no-op, not an error.
	require.NoError(t, run(t, root, "init"))
}

func TestConnectProjectStatusRoundTrip(t *testing.T) {
	root := t.TempDir()
	source := t.TempDir()
	project := t.TempDir()

	require.NoError(t, run(t, root, "connect", "claudecode", "--path", source))
	require.NoError(t, run(t, root, "project", "add", project))
	require.NoError(t, run(t, root, "status"))
	require.NoError(t, run(t, root, "connect", "remove", "claudecode"))

	err := run(t, root, "connect", "remove", "claudecode")
	require.Error(t, err, "removing twice should fail")
}

func TestConnectUnknownPlatformFails(t *testing.T) {
	err := run(t, t.TempDir(), "connect", "emacs")
	require.Error(t, err)
}

func TestSyncWindowConflictsWithSince(t *testing.T) {
	err := run(t, t.TempDir(), "sync", "--window", "1d", "--since", "2026-01-01")
	require.Error(t, err)
	assert.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestSyncBadSinceIsUsageError(t *testing.T) {
	err := run(t, t.TempDir(), "sync", "--since", "yesterday")
	require.Error(t, err)
	assert.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestSyncDryRunOnEmptyRoot(t *testing.T) {
	require.NoError(t, run(t, t.TempDir(), "sync", "--dry-run"))
}

func TestMemoryAddRequiresTitle(t *testing.T) {
	err := run(t, t.TempDir(), "memory", "add", "--body", "no title")
	require.Error(t, err)
	assert.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestMemoryAddListSearch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, run(t, root, "memory", "add",
		"--title", "Prefer context timeouts",
		"--body", "Unbounded HTTP calls hang daemons.",
		"--tags", "http,reliability"))
	require.NoError(t, run(t, root, "memory", "list"))
	require.NoError(t, run(t, root, "memory", "search", "timeouts"))
}

func TestMemoryResetRequiresYes(t *testing.T) {
	err := run(t, t.TempDir(), "memory", "reset", "--scope", "global")
	require.Error(t, err)
	assert.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestMemoryResetWithRootOverride(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, run(t, root, "memory", "add", "--title", "short lived", "--body", "gone soon"))
	require.NoError(t, run(t, root, "memory", "reset", "--scope", "global", "--yes"))
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	cmd := newRootCmd("test")
	cmd.SetArgs([]string{"status", "--no-such-flag"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, models.ExitUsage, models.ExitCode(err))
}

func TestParseTimeFlag(t *testing.T) {
	ts, err := parseTimeFlag("2026-08-01")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, 2026, ts.Year())

	ts, err = parseTimeFlag("2026-08-01T12:30:00Z")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, 30, ts.Minute())

	nilTS, err := parseTimeFlag("")
	require.NoError(t, err)
	assert.Nil(t, nilTS)

	_, err = parseTimeFlag("not-a-time")
	require.Error(t, err)
}
