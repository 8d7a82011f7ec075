package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/contract"
	"github.com/dotcommander/lerim/internal/memory"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/workspace"
)

func newSyncTask(t *testing.T) SyncTask {
	t.Helper()
	base := t.TempDir()
	memoryRoot := filepath.Join(base, "memory")
	for _, d := range []string{"decisions", "learnings", "summaries"} {
		require.NoError(t, os.MkdirAll(filepath.Join(memoryRoot, d), 0o755))
	}
	trace := filepath.Join(base, "traces", "session.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(trace), 0o755))
	require.NoError(t, os.WriteFile(trace, []byte(`{"role":"user","content":"hi"}`+"\n"), 0o644))

	run, err := workspace.NewRun(filepath.Join(base, "workspace"), "sync", nil)
	require.NoError(t, err)
	return SyncTask{
		RunID:         "claudecode-stub-1",
		AgentType:     "claudecode",
		TracePath:     trace,
		Run:           run,
		MemoryRoot:    memoryRoot,
		WorkspaceRoot: filepath.Join(base, "workspace"),
	}
}

func TestStubRunSyncSatisfiesContract(t *testing.T) {
	task := newSyncTask(t)
	stub := &Stub{}

	require.NoError(t, stub.RunSync(context.Background(), task))

	res, err := contract.ValidateSync(task.Run.Dir, task.MemoryRoot)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCounts{Add: 1}, res.Counts)
	require.Len(t, res.WrittenMemoryPaths, 1)
	_, err = os.Stat(res.WrittenMemoryPaths[0])
	assert.NoError(t, err)
	_, err = os.Stat(res.SummaryPath)
	assert.NoError(t, err)
}

func TestStubRunSyncNoOpOnSecondRun(t *testing.T) {
	task := newSyncTask(t)
	stub := &Stub{}

	require.NoError(t, stub.RunSync(context.Background(), task))

	// Same candidates against the now-populated tree: no_op.
	run2, err := workspace.NewRun(task.WorkspaceRoot, "sync", nil)
	require.NoError(t, err)
	task2 := task
	task2.Run = run2
	require.NoError(t, stub.RunSync(context.Background(), task2))

	res, err := contract.ValidateSync(run2.Dir, task.MemoryRoot)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCounts{NoOp: 1}, res.Counts)

	// counts.add + counts.update + counts.no_op equals the candidate total.
	assert.Equal(t, 1, res.Counts.Total())
}

func TestStubRunSyncUpdate(t *testing.T) {
	task := newSyncTask(t)
	first := &Stub{Candidates: func(string) []memory.Candidate {
		return []memory.Candidate{{
			Primitive: models.PrimitiveLearning,
			Title:     "Claim jobs newest first",
			Body:      "The queue claims freshest sessions first and respects retry scheduling.",
			Kind:      "insight",
		}}
	}}
	require.NoError(t, first.RunSync(context.Background(), task))

	second := &Stub{Candidates: func(string) []memory.Candidate {
		return []memory.Candidate{{
			Primitive: models.PrimitiveLearning,
			Title:     "Claim jobs newest first",
			Body:      "The queue claims freshest sessions first and respects retry scheduling always.",
			Kind:      "insight",
		}}
	}}
	run2, err := workspace.NewRun(task.WorkspaceRoot, "sync", nil)
	require.NoError(t, err)
	task2 := task
	task2.Run = run2
	require.NoError(t, second.RunSync(context.Background(), task2))

	res, err := contract.ValidateSync(run2.Dir, task.MemoryRoot)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCounts{Update: 1}, res.Counts)

	entries, err := memory.List(task.MemoryRoot, memory.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1, "update must rewrite in place, not add a file")
	assert.Contains(t, entries[0].Body, "always")
}

func TestStubRunMaintain(t *testing.T) {
	task := newSyncTask(t)
	require.NoError(t, (&Stub{}).RunSync(context.Background(), task))

	run, err := workspace.NewRun(task.WorkspaceRoot, "maintain", nil)
	require.NoError(t, err)
	mt := MaintainTask{Run: run, MemoryRoot: task.MemoryRoot, WorkspaceRoot: task.WorkspaceRoot}

	require.NoError(t, (&Stub{}).RunMaintain(context.Background(), mt))

	res, err := contract.ValidateMaintain(run.Dir, task.MemoryRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.Unchanged)
}
