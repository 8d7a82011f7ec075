package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lerim/internal/agent"
	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/lock"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/store"
)

func newRuntime(t *testing.T, orch agent.Orchestrator) *app.Runtime {
	t.Helper()
	rt, err := app.New(context.Background(), app.Options{
		Root:         t.TempDir(),
		Orchestrator: orch,
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

// seedSession writes a trace file, indexes it, and enqueues its extract job.
func seedSession(t *testing.T, rt *app.Runtime, runID string, start time.Time) *models.SessionRecord {
	t.Helper()
	trace := filepath.Join(rt.Layout.CacheDir(), runID+".jsonl")
	require.NoError(t, os.WriteFile(trace, []byte(`{"role":"user","content":"do things"}`+"\n"), 0o644))

	rec := &models.SessionRecord{
		RunID:       runID,
		AgentType:   "claudecode",
		SessionPath: trace,
		StartTime:   &start,
		RepoName:    "webapp",
		ContentHash: "hash-" + runID,
		Content:     "user: do things",
	}
	_, err := store.IndexSession(rt.Sessions, rec)
	require.NoError(t, err)
	_, err = store.EnqueueJob(rt.Sessions, rec, "test", false, 0)
	require.NoError(t, err)
	return rec
}

func TestSyncProcessesPendingJobs(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{})
	now := time.Now().UTC()
	seedSession(t, rt, "claudecode-s1", now.Add(-time.Hour))
	seedSession(t, rt, "claudecode-s2", now.Add(-2*time.Hour))

	summary, err := Sync(context.Background(), rt, SyncOptions{Trigger: "cli"})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.ExtractedSessions)
	assert.Equal(t, 0, summary.FailedSessions)
	assert.Equal(t, 2, summary.LearningsNew)
	assert.ElementsMatch(t, []string{"claudecode-s1", "claudecode-s2"}, summary.RunIDs)

	counts, err := store.CountJobsByStatus(rt.Sessions)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.JobStatusDone])

	run, err := store.LatestServiceRun(rt.Sessions, models.ServiceJobSync)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "sync", run.JobType)
	assert.Equal(t, models.ServiceRunCompleted, run.Status)
	assert.Equal(t, "cli", run.Trigger)
}

func TestSyncReleasesLock(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{})
	seedSession(t, rt, "claudecode-s1", time.Now().UTC())

	_, err := Sync(context.Background(), rt, SyncOptions{Trigger: "cli"})
	require.NoError(t, err)

	assert.NoFileExists(t, rt.Layout.WriterLockPath())
}

func TestSyncLockBusy(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{})
	guard, err := lock.Acquire(rt.Layout.WriterLockPath(), "other", "test", lock.Options{})
	require.NoError(t, err)
	defer guard.Release()

	_, err = Sync(context.Background(), rt, SyncOptions{Trigger: "cli"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLockBusy)
	assert.Equal(t, models.ExitLockBusy, models.ExitCode(err))

	run, err := store.LatestServiceRun(rt.Sessions, models.ServiceJobSync)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.ServiceRunLockBusy, run.Status)
}

func TestSyncIgnoreLockBypassesHolder(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{})
	guard, err := lock.Acquire(rt.Layout.WriterLockPath(), "other", "test", lock.Options{})
	require.NoError(t, err)
	defer guard.Release()

	seedSession(t, rt, "claudecode-s1", time.Now().UTC())
	summary, err := Sync(context.Background(), rt, SyncOptions{IgnoreLock: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ExtractedSessions)
}

func TestSyncAllFailedIsFatal(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{Err: &models.PipelineError{Stage: "extract", Err: fmt.Errorf("boom")}})
	seedSession(t, rt, "claudecode-s1", time.Now().UTC())

	_, err := Sync(context.Background(), rt, SyncOptions{})
	require.Error(t, err)
	assert.Equal(t, models.ExitFatal, models.ExitCode(err))

	job, err := store.FetchJob(rt.Sessions, "claudecode-s1", models.JobTypeExtract)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.Error, "boom")
	// First failure backs off 30 seconds.
	assert.WithinDuration(t, time.Now().UTC().Add(30*time.Second), job.AvailableAt, 5*time.Second)
}

// failSome fails the runs in bad and delegates the rest to the stub.
type failSome struct {
	agent.Stub
	bad map[string]bool
}

func (f *failSome) RunSync(ctx context.Context, task agent.SyncTask) error {
	if f.bad[task.RunID] {
		return &models.PipelineError{Stage: "extract", Err: fmt.Errorf("llm unavailable")}
	}
	return f.Stub.RunSync(ctx, task)
}

func TestSyncPartial(t *testing.T) {
	rt := newRuntime(t, &failSome{bad: map[string]bool{"claudecode-s2": true}})
	now := time.Now().UTC()
	seedSession(t, rt, "claudecode-s1", now)
	seedSession(t, rt, "claudecode-s2", now.Add(-time.Hour))

	summary, err := Sync(context.Background(), rt, SyncOptions{})
	require.Error(t, err)
	assert.Equal(t, models.ExitPartial, models.ExitCode(err))
	assert.Equal(t, 1, summary.ExtractedSessions)
	assert.Equal(t, 1, summary.FailedSessions)

	run, err := store.LatestServiceRun(rt.Sessions, models.ServiceJobSync)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceRunPartial, run.Status)
}

func TestSyncNoExtractLeavesJobsPending(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{})
	seedSession(t, rt, "claudecode-s1", time.Now().UTC())

	summary, err := Sync(context.Background(), rt, SyncOptions{NoExtract: true})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ExtractedSessions)

	counts, err := store.CountJobsByStatus(rt.Sessions)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.JobStatusPending])
}

func TestSyncMaxSessionsCapsClaims(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{})
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		seedSession(t, rt, fmt.Sprintf("claudecode-s%d", i), now.Add(-time.Duration(i)*time.Hour))
	}

	summary, err := Sync(context.Background(), rt, SyncOptions{MaxSessions: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ExtractedSessions)
	// Freshest sessions claim first.
	assert.ElementsMatch(t, []string{"claudecode-s0", "claudecode-s1"}, summary.RunIDs)
}

func TestSyncTargetedRunID(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{})
	now := time.Now().UTC()
	seedSession(t, rt, "claudecode-s1", now)
	seedSession(t, rt, "claudecode-s2", now.Add(-time.Hour))

	// First pass completes everything.
	_, err := Sync(context.Background(), rt, SyncOptions{})
	require.NoError(t, err)

	// Targeting one run forces its done job back through the queue; the
	// other stays done.
	summary, err := Sync(context.Background(), rt, SyncOptions{RunID: "claudecode-s2"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ExtractedSessions)
	assert.Equal(t, []string{"claudecode-s2"}, summary.RunIDs)
}

func TestSyncTargetedRunIDNotInCatalog(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{})
	_, err := Sync(context.Background(), rt, SyncOptions{RunID: "claudecode-ghost"})
	require.Error(t, err)
	assert.Equal(t, models.ExitFatal, models.ExitCode(err))
}

func TestSyncDryRunWritesNothing(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{})

	summary, err := Sync(context.Background(), rt, SyncOptions{DryRun: true, Window: "all"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ExtractedSessions)
	assert.NoFileExists(t, rt.Layout.WriterLockPath())

	counts, err := store.CountJobsByStatus(rt.Sessions)
	require.NoError(t, err)
	for status, n := range counts {
		assert.Zero(t, n, status)
	}

	run, err := store.LatestServiceRun(rt.Sessions, models.ServiceJobSync)
	require.NoError(t, err)
	require.NotNil(t, run, "dry run still records an audit row")
}

func TestSyncDiscoveryIndexesAndExtracts(t *testing.T) {
	rt := newRuntime(t, &agent.Stub{})

	source := t.TempDir()
	projDir := filepath.Join(source, "-home-u-webapp")
	require.NoError(t, os.MkdirAll(projDir, 0o755))
	fixture := `{"type":"user","timestamp":"2026-08-20T10:00:00Z","cwd":"/home/u/webapp","sessionId":"abc","message":{"role":"user","content":"Fix the login bug"}}
{"type":"assistant","timestamp":"2026-08-20T10:00:05Z","message":{"role":"assistant","content":[{"type":"text","text":"Done."}]}}
`
	require.NoError(t, os.WriteFile(filepath.Join(projDir, "11111111-aaaa.jsonl"), []byte(fixture), 0o644))
	_, err := rt.Platforms.Connect("claudecode", source)
	require.NoError(t, err)

	summary, err := Sync(context.Background(), rt, SyncOptions{Window: "all"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.IndexedSessions)
	assert.Equal(t, 0, summary.SkippedSessions)
	assert.Equal(t, 1, summary.ExtractedSessions)
	assert.Equal(t, []string{"claudecode-11111111-aaaa"}, summary.RunIDs)

	rec, err := store.FetchSession(rt.Sessions, "claudecode-11111111-aaaa")
	require.NoError(t, err)
	require.NotNil(t, rec)

	// Second pass: the unchanged hash is skipped, not re-indexed.
	summary, err = Sync(context.Background(), rt, SyncOptions{Window: "all"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.IndexedSessions)
	assert.Equal(t, 1, summary.SkippedSessions)
	assert.Equal(t, 0, summary.ExtractedSessions)
}
