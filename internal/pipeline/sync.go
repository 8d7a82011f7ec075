package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dotcommander/lerim/internal/adapters"
	"github.com/dotcommander/lerim/internal/agent"
	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/contract"
	"github.com/dotcommander/lerim/internal/lock"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/store"
	"github.com/dotcommander/lerim/internal/telemetry"
	"github.com/dotcommander/lerim/internal/workspace"
)

// heartbeatInterval is how often a running job's lease is refreshed.
const heartbeatInterval = 15 * time.Second

// SyncOptions are the per-invocation knobs of one sync cycle. Zero values
// fall back to the runtime config.
type SyncOptions struct {
	// RunID targets a single session, bypassing discovery.
	RunID string
	// Platforms filters discovery to the named adapters. Empty means every
	// connected platform.
	Platforms []string
	// Window is the duration grammar or "all". Mutually exclusive with
	// Since/Until.
	Window string
	Since  *time.Time
	Until  *time.Time
	// MaxSessions caps how many jobs this cycle claims.
	MaxSessions int
	// NoExtract indexes and enqueues but claims nothing.
	NoExtract bool
	// Force re-enqueues jobs even when the session content is unchanged.
	Force bool
	// DryRun reports what discovery would index without writing anything.
	// No lock, no upserts, no jobs.
	DryRun bool
	// IgnoreLock skips writer-lock acquisition entirely.
	IgnoreLock bool
	// Trigger labels the audit row: "cli", "daemon", "api".
	Trigger string
}

// Sync runs one full sync cycle and returns its summary. The returned error
// carries the cycle's exit code: nil for success, partial for a mixed
// outcome, fatal when every claimed job failed, lock-busy when another
// writer holds the lock.
func Sync(ctx context.Context, rt *app.Runtime, opts SyncOptions) (*models.SyncSummary, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.sync")
	defer span.End()

	logger := rt.Logger.With("component", "sync", "trigger", opts.Trigger)
	started := time.Now().UTC()

	window, err := ResolveWindow(rt.Sessions, windowSpec(rt, opts), opts.Since, opts.Until, started)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("window", window.Label))

	var guard *lock.Guard
	if !opts.DryRun && !opts.IgnoreLock {
		guard, err = lock.Acquire(rt.Layout.WriterLockPath(), "sync", "lerim sync", lock.Options{})
		if errors.Is(err, models.ErrLockBusy) {
			logger.Warn("writer lock busy, skipping cycle", "err", err)
			rt.Metrics.SyncCycles.WithLabelValues(string(models.ServiceRunLockBusy)).Inc()
			recordAudit(rt, models.ServiceJobSync, models.ServiceRunLockBusy, started, opts.Trigger,
				map[string]any{"window": window.Label})
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		defer guard.Release()
	}

	summary := &models.SyncSummary{}

	if opts.DryRun {
		discovered, skipped, err := discover(ctx, rt, window, opts, logger)
		if err != nil {
			return nil, err
		}
		summary.IndexedSessions = len(discovered)
		summary.SkippedSessions = skipped
		for _, rec := range discovered {
			summary.RunIDs = append(summary.RunIDs, rec.RunID)
		}
		recordAudit(rt, models.ServiceJobSync, models.ServiceRunCompleted, started, opts.Trigger,
			map[string]any{"window": window.Label, "dry_run": true, "summary": summary})
		return summary, nil
	}

	var targets []string
	if opts.RunID != "" {
		rec, err := store.FetchSession(rt.Sessions, opts.RunID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, models.NewExitError(models.ExitFatal,
				fmt.Errorf("run %q is not in the catalog; sync without --run-id to discover it", opts.RunID))
		}
		if _, err := store.EnqueueJob(rt.Sessions, rec, opts.Trigger, true, 0); err != nil {
			return nil, err
		}
		targets = []string{opts.RunID}
	} else {
		discovered, skipped, err := discover(ctx, rt, window, opts, logger)
		if err != nil {
			return nil, err
		}
		summary.SkippedSessions = skipped
		for _, rec := range discovered {
			if _, err := store.IndexSession(rt.Sessions, &rec); err != nil {
				return nil, err
			}
			force := opts.Force || rec.Changed
			if _, err := store.EnqueueJob(rt.Sessions, &rec, opts.Trigger, force, 0); err != nil {
				return nil, err
			}
			summary.IndexedSessions++
			targets = append(targets, rec.RunID)
		}
	}

	if !opts.NoExtract {
		if err := processJobs(ctx, rt, guard, opts, targets, summary, logger); err != nil {
			return nil, err
		}
	}

	status, exitErr := cycleOutcome(summary)
	rt.Metrics.SyncCycles.WithLabelValues(string(status)).Inc()
	if counts, err := store.CountJobsByStatus(rt.Sessions); err == nil {
		rt.Metrics.ObserveQueue(counts)
	}
	recordAudit(rt, models.ServiceJobSync, status, started, opts.Trigger,
		map[string]any{"window": window.Label, "summary": summary})

	logger.Info("sync cycle finished",
		"status", status,
		"indexed", summary.IndexedSessions,
		"skipped", summary.SkippedSessions,
		"extracted", summary.ExtractedSessions,
		"failed", summary.FailedSessions)
	return summary, exitErr
}

func windowSpec(rt *app.Runtime, opts SyncOptions) string {
	if opts.Window != "" || opts.Since != nil || opts.Until != nil {
		return opts.Window
	}
	return rt.Config.Sync.Window
}

// discover enumerates connected platforms within the window. Adapter failures
// are logged and skipped; one broken platform must not stop the rest.
func discover(ctx context.Context, rt *app.Runtime, window Window, opts SyncOptions, logger *slog.Logger) ([]models.SessionRecord, int, error) {
	known, err := store.KnownRunHashes(rt.Sessions)
	if err != nil {
		return nil, 0, err
	}

	selected := map[string]bool{}
	for _, name := range opts.Platforms {
		selected[name] = true
	}

	var out []models.SessionRecord
	var skipped int
	for _, platform := range rt.Platforms.List() {
		if len(selected) > 0 && !selected[platform.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		adapter, err := rt.Adapters.Lookup(platform.Name)
		if err != nil {
			logger.Warn("unknown platform in registry", "platform", platform.Name, "err", err)
			continue
		}
		recs, err := adapter.IterSessions(adapters.IterOptions{
			Dir:            platform.SourcePath,
			Since:          window.Since,
			Until:          window.Until,
			KnownRunHashes: known,
			Skipped:        &skipped,
		})
		if err != nil {
			logger.Warn("platform discovery failed",
				"platform", platform.Name, "err", &models.AdapterError{Platform: platform.Name, Err: err})
			continue
		}
		out = append(out, recs...)
	}
	return out, skipped, nil
}

// processJobs claims up to max_sessions jobs and runs them in claim order.
// Each job gets a run folder, an orchestrator invocation, contract
// validation, and a terminal complete/fail transition.
func processJobs(ctx context.Context, rt *app.Runtime, guard *lock.Guard, opts SyncOptions, targets []string, summary *models.SyncSummary, logger *slog.Logger) error {
	limit := opts.MaxSessions
	if limit <= 0 {
		limit = rt.Config.Sync.MaxSessions
	}
	claimOpts := store.ClaimOptions{
		Limit:          limit,
		TimeoutSeconds: rt.Config.Sync.ClaimTimeoutSeconds,
	}
	if opts.RunID != "" {
		claimOpts.RunIDs = targets
	}
	jobs, err := store.ClaimJobs(rt.Sessions, claimOpts)
	if err != nil {
		return err
	}

	orch, err := rt.Orchestrator()
	if err != nil {
		if len(jobs) == 0 {
			return nil
		}
		return err
	}

	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		job := &jobs[i]
		if err := processJob(ctx, rt, guard, orch, job, summary, logger); err != nil {
			return err
		}
	}
	return nil
}

func processJob(ctx context.Context, rt *app.Runtime, guard *lock.Guard, orch agent.Orchestrator, job *models.Job, summary *models.SyncSummary, logger *slog.Logger) error {
	logger = logger.With("run_id", job.RunID, "attempt", job.Attempts)

	stopBeat := startHeartbeat(rt, guard, job.RunID)
	defer stopBeat()

	res, runErr := runJob(ctx, rt, orch, job)
	if runErr != nil {
		backoff := models.RetryBackoffSeconds(job.Attempts)
		logger.Warn("extract job failed", "err", runErr, "retry_in_seconds", backoff)
		if err := store.FailJob(rt.Sessions, job.RunID, runErr.Error(), backoff); err != nil {
			return err
		}
		rt.Metrics.JobsProcessed.WithLabelValues("failed").Inc()
		summary.FailedSessions++
		return nil
	}

	if err := store.CompleteJob(rt.Sessions, job.RunID); err != nil {
		return err
	}
	rt.Metrics.JobsProcessed.WithLabelValues("done").Inc()
	summary.ExtractedSessions++
	summary.LearningsNew += res.Counts.Add
	summary.LearningsUpdated += res.Counts.Update
	summary.RunIDs = appendUnique(summary.RunIDs, job.RunID)
	logger.Info("extract job complete",
		"add", res.Counts.Add, "update", res.Counts.Update, "no_op", res.Counts.NoOp)
	return nil
}

// runJob does the fallible part of one job: run folder, orchestrator,
// contract validation. Its error becomes the job's failure record.
func runJob(ctx context.Context, rt *app.Runtime, orch agent.Orchestrator, job *models.Job) (*contract.SyncResult, error) {
	rec, err := store.FetchSession(rt.Sessions, job.RunID)
	if err != nil {
		return nil, err
	}
	repoName := ""
	startTime := time.Now().UTC()
	if rec != nil {
		repoName = rec.RepoName
		if rec.StartTime != nil {
			startTime = *rec.StartTime
		}
	}

	run, err := workspace.NewRun(rt.Layout.WorkspaceRoot(), "sync", map[string]any{
		"run_id":     job.RunID,
		"agent_type": job.AgentType,
		"attempt":    job.Attempts,
	})
	if err != nil {
		return nil, err
	}

	task := agent.SyncTask{
		RunID:         job.RunID,
		AgentType:     job.AgentType,
		TracePath:     job.SessionPath,
		RepoName:      repoName,
		Run:           run,
		MemoryRoot:    rt.Layout.MemoryRoot(),
		WorkspaceRoot: rt.Layout.WorkspaceRoot(),
		CacheDir:      rt.Layout.CacheDir(),
		StartTime:     startTime,
	}
	if err := orch.RunSync(ctx, task); err != nil {
		return nil, err
	}
	return contract.ValidateSync(run.Dir, rt.Layout.MemoryRoot())
}

// startHeartbeat refreshes the job lease and the writer lock every tick until
// the returned stop func runs.
func startHeartbeat(rt *app.Runtime, guard *lock.Guard, runID string) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := store.HeartbeatJob(rt.Sessions, runID); err != nil {
					rt.Logger.Warn("job heartbeat failed", "run_id", runID, "err", err)
				}
				if guard != nil {
					if err := guard.Heartbeat(); err != nil {
						rt.Logger.Warn("lock heartbeat failed", "err", err)
					}
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// cycleOutcome maps the counters to the audit status and exit error per the
// 0/1/3 ladder. Nothing attempted is a success.
func cycleOutcome(summary *models.SyncSummary) (models.ServiceRunStatus, error) {
	switch {
	case summary.FailedSessions == 0:
		return models.ServiceRunCompleted, nil
	case summary.ExtractedSessions > 0:
		return models.ServiceRunPartial, models.NewExitError(models.ExitPartial,
			fmt.Errorf("%d of %d sessions failed", summary.FailedSessions,
				summary.FailedSessions+summary.ExtractedSessions))
	case summary.IndexedSessions > 0:
		return models.ServiceRunPartial, models.NewExitError(models.ExitPartial,
			fmt.Errorf("indexed %d sessions but all %d extractions failed",
				summary.IndexedSessions, summary.FailedSessions))
	default:
		return models.ServiceRunFailed, models.NewExitError(models.ExitFatal,
			fmt.Errorf("all %d extractions failed", summary.FailedSessions))
	}
}

// recordAudit appends a service-run row; audit failures are logged, never
// fatal.
func recordAudit(rt *app.Runtime, jobType string, status models.ServiceRunStatus, started time.Time, trigger string, details map[string]any) {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = nil
	}
	completed := time.Now().UTC()
	_, err = store.RecordServiceRun(rt.Sessions, &models.ServiceRun{
		JobType:     jobType,
		Status:      status,
		StartedAt:   started,
		CompletedAt: &completed,
		Trigger:     trigger,
		Details:     raw,
	})
	if err != nil {
		rt.Logger.Warn("service run audit failed", "job_type", jobType, "err", err)
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
