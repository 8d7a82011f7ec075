package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/dotcommander/lerim/internal/access"
	"github.com/dotcommander/lerim/internal/agent"
	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/contract"
	"github.com/dotcommander/lerim/internal/lock"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/telemetry"
	"github.com/dotcommander/lerim/internal/workspace"
)

// MaintainOptions are the knobs of one maintenance cycle.
type MaintainOptions struct {
	// DryRun records an audit row and returns without locking or invoking
	// the agent.
	DryRun bool
	// IgnoreLock skips writer-lock acquisition.
	IgnoreLock bool
	Trigger    string
}

// Maintain runs one maintenance cycle: lock, agent run over the memory tree
// with current access statistics, then contract validation of the action
// report.
func Maintain(ctx context.Context, rt *app.Runtime, opts MaintainOptions) (*models.MaintainSummary, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.maintain")
	defer span.End()

	logger := rt.Logger.With("component", "maintain", "trigger", opts.Trigger)
	started := time.Now().UTC()
	memoryRoot := rt.Layout.MemoryRoot()
	workspaceRoot := rt.Layout.WorkspaceRoot()

	if opts.DryRun {
		recordAudit(rt, models.ServiceJobMaintain, models.ServiceRunCompleted, started, opts.Trigger,
			map[string]any{"dry_run": true})
		return &models.MaintainSummary{
			MemoryRoot:    memoryRoot,
			WorkspaceRoot: workspaceRoot,
			DryRun:        true,
		}, nil
	}

	if !opts.IgnoreLock {
		guard, err := lock.Acquire(rt.Layout.WriterLockPath(), "maintain", "lerim maintain", lock.Options{})
		if errors.Is(err, models.ErrLockBusy) {
			logger.Warn("writer lock busy, skipping cycle", "err", err)
			rt.Metrics.SyncCycles.WithLabelValues(string(models.ServiceRunLockBusy)).Inc()
			recordAudit(rt, models.ServiceJobMaintain, models.ServiceRunLockBusy, started, opts.Trigger, nil)
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		defer guard.Release()
	}

	stats, err := rt.Tracker.Stats(memoryRoot)
	if err != nil {
		return nil, err
	}

	run, err := workspace.NewRun(workspaceRoot, "maintain", map[string]any{"trigger": opts.Trigger})
	if err != nil {
		return nil, err
	}

	orch, err := rt.Orchestrator()
	if err != nil {
		return nil, err
	}
	task := agent.MaintainTask{
		Run:           run,
		MemoryRoot:    memoryRoot,
		WorkspaceRoot: workspaceRoot,
		AccessStats:   stats,
		Policy: access.Policy{
			DecayDays: rt.Config.Memory.DecayDays,
			MinFloor:  rt.Config.Memory.MinFloor,
			GraceDays: rt.Config.Memory.GraceDays,
		},
	}
	if err := orch.RunMaintain(ctx, task); err != nil {
		rt.Metrics.SyncCycles.WithLabelValues(string(models.ServiceRunFailed)).Inc()
		recordAudit(rt, models.ServiceJobMaintain, models.ServiceRunFailed, started, opts.Trigger,
			map[string]any{"error": err.Error()})
		return nil, err
	}

	res, err := contract.ValidateMaintain(run.Dir, memoryRoot)
	if err != nil {
		rt.Metrics.SyncCycles.WithLabelValues(string(models.ServiceRunFailed)).Inc()
		recordAudit(rt, models.ServiceJobMaintain, models.ServiceRunFailed, started, opts.Trigger,
			map[string]any{"error": err.Error()})
		return nil, err
	}

	summary := &models.MaintainSummary{
		MemoryRoot:    memoryRoot,
		WorkspaceRoot: workspaceRoot,
		RunFolder:     run.Dir,
		Artifacts:     runArtifacts(run),
		Counts:        res.Counts,
	}

	rt.Metrics.SyncCycles.WithLabelValues(string(models.ServiceRunCompleted)).Inc()
	recordAudit(rt, models.ServiceJobMaintain, models.ServiceRunCompleted, started, opts.Trigger,
		map[string]any{"summary": summary})
	logger.Info("maintain cycle finished",
		"merged", res.Counts.Merged,
		"archived", res.Counts.Archived,
		"consolidated", res.Counts.Consolidated,
		"decayed", res.Counts.Decayed,
		"unchanged", res.Counts.Unchanged)
	return summary, nil
}

// runArtifacts lists which well-known artifacts this run left behind.
func runArtifacts(run *workspace.Run) []string {
	var out []string
	for _, name := range []string{
		workspace.ArtifactMaintain,
		workspace.AgentLogName,
		workspace.SubagentsLogName,
		workspace.SessionLogName,
	} {
		if run.HasArtifact(name) {
			out = append(out, name)
		}
	}
	return out
}
