package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/pipeline"
)

func newSyncCmd() *cobra.Command {
	var (
		runID       string
		agents      []string
		window      string
		since       string
		until       string
		maxSessions int
		noExtract   bool
		force       bool
		dryRun      bool
		ignoreLock  bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Discover, index, and extract memory from recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceT, err := parseTimeFlag(since)
			if err != nil {
				return cmdErr(usageErr("--since: %v", err))
			}
			untilT, err := parseTimeFlag(until)
			if err != nil {
				return cmdErr(usageErr("--until: %v", err))
			}

			var summary *models.SyncSummary
			runErr := withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				s, err := pipeline.Sync(ctx, rt, pipeline.SyncOptions{
					RunID:       runID,
					Platforms:   agents,
					Window:      window,
					Since:       sinceT,
					Until:       untilT,
					MaxSessions: maxSessions,
					NoExtract:   noExtract,
					Force:       force,
					DryRun:      dryRun,
					IgnoreLock:  ignoreLock,
					Trigger:     "cli",
				})
				summary = s
				return err
			})

			if summary != nil {
				if jsonMode(cmd) {
					_ = printJSON(summary)
				} else {
					printSyncSummary(summary, dryRun)
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Sync one session by run id")
	cmd.Flags().StringSliceVar(&agents, "agent", nil, "Restrict discovery to these platforms")
	cmd.Flags().StringVar(&window, "window", "", "Discovery window, e.g. 24h, 7d, or all")
	cmd.Flags().StringVar(&since, "since", "", "Discovery lower bound (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "Discovery upper bound (default: now)")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "Cap extracted sessions this cycle")
	cmd.Flags().BoolVar(&noExtract, "no-extract", false, "Index and enqueue only, no extraction")
	cmd.Flags().BoolVar(&force, "force", false, "Re-extract even when content is unchanged")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Enumerate what a cycle would do, write nothing")
	cmd.Flags().BoolVar(&ignoreLock, "ignore-lock", false, "Skip the writer lock (single-process use only)")

	return cmd
}

func printSyncSummary(s *models.SyncSummary, dryRun bool) {
	if dryRun {
		fmt.Printf("dry run: %d session(s) would be indexed\n", s.IndexedSessions)
		return
	}
	fmt.Printf("indexed %d, extracted %d, skipped %d\n", s.IndexedSessions, s.ExtractedSessions, s.SkippedSessions)
	if s.LearningsNew+s.LearningsUpdated > 0 {
		color.Green("memories: %d new, %d updated", s.LearningsNew, s.LearningsUpdated)
	}
	if s.FailedSessions > 0 {
		color.Red("failed: %d", s.FailedSessions)
	}
}
