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

func newMaintainCmd() *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Merge, archive, and decay the memory tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary *models.MaintainSummary
			runErr := withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				s, err := pipeline.Maintain(ctx, rt, pipeline.MaintainOptions{
					DryRun:     dryRun,
					IgnoreLock: force,
					Trigger:    "cli",
				})
				summary = s
				return err
			})

			if summary != nil {
				if jsonMode(cmd) {
					_ = printJSON(summary)
				} else {
					printMaintainSummary(summary)
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what maintenance would do, change nothing")
	cmd.Flags().BoolVar(&force, "force", false, "Run even when the writer lock is held")

	return cmd
}

func printMaintainSummary(s *models.MaintainSummary) {
	if s.DryRun {
		fmt.Println("dry run: no changes made")
		return
	}
	c := s.Counts
	fmt.Printf("merged %d, archived %d, consolidated %d, decayed %d, unchanged %d\n",
		c.Merged, c.Archived, c.Consolidated, c.Decayed, c.Unchanged)
	if c.Merged+c.Archived+c.Consolidated+c.Decayed == 0 {
		color.Green("memory tree is healthy")
	}
}
