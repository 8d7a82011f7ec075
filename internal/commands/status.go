package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/actions"
	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/models"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog, queue, and registry state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				report, err := actions.Status(rt)
				if err != nil {
					return err
				}
				if jsonMode(cmd) {
					return printJSON(report)
				}
				printStatus(report)
				return nil
			})
		},
	}
}

func printStatus(r *actions.StatusReport) {
	fmt.Println("root:      ", r.Root)
	fmt.Println("sessions:  ", r.Sessions)
	fmt.Println("memories:  ", r.ActiveMemories)

	fmt.Print("queue:      ")
	for i, status := range models.AllJobStatuses() {
		if i > 0 {
			fmt.Print("  ")
		}
		n := r.Queue[status]
		label := fmt.Sprintf("%s=%d", status, n)
		switch {
		case status == models.JobStatusDeadLetter && n > 0:
			fmt.Print(color.RedString(label))
		case status == models.JobStatusFailed && n > 0:
			fmt.Print(color.YellowString(label))
		default:
			fmt.Print(label)
		}
	}
	fmt.Println()

	if len(r.Platforms) == 0 {
		fmt.Println("platforms:  none connected (run `lerim connect auto`)")
	} else {
		for _, p := range r.Platforms {
			fmt.Printf("platform:   %s -> %s\n", p.Name, p.SourcePath)
		}
	}
	for _, p := range r.Projects {
		fmt.Printf("project:    %s (%s)\n", p.Name, p.Path)
	}

	printServiceRun("last sync", r.LastSync)
	printServiceRun("last maintain", r.LastMaintain)

	if r.SchemaCurrent != r.SchemaLatest {
		color.Yellow("schema:     %d (latest %d), run any command to migrate", r.SchemaCurrent, r.SchemaLatest)
	}
}

func printServiceRun(label string, run *models.ServiceRun) {
	if run == nil {
		fmt.Printf("%-14s never\n", label+":")
		return
	}
	status := string(run.Status)
	switch run.Status {
	case models.ServiceRunCompleted:
		status = color.GreenString(status)
	case models.ServiceRunFailed, models.ServiceRunLockBusy:
		status = color.RedString(status)
	case models.ServiceRunPartial:
		status = color.YellowString(status)
	}
	fmt.Printf("%-14s %s at %s (%s)\n", label+":", status, run.StartedAt.Format("2006-01-02 15:04:05"), run.Trigger)
}
