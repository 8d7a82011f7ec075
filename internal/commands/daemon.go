package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/daemon"
	"github.com/dotcommander/lerim/internal/pipeline"
)

func newDaemonCmd() *cobra.Command {
	var (
		once        bool
		pollSeconds int
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the background sync/maintain scheduler in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				w := newWorker(rt, "daemon")
				if pollSeconds > 0 {
					d := time.Duration(pollSeconds) * time.Second
					w.SyncInterval = d
					w.MaintainInterval = d
				}

				if once {
					return w.RunOnce(ctx)
				}

				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				w.Start(ctx)
				<-ctx.Done()
				w.Stop()
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run one sync and one maintain cycle, then exit")
	cmd.Flags().IntVar(&pollSeconds, "poll-seconds", 0, "Override both cycle intervals, in seconds")

	return cmd
}

// newWorker builds the scheduler over the two pipelines. Cycle errors are
// logged by the worker; the daemon never dies from a bad cycle.
func newWorker(rt *app.Runtime, trigger string) *daemon.Worker {
	syncCycle := func(ctx context.Context) error {
		_, err := pipeline.Sync(ctx, rt, pipeline.SyncOptions{Trigger: trigger})
		return err
	}
	maintainCycle := func(ctx context.Context) error {
		_, err := pipeline.Maintain(ctx, rt, pipeline.MaintainOptions{Trigger: trigger})
		return err
	}
	return daemon.New(
		rt.Config.Daemon.SyncIntervalMinutes,
		rt.Config.Daemon.MaintainIntervalMinutes,
		syncCycle,
		maintainCycle,
		rt.Logger,
	)
}
