package commands

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/server"
)

// shutdownGrace bounds how long in-flight requests may run after a signal.
const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, dashboard, and scheduler in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				if host != "" {
					rt.Config.Server.Host = host
				}
				if port != 0 {
					rt.Config.Server.Port = port
				}

				srv, err := server.New(rt)
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				worker := newWorker(rt, "daemon")
				worker.Start(ctx)

				addr := fmt.Sprintf("%s:%d", rt.Config.Server.Host, rt.Config.Server.Port)
				httpSrv := &http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second}

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Serve(httpSrv) }()

				rt.Logger.Info("serving", "addr", addr)
				if !jsonMode(cmd) {
					color.Green("lerim serving on http://%s", addr)
				}

				select {
				case err := <-errCh:
					worker.Stop()
					return err
				case <-ctx.Done():
				}

				rt.Logger.Info("shutting down")
				worker.Stop()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					return err
				}
				return <-errCh
			})
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind address (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (default from config)")

	return cmd
}

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print the dashboard URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				url := fmt.Sprintf("http://%s:%d/dashboard/", rt.Config.Server.Host, rt.Config.Server.Port)
				if jsonMode(cmd) {
					type resp struct {
						URL string `json:"url"`
					}
					return printJSON(resp{URL: url})
				}
				fmt.Println(url)
				return nil
			})
		},
	}
}
