// Package commands wires the CLI surface onto the shared action and
// pipeline layers.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/models"
	"github.com/dotcommander/lerim/internal/output"
)

// buildVersion is the ldflags-injected version, captured by Execute for the
// commands that report it.
var buildVersion = "dev"

// Execute runs the CLI and returns the process exit code: 0 ok, 1 fatal,
// 2 usage, 3 partial, 4 lock busy.
func Execute(version string) int {
	setupLogging(os.Args[1:])

	root := newRootCmd(version)
	err := root.Execute()
	if err == nil {
		return models.ExitOK
	}

	var pe printedError
	if !errors.As(err, &pe) {
		slog.Error("command failed", "error", err.Error())
		if jsonMode(root) {
			_ = output.PrintError(err)
		}
	}
	return models.ExitCode(err)
}

func newRootCmd(version string) *cobra.Command {
	buildVersion = version

	root := &cobra.Command{
		Use:           "lerim",
		Short:         "Continual-learning memory for coding-agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if show, _ := cmd.Flags().GetBool("version"); show {
				if jsonMode(cmd) {
					type resp struct {
						Version string `json:"version"`
					}
					return printJSON(resp{Version: version})
				}
				fmt.Println("lerim", version)
				return nil
			}
			return cmd.Help()
		},
	}

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		slog.Debug("invoking", "command", cmd.Name(), "flags", changedFlags(cmd.Flags()))
	}

	root.PersistentFlags().Bool("json", false, "Emit structured JSON on stdout")
	root.PersistentFlags().String("root", "", "Override the data root directory")
	root.PersistentFlags().String("config", "", "Override config file path (same as LERIM_CONFIG)")
	root.Flags().BoolP("version", "v", false, "Print the version")

	// Flag-parse failures are usage errors.
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return models.NewExitError(models.ExitUsage, err)
	})

	root.AddCommand(newInitCmd())
	root.AddCommand(newConnectCmd())
	root.AddCommand(newProjectCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newMaintainCmd())
	root.AddCommand(newDaemonCmd())
	root.AddCommand(newMemoryCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newUpCmd())
	root.AddCommand(newDownCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newDashboardCmd())

	return root
}

// usageErr marks an argument-validation failure so the process exits 2.
func usageErr(format string, args ...any) error {
	return models.NewExitError(models.ExitUsage, fmt.Errorf(format, args...))
}
