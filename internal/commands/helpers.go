package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/output"
)

// changedFlags lists the flag names the user explicitly set, for debug logs.
func changedFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.Visit(func(f *pflag.Flag) { names = append(names, f.Name) })
	return names
}

// printedError wraps an error that has already been reported to the user,
// so Execute doesn't print it a second time.
type printedError struct {
	err error
}

func (e printedError) Error() string { return e.err.Error() }

func (e printedError) Unwrap() error { return e.err }

// cmdErr logs the error once and marks it printed. The original error stays
// reachable through Unwrap so exit-code mapping still sees it.
func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	slog.Error("command error", "error", err.Error())
	return printedError{err: err}
}

// withRuntime builds the composition root from the global flags, runs fn,
// and releases everything afterwards.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *app.Runtime) error) error {
	root, _ := cmd.Flags().GetString("root")
	configPath, _ := cmd.Flags().GetString("config")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := app.New(ctx, app.Options{
		Root:       root,
		ConfigPath: configPath,
		Version:    buildVersion,
	})
	if err != nil {
		return cmdErr(err)
	}
	defer func() { _ = rt.Close() }()

	if err := fn(ctx, rt); err != nil {
		return cmdErr(err)
	}
	return nil
}

// jsonMode reports whether the global --json flag is set.
func jsonMode(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// printJSON emits the stable envelope. Non-JSON callers format their own
// human output and skip this.
func printJSON(data any) error {
	return output.PrintSuccess(data)
}

// parseTimeFlag accepts RFC 3339 or a bare date.
func parseTimeFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			utc := ts.UTC()
			return &utc, nil
		}
	}
	return nil, errors.New("time must be RFC 3339 or YYYY-MM-DD")
}
