package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/actions"
	"github.com/dotcommander/lerim/internal/app"
)

func newConnectCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "connect [platform]",
		Short: "Manage connected session sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runConnectList(cmd, nil)
			}
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				p, err := actions.Connect(rt, args[0], path)
				if err != nil {
					return err
				}
				if jsonMode(cmd) {
					return printJSON(p)
				}
				color.Green("connected %s -> %s", p.Name, p.SourcePath)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Session source directory (default: platform convention)")

	cmd.AddCommand(newConnectListCmd())
	cmd.AddCommand(newConnectAutoCmd())
	cmd.AddCommand(newConnectRemoveCmd())
	return cmd
}

func newConnectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List platforms and their connection state",
		Args:  cobra.NoArgs,
		RunE:  runConnectList,
	}
}

func runConnectList(cmd *cobra.Command, _ []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
		platforms, err := actions.ConnectList(rt)
		if err != nil {
			return err
		}
		if jsonMode(cmd) {
			type resp struct {
				Platforms []actions.PlatformInfo `json:"platforms"`
			}
			return printJSON(resp{Platforms: platforms})
		}
		for _, p := range platforms {
			if p.Connected {
				fmt.Printf("%s %-12s %s (%d sessions)\n", color.GreenString("*"), p.Name, p.SourcePath, p.Sessions)
			} else {
				fmt.Printf("  %-12s not connected (default: %s)\n", p.Name, p.DefaultPath)
			}
		}
		return nil
	})
}

func newConnectAutoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto",
		Short: "Connect every platform whose default location exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				added, err := actions.ConnectAuto(rt)
				if err != nil {
					return err
				}
				if jsonMode(cmd) {
					type resp struct {
						Added int `json:"added"`
					}
					return printJSON(resp{Added: len(added)})
				}
				if len(added) == 0 {
					fmt.Println("nothing new to connect")
					return nil
				}
				for _, p := range added {
					color.Green("connected %s -> %s", p.Name, p.SourcePath)
				}
				return nil
			})
		},
	}
}

func newConnectRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <platform>",
		Short: "Disconnect a platform (indexed sessions stay)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				if err := actions.Disconnect(rt, args[0]); err != nil {
					return err
				}
				if jsonMode(cmd) {
					type resp struct {
						Removed string `json:"removed"`
					}
					return printJSON(resp{Removed: args[0]})
				}
				fmt.Println("disconnected", args[0])
				return nil
			})
		},
	}
}
