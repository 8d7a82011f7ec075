package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/actions"
	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/models"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage registered project roots",
	}
	cmd.AddCommand(newProjectAddCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectRemoveCmd())
	return cmd
}

func newProjectAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>",
		Short: "Register a project directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				p, err := actions.ProjectAdd(rt, args[0])
				if err != nil {
					return err
				}
				if jsonMode(cmd) {
					return printJSON(p)
				}
				fmt.Printf("added %s (%s)\n", p.Name, p.Path)
				return nil
			})
		},
	}
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				projects := actions.ProjectList(rt)
				if jsonMode(cmd) {
					type resp struct {
						Projects []models.Project `json:"projects"`
					}
					return printJSON(resp{Projects: projects})
				}
				if len(projects) == 0 {
					fmt.Println("no projects registered")
					return nil
				}
				for _, p := range projects {
					fmt.Printf("%-20s %s\n", p.Name, p.Path)
				}
				return nil
			})
		},
	}
}

func newProjectRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Unregister a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				if err := actions.ProjectRemove(rt, args[0]); err != nil {
					return err
				}
				if jsonMode(cmd) {
					type resp struct {
						Removed string `json:"removed"`
					}
					return printJSON(resp{Removed: args[0]})
				}
				fmt.Println("removed", args[0])
				return nil
			})
		},
	}
}
