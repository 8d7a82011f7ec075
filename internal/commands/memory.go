package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/actions"
	"github.com/dotcommander/lerim/internal/app"
	"github.com/dotcommander/lerim/internal/memory"
	"github.com/dotcommander/lerim/internal/paths"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Query and manage the memory tree",
	}
	cmd.AddCommand(newMemorySearchCmd())
	cmd.AddCommand(newMemoryListCmd())
	cmd.AddCommand(newMemoryAddCmd())
	cmd.AddCommand(newMemoryExportCmd())
	cmd.AddCommand(newMemoryResetCmd())
	return cmd
}

func newMemorySearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories by keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				entries, err := actions.MemorySearch(rt, args[0], actions.MemoryListOptions{Limit: limit})
				if err != nil {
					return err
				}
				return printEntries(cmd, entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Max results")
	return cmd
}

func newMemoryListCmd() *cobra.Command {
	var (
		limit     int
		primitive string
		state     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				entries, err := actions.MemoryList(rt, actions.MemoryListOptions{
					Primitive: primitive,
					State:     state,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				return printEntries(cmd, entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results (0 = all)")
	cmd.Flags().StringVar(&primitive, "primitive", "", "Filter by primitive (decision|learning|summary)")
	cmd.Flags().StringVar(&state, "state", "active", "active, archived, or all")
	return cmd
}

func printEntries(cmd *cobra.Command, entries []memory.Entry) error {
	if jsonMode(cmd) {
		type resp struct {
			Count    int            `json:"count"`
			Memories []memory.Entry `json:"memories"`
		}
		return printJSON(resp{Count: len(entries), Memories: entries})
	}
	if len(entries) == 0 {
		fmt.Println("no memories found")
		return nil
	}
	for _, e := range entries {
		marker := " "
		if e.Archived {
			marker = color.YellowString("a")
		}
		fmt.Printf("%s %-9s %s  %s\n", marker, e.Primitive, e.ID, e.Title)
	}
	return nil
}

func newMemoryAddCmd() *cobra.Command {
	var req actions.MemoryAddRequest

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Write a memory by hand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Title == "" {
				return cmdErr(usageErr("--title is required"))
			}
			if req.Body == "" {
				return cmdErr(usageErr("--body is required"))
			}
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				entry, err := actions.MemoryAdd(rt, req)
				if err != nil {
					return err
				}
				if jsonMode(cmd) {
					return printJSON(entry)
				}
				color.Green("wrote %s", entry.Path)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "Memory title (required)")
	cmd.Flags().StringVar(&req.Body, "body", "", "Markdown body (required)")
	cmd.Flags().StringVar(&req.Primitive, "primitive", "learning", "decision or learning")
	cmd.Flags().StringVar(&req.Kind, "kind", "", "Learning kind (insight|procedure|friction|pitfall|preference)")
	cmd.Flags().Float64Var(&req.Confidence, "confidence", 0, "Confidence in [0,1]")
	cmd.Flags().StringSliceVar(&req.Tags, "tags", nil, "Tags")

	return cmd
}

func newMemoryExportCmd() *cobra.Command {
	var (
		format  string
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the memory tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				data, err := actions.MemoryExport(rt, format)
				if err != nil {
					return err
				}
				if outPath != "" {
					if err := os.WriteFile(outPath, data, 0o644); err != nil {
						return err
					}
					if !jsonMode(cmd) {
						fmt.Println("exported to", outPath)
					}
					return nil
				}
				_, err = os.Stdout.Write(data)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or markdown")
	cmd.Flags().StringVar(&outPath, "output", "", "Write to file instead of stdout")
	return cmd
}

func newMemoryResetCmd() *cobra.Command {
	var (
		scope string
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the memory tree (irreversible)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return cmdErr(usageErr("refusing to reset without --yes"))
			}
			roots, err := resetRoots(cmd, scope)
			if err != nil {
				return cmdErr(err)
			}
			for _, root := range roots {
				if err := memory.Reset(paths.NewLayout(root).MemoryRoot()); err != nil {
					return cmdErr(err)
				}
			}
			if jsonMode(cmd) {
				type resp struct {
					Reset []string `json:"reset"`
				}
				return printJSON(resp{Reset: roots})
			}
			for _, root := range roots {
				fmt.Println("reset", root)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "project, global, or both (required)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

// resetRoots resolves the data roots named by --scope. An explicit --root
// override wins regardless of scope.
func resetRoots(cmd *cobra.Command, scope string) ([]string, error) {
	if override, _ := cmd.Flags().GetString("root"); override != "" {
		return []string{override}, nil
	}

	var roots []string
	if scope == "global" || scope == "both" {
		global, err := paths.GlobalRoot()
		if err != nil {
			return nil, err
		}
		roots = append(roots, global)
	}
	if scope == "project" || scope == "both" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		project, ok := paths.ProjectRoot(wd)
		if !ok {
			return nil, usageErr("not inside a git repository; no project scope to reset")
		}
		roots = append(roots, project)
	}
	if len(roots) == 0 {
		return nil, usageErr("--scope must be project, global, or both")
	}
	return roots, nil
}
