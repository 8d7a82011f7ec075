package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/config"
	"github.com/dotcommander/lerim/internal/paths"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data root and write the default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			if root == "" {
				var err error
				root, err = paths.GlobalRoot()
				if err != nil {
					return cmdErr(err)
				}
			}
			layout := paths.NewLayout(root)
			if err := layout.EnsureTree(); err != nil {
				return cmdErr(err)
			}
			created, err := config.WriteDefault(layout.ConfigPath())
			if err != nil {
				return cmdErr(err)
			}

			if jsonMode(cmd) {
				type resp struct {
					Root    string `json:"root"`
					Config  string `json:"config"`
					Created bool   `json:"created"`
				}
				return printJSON(resp{Root: root, Config: layout.ConfigPath(), Created: created})
			}
			if created {
				color.Green("initialized %s", root)
				fmt.Println("config written to", layout.ConfigPath())
			} else {
				fmt.Println("already initialized; config at", layout.ConfigPath())
			}
			return nil
		},
	}
}
