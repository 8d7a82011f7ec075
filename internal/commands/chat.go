package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/actions"
	"github.com/dotcommander/lerim/internal/app"
)

func newChatCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "chat <question>",
		Short: "Ask a question over the accumulated memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withRuntime(cmd, func(ctx context.Context, rt *app.Runtime) error {
				answer, err := actions.Chat(ctx, rt, question, limit)
				if err != nil {
					return err
				}
				if jsonMode(cmd) {
					type resp struct {
						Answer string `json:"answer"`
					}
					return printJSON(resp{Answer: answer})
				}
				fmt.Println(answer)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Max memories to consider")
	return cmd
}
