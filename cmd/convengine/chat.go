package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aretw0/convengine"
	"github.com/aretw0/convengine/internal/cli"
	"github.com/aretw0/convengine/internal/config"
	"github.com/aretw0/convengine/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long:  `Reads one message per line from stdin and prints each turn result. Type exit or quit to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("conversation")
		headless, _ := cmd.Flags().GetBool("headless")

		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime, _ *config.Config, logger *slog.Logger) error {
			if err := rt.WatchRules(ctx); err != nil {
				return err
			}
			r := &convengine.Runner{
				Input:          os.Stdin,
				Output:         cmd.OutOrStdout(),
				ConversationID: id,
				Headless:       headless,
			}
			if !headless {
				render, err := tui.NewRenderer(cmd.OutOrStdout())
				if err != nil {
					logger.Warn("falling back to plain output", "error", err)
				} else {
					r.Renderer = render
				}
			}
			return r.Run(ctx, rt.Engine)
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("conversation", "c", "", "Conversation ID to continue")
	chatCmd.Flags().Bool("headless", false, "No banner or prompt (for piping)")

	// chat is the default when no command is given.
	rootCmd.RunE = chatCmd.RunE
	rootCmd.Flags().AddFlagSet(chatCmd.Flags())
}
