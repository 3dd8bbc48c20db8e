package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/convengine"
	"github.com/aretw0/convengine/internal/cli"
	"github.com/aretw0/convengine/internal/config"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/aretw0/convengine/pkg/rules"
	"github.com/spf13/cobra"
)

var turnCmd = &cobra.Command{
	Use:   "turn <text>",
	Short: "Process a single turn",
	Long: `Processes one message and prints the result. Use a persistent store
(redis or sqlite) and --conversation to continue a conversation across invocations.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("conversation")
		raw, _ := cmd.Flags().GetStringArray("param")
		asJSON, _ := cmd.Flags().GetBool("json")

		params, err := parseParams(raw)
		if err != nil {
			return err
		}

		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime, _ *config.Config, _ *slog.Logger) error {
			res, err := rt.Engine.Process(ctx, ports.Turn{
				ConversationID: id,
				Text:           strings.Join(args, " "),
				InputParams:    params,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Fprintf(out, "conversation: %s\n", res.ConversationID)
			fmt.Fprintln(out, convengine.RenderResult(res))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(turnCmd)
	turnCmd.Flags().StringP("conversation", "c", "", "Conversation ID (blank starts a new conversation)")
	turnCmd.Flags().StringArrayP("param", "p", nil, "Input parameter as key:value (repeatable)")
	turnCmd.Flags().Bool("json", false, "Print the full result as JSON")
}

// parseParams decodes key:value flags with the same coercion rules use for
// SET_INPUT_PARAM values.
func parseParams(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(raw))
	for _, r := range raw {
		assignments, err := rules.ParseAssignments(r)
		if err != nil {
			return nil, fmt.Errorf("invalid --param %q: %w", r, err)
		}
		for _, a := range assignments {
			params[a.Key] = a.Value
		}
	}
	return params, nil
}
