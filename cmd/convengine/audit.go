package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/aretw0/convengine/internal/cli"
	"github.com/aretw0/convengine/internal/config"
	"github.com/aretw0/convengine/pkg/adapters/sqlite"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect persisted audit events",
}

var auditListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List audit events stored in sqlite",
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, _ := cmd.Flags().GetString("conversation")
		stage, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")
		verbose, _ := cmd.Flags().GetBool("verbose")

		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime, _ *config.Config, _ *slog.Logger) error {
			if rt.DB == nil {
				return errors.New("no sqlite database configured (set sqlite.path and audit.sqlite)")
			}
			events, err := rt.DB.Audit().Query(ctx, sqlite.AuditQuery{
				ConversationID: conv,
				Stage:          stage,
				Limit:          limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tCONVERSATION\tSTAGE\tPAYLOAD")
			for _, e := range events {
				payload := "-"
				if verbose {
					b, _ := json.Marshal(e.Payload)
					payload = string(b)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.ConversationID, e.Stage, payload)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditListCmd.Flags().StringP("conversation", "c", "", "Filter by conversation ID")
	auditListCmd.Flags().String("stage", "", "Filter by stage")
	auditListCmd.Flags().Int("limit", 100, "Maximum number of events")
	auditListCmd.Flags().BoolP("verbose", "v", false, "Print payloads")
}
