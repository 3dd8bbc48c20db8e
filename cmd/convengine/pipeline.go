package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/aretw0/convengine/internal/cli"
	"github.com/aretw0/convengine/internal/config"
	"github.com/spf13/cobra"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Print the compiled step order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(_ context.Context, rt *cli.Runtime, _ *config.Config, _ *slog.Logger) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSTEP\tFLAGS\tAFTER\tBEFORE")
			for i, info := range rt.Engine.Describe() {
				var flags []string
				if info.Bootstrap {
					flags = append(flags, "bootstrap")
				}
				if info.Terminal {
					flags = append(flags, "terminal")
				}
				if info.RequiresPriorState {
					flags = append(flags, "prior-state")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, info.Name,
					dash(strings.Join(flags, ",")),
					dash(strings.Join(info.RunsAfter, ",")),
					dash(strings.Join(info.RunsBefore, ",")))
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
