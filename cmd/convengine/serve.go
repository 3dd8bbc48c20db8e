package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/aretw0/convengine/internal/cli"
	"github.com/aretw0/convengine/internal/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts the engine behind a JSON API. Turns, pipeline metadata, audit stats and Prometheus metrics are exposed over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime, cfg *config.Config, logger *slog.Logger) error {
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				cfg.Server.Addr = v
			}
			if err := rt.WatchRules(ctx); err != nil {
				return fmt.Errorf("failed to watch rules: %w", err)
			}

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return err
			}
			srv := cli.NewHTTPServer(rt, cfg.Server.Addr, logger)
			return cli.Serve(ctx, srv, ln, cfg.Server.ShutdownTimeout, logger)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address, overrides server.addr")
}
