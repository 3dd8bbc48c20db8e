package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/convengine/internal/cli"
	"github.com/aretw0/convengine/internal/config"
	"github.com/aretw0/convengine/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes the engine as an MCP server so agents can hold conversations as tools.

Supported Transports:
- stdio (default): JSON-RPC on stdin/stdout. Logs go to stderr.
- sse: Server-Sent Events over HTTP on --addr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")

		return withRuntime(cmd, func(ctx context.Context, rt *cli.Runtime, cfg *config.Config, logger *slog.Logger) error {
			if err := rt.WatchRules(ctx); err != nil {
				return fmt.Errorf("failed to watch rules: %w", err)
			}
			srv := mcp.NewServer(rt.Engine, mcp.WithLogger(logger))

			switch transport {
			case "stdio":
				logger.Info("mcp server listening on stdio")
				return srv.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			case "sse":
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return err
				}
				httpSrv := &http.Server{
					Handler:           srv.SSEHandler("http://" + ln.Addr().String()),
					ReadHeaderTimeout: 10 * time.Second,
				}
				return cli.Serve(ctx, httpSrv, ln, cfg.Server.ShutdownTimeout, logger)
			default:
				return fmt.Errorf("unknown transport %q (supported: stdio, sse)", transport)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport protocol: stdio or sse")
	mcpCmd.Flags().String("addr", "localhost:8081", "Listen address (sse only)")
}
