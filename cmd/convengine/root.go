package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/convengine/internal/cli"
	"github.com/aretw0/convengine/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "convengine",
	Short: "convengine is a rule-driven conversation engine",
	Long: `convengine runs each user message through an ordered pipeline of steps,
evaluates a prioritized rule table against the conversation and audits every decision.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default ./"+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().String("rules", "", "Rules file, overrides rules.file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
}

// loadConfig reads the configuration and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if v, _ := cmd.Flags().GetString("rules"); v != "" {
		cfg.Rules.File = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	logger, err := cli.NewLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withRuntime builds the runtime from configuration, runs fn and closes the
// runtime, draining buffered audit events.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *cli.Runtime, cfg *config.Config, logger *slog.Logger) error) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sc := cli.NewSignalContext(cmd.Context())
	defer sc.Cancel()

	rt, err := cli.NewRuntime(sc, cfg, logger)
	if err != nil {
		return fmt.Errorf("error initializing engine: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := rt.Close(ctx); err != nil {
			logger.Warn("runtime close failed", "error", err)
		}
	}()

	runErr := fn(sc, rt, cfg, logger)
	if sig := sc.Signal(); sig != nil {
		logger.Info("stopped by signal", "signal", sig.String())
	}
	return runErr
}
