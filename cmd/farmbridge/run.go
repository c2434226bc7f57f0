package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"farmbridge/internal/bridge"
	"farmbridge/internal/config"
	"farmbridge/internal/logging"
)

func newRunCmd(logger *slog.Logger, filter *logging.ComponentFilterHandler) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, filter)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, logger, cfg)
		},
	}
	cmd.Flags().String("out", "", "CSV output path (env "+config.EnvOutCSV+")")
	cmd.Flags().String("metrics-addr", "", "serve /metrics on this address (env "+config.EnvMetricsAddr+")")
	return cmd
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	b, err := bridge.New(cfg, logger)
	if err != nil {
		return err
	}
	return b.Run(ctx)
}
