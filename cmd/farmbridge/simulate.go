package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"farmbridge/internal/broker"
	"farmbridge/internal/config"
	"farmbridge/internal/logging"
	"farmbridge/internal/simulator"
)

func newSimulateCmd(logger *slog.Logger, filter *logging.ComponentFilterHandler) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish synthetic sensor readings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, filter)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			flags := cmd.Flags()
			interval, _ := flags.GetDuration("interval")
			count, _ := flags.GetInt("count")
			mixed, _ := flags.GetBool("mixed")
			sensors, _ := flags.GetStringSlice("sensor")
			stdout, _ := flags.GetBool("stdout")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			simCfg := simulator.Config{
				Namespace: cfg.Broker.Namespace(),
				Sensors:   sensors,
				Interval:  interval,
				Count:     count,
				Mixed:     mixed,
				QoS:       byte(cfg.Broker.QoS),
				Logger:    logger,
			}
			if stdout {
				return simulator.New(&simulator.WriterPublisher{W: os.Stdout}, simCfg).Run(ctx)
			}
			return simulate(ctx, logger, cfg, simCfg)
		},
	}
	cmd.Flags().Duration("interval", 5*time.Second, "time between readings")
	cmd.Flags().Int("count", 0, "stop after this many readings (0 = until interrupted)")
	cmd.Flags().Bool("mixed", false, "alternate JSON and comma-delimited payloads")
	cmd.Flags().StringSlice("sensor", nil, "sensor ids to simulate (default sim-01)")
	cmd.Flags().Bool("stdout", false, "print payloads instead of publishing")
	return cmd
}

func simulate(ctx context.Context, logger *slog.Logger, cfg config.Config, simCfg simulator.Config) error {
	t, err := broker.New(broker.Config{
		URL:       cfg.Broker.BrokerURL(),
		ClientID:  simulator.ClientID(cfg.Broker.ClientID),
		Username:  cfg.Broker.Username,
		Password:  cfg.Broker.Password,
		TLS:       cfg.Broker.TLS,
		KeepAlive: cfg.Broker.KeepAlive.D(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := t.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Broker.BrokerURL(), err)
	}
	defer t.Disconnect(250 * time.Millisecond)

	return simulator.New(t, simCfg).Run(ctx)
}
