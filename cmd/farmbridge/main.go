// Command farmbridge subscribes to farm sensor topics on an MQTT broker and
// appends every reading to a CSV file.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"farmbridge/internal/bridge"
	"farmbridge/internal/broker"
	"farmbridge/internal/config"
	"farmbridge/internal/logging"
)

var version = "dev"

func main() {
	// Allow all levels; filtering is done by ComponentFilterHandler.
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filter := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filter)
	broker.InstallLogger(logger)

	if err := newRootCmd(logger, filter).Execute(); err != nil {
		os.Exit(bridge.ExitCode(err))
	}
}

func newRootCmd(logger *slog.Logger, filter *logging.ComponentFilterHandler) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "farmbridge",
		Short:        "MQTT sensor telemetry bridge",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML config file overlaying environment settings")
	rootCmd.PersistentFlags().String("broker", "", "broker host (env "+config.EnvBroker+")")
	rootCmd.PersistentFlags().Int("port", 0, "broker port (env "+config.EnvPort+")")
	rootCmd.PersistentFlags().String("topic", "", "topic pattern (env "+config.EnvTopic+")")
	rootCmd.PersistentFlags().String("client-id", "", "MQTT client id (env "+config.EnvClientID+")")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (env "+config.EnvLogLevel+")")
	rootCmd.PersistentFlags().StringSlice("log-component", nil, "per-component log level, e.g. paho=debug (repeatable)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(newRunCmd(logger, filter), newSimulateCmd(logger, filter), versionCmd)
	return rootCmd
}

// loadConfig builds the configuration with precedence
// flags > YAML file > environment > defaults, and applies log levels.
func loadConfig(cmd *cobra.Command, filter *logging.ComponentFilterHandler) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := overlayFlags(cmd, &cfg); err != nil {
		return cfg, err
	}
	if err := applyLogLevels(cmd, cfg.LogLevel, filter); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// overlayFlags copies explicitly set flags onto cfg.
func overlayFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("broker") {
		cfg.Broker.Host, err = flags.GetString("broker")
	}
	if err == nil && flags.Changed("port") {
		cfg.Broker.Port, err = flags.GetInt("port")
	}
	if err == nil && flags.Changed("topic") {
		cfg.Broker.Topic, err = flags.GetString("topic")
	}
	if err == nil && flags.Changed("client-id") {
		cfg.Broker.ClientID, err = flags.GetString("client-id")
	}
	if err == nil && flags.Changed("log-level") {
		cfg.LogLevel, err = flags.GetString("log-level")
	}
	if err == nil && flags.Lookup("out") != nil && flags.Changed("out") {
		cfg.Output.CSVPath, err = flags.GetString("out")
	}
	if err == nil && flags.Lookup("metrics-addr") != nil && flags.Changed("metrics-addr") {
		cfg.MetricsAddr, err = flags.GetString("metrics-addr")
	}
	return err
}

func applyLogLevels(cmd *cobra.Command, level string, filter *logging.ComponentFilterHandler) error {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	filter.SetDefaultLevel(lvl)

	overrides, _ := cmd.Flags().GetStringSlice("log-component")
	for _, o := range overrides {
		name, value, ok := strings.Cut(o, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid --log-component %q, expected name=level", o)
		}
		l, err := logging.ParseLevel(value)
		if err != nil {
			return fmt.Errorf("--log-component %s: %w", name, err)
		}
		filter.SetLevel(name, l)
	}
	return nil
}
