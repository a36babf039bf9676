package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"safeguard/internal/config"
	"safeguard/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "safeguard",
		Short:         "Telemetry risk scoring and alerting engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("SAFEGUARD_CONFIG"), "path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log_level from the config")

	root.AddCommand(
		newServeCmd(flags),
		newTrainCmd(flags),
		newScoreCmd(flags),
		newZonesCmd(flags),
	)
	return root
}

func (f *globalFlags) manager() (*config.Manager, error) {
	return config.NewManager(config.ResolvePath(f.configPath))
}

func (f *globalFlags) logger(cfg *config.Config) *slog.Logger {
	level := cfg.LogLevel
	if f.logLevel != "" {
		level = f.logLevel
	}
	logger := logging.NewLogger(level, cfg.LogFormat)
	slog.SetDefault(logger)
	return logger
}
