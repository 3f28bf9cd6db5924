// Package cli implements the eventgate command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/internal/config"
	"github.com/telhawk-systems/eventgate/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "eventgate",
	Short: "Rate-limited event ingestion gateway",
	Long: `eventgate admits subscription and sample events behind per-IP fixed-window
rate limits and runs each admitted event through a validate, store and
record-metrics pipeline with step-level retries.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/eventgate/config.yaml)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, component string) *logging.Logger {
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("eventgate"), "component", component)
	logging.SetDefault(logger)
	return logger
}

// cliLogger writes to stderr so command output on stdout stays parseable.
func cliLogger(cfg *config.Config) *logging.Logger {
	return logging.NewWithWriter(os.Stderr, logging.ParseLevel(cfg.Logging.Level), "text").
		With(logging.Service("eventgate"), "component", "cli")
}
