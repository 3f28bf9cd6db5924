package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/seeder"
	"github.com/telhawk-systems/eventgate/internal/service"
)

var (
	seedURL            string
	seedCount          int
	seedChannel        string
	seedDuplicateRatio float64
	seedInterval       time.Duration
	seedRandom         int64
	seedOutput         string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Post generated events to a running front door",
	Long: `Generate fake subscription or sample events and POST them to eventgate.

Examples:
  # 500 subscription events
  eventgate seed --count 500

  # Samples where a fifth of the requests reuse an earlier event id
  eventgate seed --channel sample --duplicate-ratio 0.2`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringVar(&seedURL, "url", "http://localhost:8088", "front door base URL")
	seedCmd.Flags().IntVarP(&seedCount, "count", "c", 100, "number of events to send")
	seedCmd.Flags().StringVar(&seedChannel, "channel", service.ChannelSubscription, "channel: subscription or sample")
	seedCmd.Flags().Float64Var(&seedDuplicateRatio, "duplicate-ratio", 0, "fraction of events that reuse an earlier event id")
	seedCmd.Flags().DurationVar(&seedInterval, "interval", 0, "delay between requests")
	seedCmd.Flags().Int64Var(&seedRandom, "seed", 0, "random seed (0 = time based)")
	seedCmd.Flags().StringVarP(&seedOutput, "output", "o", "json", "summary format: json or yaml")
}

func runSeed(cmd *cobra.Command, args []string) error {
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), logging.ParseLevel("info"), "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := seeder.NewRunner(seeder.Config{
		URL:            seedURL,
		Channel:        seedChannel,
		Count:          seedCount,
		DuplicateRatio: seedDuplicateRatio,
		Interval:       seedInterval,
		Seed:           seedRandom,
	}, logger)

	summary, err := runner.Run(ctx)
	if summary != nil {
		if perr := printOutput(cmd.OutOrStdout(), seedOutput, summary); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("seeder failed: %w", err)
	}
	return nil
}
