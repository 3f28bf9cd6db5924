package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/internal/dispatch"
	"github.com/telhawk-systems/eventgate/internal/handlers"
	"github.com/telhawk-systems/eventgate/internal/messaging"
	"github.com/telhawk-systems/eventgate/internal/server"

	natsclient "github.com/telhawk-systems/eventgate/internal/messaging/nats"
)

var workerPort int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume admitted events from JetStream",
	Long: `Run pipelines for events published by 'eventgate serve'. Redeliveries carry
retry_attempt = deliveries - 1; the final failed delivery is dead-lettered.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVar(&workerPort, "port", 9090, "port for /metrics, health and run lookups")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.NATS.Enabled {
		return errors.New("worker requires nats.enabled=true")
	}
	logger := newLogger(cfg, "worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connectNATS(ctx); err != nil {
		return err
	}

	consumerCfg := natsclient.DefaultConsumerConfig(cfg.NATS.Consumer, messaging.SubjectIngestAll)
	consumerCfg.AckWait = cfg.NATS.AckWait
	consumerCfg.MaxDeliver = cfg.NATS.MaxDeliver
	if _, err := a.js.CreateOrUpdateConsumer(ctx, cfg.NATS.Stream, consumerCfg); err != nil {
		return err
	}

	worker := dispatch.NewWorker(a.pipeline, a.dlq, cfg.NATS.MaxDeliver, logger)
	stop, err := worker.Start(ctx, a.js, cfg.NATS.Stream, cfg.NATS.Consumer, cfg.NATS.NakDelay)
	if err != nil {
		return err
	}
	a.onClose(stop)

	logger.Info("worker consuming",
		"stream", cfg.NATS.Stream,
		"consumer", cfg.NATS.Consumer,
		"max_deliver", cfg.NATS.MaxDeliver,
	)

	handler := handlers.NewHandler(handlers.Dependencies{
		Metrics:   a.aggregator,
		Runs:      a.runs,
		DLQ:       a.dlq,
		Readiness: a.readinessChecks(),
		Logger:    logger,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", workerPort),
		Handler:      server.NewWorkerRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return listenAndWait(srv, logger)
}
