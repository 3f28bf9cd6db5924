package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/internal/dispatch"
	"github.com/telhawk-systems/eventgate/internal/handlers"
	"github.com/telhawk-systems/eventgate/internal/httputil"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/server"
	"github.com/telhawk-systems/eventgate/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP front door",
	Long: `Start the ingestion API. Admitted events run on an in-process worker pool,
or are published to JetStream for 'eventgate worker' when nats.enabled is set.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "serve")

	logger.Info("starting eventgate",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"nats_enabled", cfg.NATS.Enabled,
	)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var scheduler dispatch.Scheduler
	if cfg.NATS.Enabled {
		if err := a.connectNATS(ctx); err != nil {
			return err
		}
		scheduler = dispatch.NewJetStreamScheduler(a.js)
		logger.Info("dispatching admitted events to jetstream", "stream", cfg.NATS.Stream)
	} else {
		if cfg.DLQ.Enabled {
			logger.Warn("dead letter queue requires nats; failed events are only logged")
		}
		inline := dispatch.NewInlineScheduler(a.pipeline, a.dlq, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)
		a.onClose(inline.Close)
		scheduler = inline
		logger.Info("dispatching admitted events in process",
			"workers", cfg.Pipeline.Workers,
			"queue_size", cfg.Pipeline.QueueSize,
		)
	}

	trusted, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	ingest := service.NewIngestService(a.policies, scheduler, logger)
	handler := handlers.NewHandler(handlers.Dependencies{
		Ingestor:   ingest,
		RateLimits: a.policies,
		Events:     a.repo,
		Metrics:    a.aggregator,
		Runs:       a.runs,
		DLQ:        a.dlq,
		Readiness:  a.readinessChecks(),
		Logger:     logger,

		TrustedProxies: trusted,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler, cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return listenAndWait(srv, logger)
}

// listenAndWait serves until SIGINT or SIGTERM, then shuts srv down.
func listenAndWait(srv *http.Server, logger *logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
