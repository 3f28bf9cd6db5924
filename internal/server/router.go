package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/eventgate/internal/handlers"
	"github.com/telhawk-systems/eventgate/internal/middleware"
)

// NewRouter constructs a ServeMux with the front door, inspection and health
// routes registered. corsOrigins may be empty to disable CORS headers.
func NewRouter(h *handlers.Handler, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Front door
	mux.HandleFunc("POST /api/v1/subscriptions", h.SubmitSubscription)
	mux.HandleFunc("POST /api/v1/samples", h.SubmitSample)

	// Inspection
	mux.HandleFunc("GET /api/v1/ratelimit/{policy}", h.RateLimitStatus)
	mux.HandleFunc("DELETE /api/v1/ratelimit/{policy}", h.ResetRateLimit)
	mux.HandleFunc("GET /api/v1/events/{event_id}", h.GetEvent)
	mux.HandleFunc("GET /api/v1/metrics/summary", h.MetricsSummary)
	mux.HandleFunc("GET /api/v1/runs/{correlation_id}", h.GetRun)
	mux.HandleFunc("GET /api/v1/dlq/stats", h.DLQStatus)

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if len(corsOrigins) > 0 {
		handler = middleware.CORS(middleware.DefaultCORSConfig(corsOrigins))(handler)
	}
	return middleware.CorrelationID(handler)
}

// NewWorkerRouter exposes health, metrics and run lookups for a worker
// process. Runs executed by a worker are only visible through its own router.
func NewWorkerRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/runs/{correlation_id}", h.GetRun)
	mux.HandleFunc("GET /api/v1/metrics/summary", h.MetricsSummary)
	mux.HandleFunc("GET /api/v1/dlq/stats", h.DLQStatus)

	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.CorrelationID(mux)
}
