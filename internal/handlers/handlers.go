// Package handlers implements the HTTP front door and the inspection API.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/telhawk-systems/eventgate/internal/httputil"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/ratelimit"
	"github.com/telhawk-systems/eventgate/internal/service"
)

// Ingestor admits and schedules events.
type Ingestor interface {
	Submit(ctx context.Context, channel, ip string, event *models.Event) (*service.Outcome, error)
}

// RateLimitInspector reads and resets rate-limit windows.
type RateLimitInspector interface {
	Status(ctx context.Context, policy, ip string) (ratelimit.Result, error)
	Reset(ctx context.Context, policy, ip string) error
}

type EventReader interface {
	Get(ctx context.Context, eventID string) (*models.StoredEventRecord, error)
}

type MetricsReader interface {
	Snapshot(ctx context.Context) (*models.AggregateMetrics, error)
}

type RunReader interface {
	Get(correlationID string) (models.PipelineRun, bool)
}

type DLQStats interface {
	Stats(ctx context.Context) map[string]interface{}
}

// ReadinessCheck is one named dependency check for /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies wires the handler. Nil readers disable their endpoints with 503.
type Dependencies struct {
	Ingestor   Ingestor
	RateLimits RateLimitInspector
	Events     EventReader
	Metrics    MetricsReader
	Runs       RunReader
	DLQ        DLQStats
	Readiness  []ReadinessCheck
	Logger     *logging.Logger

	// TrustedProxies lists the peers whose forwarding headers name the client.
	TrustedProxies httputil.TrustedProxies
}

type Handler struct {
	deps   Dependencies
	logger *logging.Logger
}

func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{deps: deps, logger: logger}
}

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
	w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
	w.Header().Set(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed && res.RetryAfter > 0 {
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(res.RetryAfter))
	}
}
