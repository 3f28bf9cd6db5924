package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/telhawk-systems/eventgate/internal/httputil"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/ratelimit"
	"github.com/telhawk-systems/eventgate/internal/repository"
)

// MetricsNote is attached to every metrics summary.
const MetricsNote = "counters are incremented once per pipeline execution; redelivered events are counted again, so totals may exceed the number of stored events"

// RateLimitStatusResponse is the body of GET /api/v1/ratelimit/{policy}.
type RateLimitStatusResponse struct {
	Policy     string    `json:"policy"`
	IP         string    `json:"ip"`
	Allowed    bool      `json:"allowed"`
	Remaining  int       `json:"remaining"`
	Limit      int       `json:"limit"`
	ResetAt    time.Time `json:"reset_at"`
	ResetAtMs  int64     `json:"reset_at_ms"`
	RetryAfter int       `json:"retry_after,omitempty"`
}

type MetricsSummaryResponse struct {
	models.AggregateMetrics
	Note string `json:"note"`
}

func (h *Handler) rateLimitTarget(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if h.deps.RateLimits == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "rate limiter not configured")
		return "", "", false
	}
	policy := r.PathValue("policy")
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		httputil.WriteError(w, http.StatusBadRequest, "ip query parameter is required")
		return "", "", false
	}
	return policy, ip, true
}

// RateLimitStatus handles GET /api/v1/ratelimit/{policy}?ip=. It never
// counts a request.
func (h *Handler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	policy, ip, ok := h.rateLimitTarget(w, r)
	if !ok {
		return
	}

	res, err := h.deps.RateLimits.Status(r.Context(), policy, ip)
	if err != nil {
		h.writeRateLimitError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, RateLimitStatusResponse{
		Policy:     policy,
		IP:         ip,
		Allowed:    res.Allowed,
		Remaining:  res.Remaining,
		Limit:      res.Limit,
		ResetAt:    res.ResetAt,
		ResetAtMs:  res.ResetAtMillis(),
		RetryAfter: res.RetryAfter,
	})
}

// ResetRateLimit handles DELETE /api/v1/ratelimit/{policy}?ip=.
func (h *Handler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	policy, ip, ok := h.rateLimitTarget(w, r)
	if !ok {
		return
	}

	if err := h.deps.RateLimits.Reset(r.Context(), policy, ip); err != nil {
		h.writeRateLimitError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "rate limit window reset", logging.Policy(policy), logging.IP(ip))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeRateLimitError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ratelimit.ErrUnknownPolicy) {
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.ErrorContext(r.Context(), "rate limit lookup failed", logging.Error(err))
	httputil.WriteError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
}

// GetEvent handles GET /api/v1/events/{event_id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	if h.deps.Events == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "event store not configured")
		return
	}

	rec, err := h.deps.Events.Get(r.Context(), r.PathValue("event_id"))
	switch {
	case errors.Is(err, repository.ErrEventNotFound):
		httputil.WriteError(w, http.StatusNotFound, "event not found")
	case err != nil:
		h.logger.ErrorContext(r.Context(), "event lookup failed", logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "event store unavailable")
	default:
		httputil.WriteJSON(w, http.StatusOK, rec)
	}
}

// MetricsSummary handles GET /api/v1/metrics/summary.
func (h *Handler) MetricsSummary(w http.ResponseWriter, r *http.Request) {
	if h.deps.Metrics == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "metrics store not configured")
		return
	}

	snap, err := h.deps.Metrics.Snapshot(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "metrics snapshot failed", logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "metrics store unavailable")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, MetricsSummaryResponse{AggregateMetrics: *snap, Note: MetricsNote})
}

// GetRun handles GET /api/v1/runs/{correlation_id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "run registry not configured")
		return
	}

	run, ok := h.deps.Runs.Get(r.PathValue("correlation_id"))
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "run not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, run)
}

// DLQStatus handles GET /api/v1/dlq/stats.
func (h *Handler) DLQStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.DLQ == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.deps.DLQ.Stats(r.Context()))
}
