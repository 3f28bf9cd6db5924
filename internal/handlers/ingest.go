package handlers

import (
	"errors"
	"net/http"

	"github.com/telhawk-systems/eventgate/internal/dispatch"
	"github.com/telhawk-systems/eventgate/internal/httputil"
	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/middleware"
	"github.com/telhawk-systems/eventgate/internal/models"
	"github.com/telhawk-systems/eventgate/internal/service"
)

// AcceptedResponse is returned for admitted events.
type AcceptedResponse struct {
	CorrelationID string `json:"correlation_id"`
	EventID       string `json:"event_id"`
	Status        string `json:"status"`
}

// SubmitSubscription handles POST /api/v1/subscriptions.
func (h *Handler) SubmitSubscription(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, service.ChannelSubscription)
}

// SubmitSample handles POST /api/v1/samples.
func (h *Handler) SubmitSample(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, service.ChannelSample)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, channel string) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var event models.Event
	if err := httputil.DecodeJSON(w, r, &event); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httputil.WriteErrorResponse(w, status, httputil.ErrorResponse{
			Error:         err.Error(),
			Code:          "invalid_request",
			CorrelationID: correlationID,
		})
		return
	}

	if hdr := r.Header.Get(middleware.HeaderCorrelationID); hdr != "" {
		event.CorrelationID = hdr
	}

	ip := httputil.ClientIP(r, h.deps.TrustedProxies)
	out, err := h.deps.Ingestor.Submit(ctx, channel, ip, &event)
	if out != nil {
		w.Header().Set(middleware.HeaderCorrelationID, out.CorrelationID)
	}
	if err != nil {
		if out != nil {
			setRateLimitHeaders(w, out.RateLimit)
			correlationID = out.CorrelationID
		}
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, dispatch.ErrQueueFull) || errors.Is(err, dispatch.ErrSchedulerClosed) {
			status = http.StatusServiceUnavailable
			code = "unavailable"
		}
		h.logger.ErrorContext(ctx, "submission failed",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Error(err),
		)
		httputil.WriteErrorResponse(w, status, httputil.ErrorResponse{
			Error:         "failed to schedule event",
			Code:          code,
			CorrelationID: correlationID,
		})
		return
	}

	setRateLimitHeaders(w, out.RateLimit)

	if !out.Admitted {
		httputil.WriteErrorResponse(w, http.StatusTooManyRequests, httputil.ErrorResponse{
			Error:         "rate limit exceeded",
			Code:          "rate_limited",
			CorrelationID: out.CorrelationID,
			RetryAfter:    out.RateLimit.RetryAfter,
		})
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, AcceptedResponse{
		CorrelationID: out.CorrelationID,
		EventID:       out.EventID,
		Status:        "scheduled",
	})
}
