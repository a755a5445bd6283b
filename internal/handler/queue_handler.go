package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"otp-dispatch-service/internal/model"
	"otp-dispatch-service/internal/service"
)

// FailureLog is the admin view into the dispatch audit trail. Optional:
// when the audit backend is disabled the endpoint reports 501.
type FailureLog interface {
	RecentFailures(ctx context.Context, limit int) ([]model.DispatchEvent, error)
}

// QueueHandler exposes the OTP queue endpoints: issuance, verification, and
// the status/estimate/metrics queries.
type QueueHandler struct {
	otp      *service.OTPService
	status   *service.StatusService
	failures FailureLog
	adminKey string
	logger   *zap.Logger
}

func NewQueueHandler(
	otp *service.OTPService,
	status *service.StatusService,
	failures FailureLog,
	adminKey string,
	logger *zap.Logger,
) *QueueHandler {
	return &QueueHandler{
		otp:      otp,
		status:   status,
		failures: failures,
		adminKey: adminKey,
		logger:   logger,
	}
}

// RegisterRoutes mounts all queue routes on the given router.
func (h *QueueHandler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/otp", h.RequestOTP)
		r.Post("/otp/verify", h.VerifyOTP)
		r.Get("/otp/estimate", h.Estimate)
		r.Get("/otp/position/{identifier}", h.Position)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/metrics", h.Metrics)
			r.Get("/failures", h.Failures)
			r.Delete("/otp/{identifier}", h.Purge)
		})
	})
}

// requireAdmin gates admin-only endpoints on the configured API key.
// Non-admin callers receive 403.
func (h *QueueHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if h.adminKey == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(h.adminKey)) != 1 {
			respondError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type otpRequest struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

type verifyRequest struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

// RequestOTP handles POST /queue/otp.
func (h *QueueHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Identifier == "" {
		respondError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	channel, err := model.ParseChannel(req.Type)
	if err != nil {
		mapError(w, err)
		return
	}

	estimate, err := h.otp.Request(r.Context(), channel, req.Identifier)
	if err != nil {
		h.logger.Error("otp request failed",
			zap.String("channel", string(channel)),
			zap.Error(err))
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, estimate)
}

// VerifyOTP handles POST /queue/otp/verify.
func (h *QueueHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Identifier == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, "identifier and code are required")
		return
	}

	channel, err := model.ParseChannel(req.Type)
	if err != nil {
		mapError(w, err)
		return
	}

	if err := h.otp.Verify(r.Context(), channel, req.Identifier, req.Code); err != nil {
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// Status handles GET /queue/status.
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.status.Status(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"channels": statuses})
}

// Estimate handles GET /queue/otp/estimate?type=email|whatsapp.
func (h *QueueHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	channel, err := model.ParseChannel(r.URL.Query().Get("type"))
	if err != nil {
		mapError(w, err)
		return
	}

	estimate, err := h.status.Estimate(r.Context(), channel)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, estimate)
}

// Position handles GET /queue/otp/position/{identifier}?type=...
func (h *QueueHandler) Position(w http.ResponseWriter, r *http.Request) {
	channel, err := model.ParseChannel(r.URL.Query().Get("type"))
	if err != nil {
		mapError(w, err)
		return
	}

	identifier := chi.URLParam(r, "identifier")
	pos, err := h.status.PositionOf(r.Context(), channel, identifier)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pos)
}

// Metrics handles GET /queue/metrics (admin only).
func (h *QueueHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.status.Metrics(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"channels": buckets})
}

// Failures handles GET /queue/failures (admin only).
func (h *QueueHandler) Failures(w http.ResponseWriter, r *http.Request) {
	if h.failures == nil {
		respondError(w, http.StatusNotImplemented, "audit log is not enabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	events, err := h.failures.RecentFailures(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to query dispatch failures", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to query failures")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"failures": events})
}

// Purge handles DELETE /queue/otp/{identifier} (admin only). Removing an
// entry that is already gone succeeds.
func (h *QueueHandler) Purge(w http.ResponseWriter, r *http.Request) {
	channel, err := model.ParseChannel(r.URL.Query().Get("type"))
	if err != nil {
		mapError(w, err)
		return
	}

	identifier := chi.URLParam(r, "identifier")
	if err := h.otp.Purge(r.Context(), channel, identifier); err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}
