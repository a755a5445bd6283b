package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"otp-dispatch-service/internal/model"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates sentinel errors to HTTP status codes so individual
// handlers stay concise. A missing queue entry is a normal 404, never a 500.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidChannel):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, model.ErrCodeExpired):
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, model.ErrCodeMismatch):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, model.ErrTooManyAttempts):
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, model.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
