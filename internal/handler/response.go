package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"synxronusage/internal/auth"
	"synxronusage/internal/blob"
	"synxronusage/internal/repository"
	"synxronusage/internal/service/content"
	"synxronusage/internal/service/usage"
	"synxronusage/internal/txn"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, usage.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, usage.ErrProtectedProperty), errors.Is(err, auth.ErrNotPrivileged):
		return http.StatusForbidden
	case errors.Is(err, txn.ErrReadOnly):
		return http.StatusServiceUnavailable
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, content.ErrArchived),
		errors.Is(err, content.ErrNotArchived),
		errors.Is(err, usage.ErrTrackingDisabled):
		return http.StatusConflict
	case errors.Is(err, usage.ErrInvalidQuota),
		errors.Is(err, content.ErrNotFolder),
		errors.Is(err, content.ErrNotContent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}

// actor returns the calling user stored by auth.Middleware.
func actor(r *http.Request) string {
	user, _ := auth.UserFromContext(r.Context())
	return user
}
