package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"synxronusage/internal/auth"
	"synxronusage/internal/domain"
	"synxronusage/internal/service/usage"
	"synxronusage/internal/txn"
)

type UsageHandler struct {
	txm       *txn.Manager
	usage     *usage.ContentUsage
	tracking  *usage.Tracking
	authority *auth.Authority
	logger    *zap.Logger
}

func NewUsageHandler(txm *txn.Manager, cu *usage.ContentUsage, tracking *usage.Tracking, authority *auth.Authority, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		txm:       txm,
		usage:     cu,
		tracking:  tracking,
		authority: authority,
		logger:    logger.Named("handler.usage"),
	}
}

// GetUserUsage returns usage and quota of a user. Users may read their own
// figures; administrators may read anybody's.
func (h *UsageHandler) GetUserUsage(w http.ResponseWriter, r *http.Request) {
	userName := chi.URLParam(r, "user")
	if caller := actor(r); caller != userName && !h.authority.IsPrivileged(caller) {
		writeError(w, h.logger, r, auth.ErrNotPrivileged)
		return
	}

	var info *domain.UserUsageInfo
	err := h.txm.InTx(r.Context(), func(ctx context.Context, tx *txn.Tx) error {
		var err error
		info, err = h.usage.GetUserUsageInfo(ctx, tx, userName)
		return err
	}, txn.ReadOnly())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *UsageHandler) SetUserQuota(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quota *int64 `json:"quota"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Quota == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "quota is required"})
		return
	}

	userName := chi.URLParam(r, "user")
	err := h.txm.InTx(r.Context(), func(ctx context.Context, tx *txn.Tx) error {
		return h.usage.SetUserQuota(ctx, tx, actor(r), userName, *req.Quota)
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Collapse folds pending deltas now instead of waiting for the schedule.
func (h *UsageHandler) Collapse(w http.ResponseWriter, r *http.Request) {
	if err := h.tracking.Collapse(r.Context()); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bootstrap recalculates or clears baselines according to the tracking
// setting.
func (h *UsageHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	if err := h.tracking.Bootstrap(r.Context()); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
