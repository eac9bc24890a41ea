package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"synxronusage/internal/domain"
	"synxronusage/internal/service/repousage"
	"synxronusage/internal/txn"
)

type RepoUsageHandler struct {
	txm       *txn.Manager
	component *repousage.Component
	monitor   *repousage.Monitor
	logger    *zap.Logger
}

func NewRepoUsageHandler(txm *txn.Manager, component *repousage.Component, monitor *repousage.Monitor, logger *zap.Logger) *RepoUsageHandler {
	return &RepoUsageHandler{
		txm:       txm,
		component: component,
		monitor:   monitor,
		logger:    logger.Named("handler.repousage"),
	}
}

func (h *RepoUsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	var usage domain.RepoUsage
	err := h.txm.InTx(r.Context(), func(ctx context.Context, tx *txn.Tx) error {
		var err error
		usage, err = h.component.GetUsage(ctx, tx)
		return err
	}, txn.ReadOnly())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (h *RepoUsageHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	var status domain.RepoUsageStatus
	err := h.txm.InTx(r.Context(), func(ctx context.Context, tx *txn.Tx) error {
		var err error
		status, err = h.component.GetUsageStatus(ctx, tx)
		return err
	}, txn.ReadOnly())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Refresh recounts users and documents and applies the resulting status.
func (h *RepoUsageHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Check(r.Context()); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

func (h *RepoUsageHandler) GetRestrictions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.component.GetRestrictions())
}

type restrictionsRequest struct {
	Users             *int64     `json:"users"`
	Documents         *int64     `json:"documents"`
	LicenseMode       string     `json:"license_mode"`
	LicenseExpiryDate *time.Time `json:"license_expiry_date"`
}

func (h *RepoUsageHandler) SetRestrictions(w http.ResponseWriter, r *http.Request) {
	var req restrictionsRequest
	if !decode(w, r, &req) {
		return
	}

	mode := domain.LicenseMode(req.LicenseMode)
	switch mode {
	case "", domain.LicenseModeUnknown, domain.LicenseModeTeam, domain.LicenseModeEnterprise:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown license mode"})
		return
	}

	err := h.component.SetRestrictions(r.Context(), domain.RepoUsage{
		Users:             req.Users,
		Documents:         req.Documents,
		LicenseMode:       mode,
		LicenseExpiryDate: req.LicenseExpiryDate,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.component.GetRestrictions())
}
