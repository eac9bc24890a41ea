package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"synxronusage/internal/auth"
	"synxronusage/internal/service/content"
)

const maxUploadSize = 100 << 20

type ContentHandler struct {
	svc       *content.Service
	authority *auth.Authority
	logger    *zap.Logger
}

func NewContentHandler(svc *content.Service, authority *auth.Authority, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{
		svc:       svc,
		authority: authority,
		logger:    logger.Named("handler.content"),
	}
}

func nodeID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid node id: %w", err)
	}
	return id, nil
}

func optionalID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid parent id: %w", err)
	}
	return &id, nil
}

func (h *ContentHandler) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func (h *ContentHandler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserName string `json:"user_name"`
		Quota    *int64 `json:"quota"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.UserName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_name is required"})
		return
	}

	person, err := h.svc.CreatePerson(r.Context(), req.UserName, req.Quota)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, person)
}

func (h *ContentHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	userName := chi.URLParam(r, "user")
	if caller := actor(r); caller != userName && !h.authority.IsPrivileged(caller) {
		writeError(w, h.logger, r, auth.ErrNotPrivileged)
		return
	}
	person, err := h.svc.GetPerson(r.Context(), userName)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, person)
}

func (h *ContentHandler) UpdatePerson(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SizeCurrent *int64 `json:"size_current"`
		SizeQuota   *int64 `json:"size_quota"`
	}
	if !decode(w, r, &req) {
		return
	}

	person, err := h.svc.UpdatePerson(r.Context(), actor(r), chi.URLParam(r, "user"), content.PersonUpdate{
		SizeCurrent: req.SizeCurrent,
		SizeQuota:   req.SizeQuota,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, person)
}

func (h *ContentHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_id"`
		Name     string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	parentID, err := optionalID(req.ParentID)
	if err != nil {
		h.badRequest(w, err)
		return
	}

	folder, err := h.svc.CreateFolder(r.Context(), actor(r), parentID, req.Name)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

// UploadContent creates a content node from the multipart "file" field.
func (h *ContentHandler) UploadContent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.badRequest(w, fmt.Errorf("invalid upload: %w", err))
		return
	}
	parentID, err := optionalID(r.FormValue("parent_id"))
	if err != nil {
		h.badRequest(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.badRequest(w, fmt.Errorf("file is required: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.badRequest(w, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	node, err := h.svc.CreateContent(r.Context(), actor(r), parentID, name, data)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *ContentHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	node, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *ContentHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	children, err := h.svc.ListChildren(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, children)
}

func (h *ContentHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	data, err := h.svc.ReadContent(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// WriteContent replaces node content with the raw request body. An empty
// body removes the content.
func (h *ContentHandler) WriteContent(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		h.badRequest(w, fmt.Errorf("failed to read body: %w", err))
		return
	}
	if len(data) == 0 {
		data = nil
	}

	node, err := h.svc.WriteContent(r.Context(), actor(r), id, data)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *ContentHandler) SetOwner(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	var req struct {
		Owner string `json:"owner"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Owner == "" {
		req.Owner = actor(r)
	}

	node, err := h.svc.SetOwner(r.Context(), actor(r), id, req.Owner)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *ContentHandler) Copy(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	var req struct {
		ParentID string `json:"parent_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	parentID, err := optionalID(req.ParentID)
	if err != nil {
		h.badRequest(w, err)
		return
	}

	node, err := h.svc.Copy(r.Context(), actor(r), id, parentID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

func (h *ContentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	if err := h.svc.Delete(r.Context(), actor(r), id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContentHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		h.badRequest(w, err)
		return
	}
	if err := h.svc.Restore(r.Context(), actor(r), id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
