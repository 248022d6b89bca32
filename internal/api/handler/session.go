package handler

import (
	"net/http"
	"strconv"

	"github.com/Rrens/genai-platform/internal/api/response"
	"github.com/Rrens/genai-platform/internal/service"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles chat session endpoints
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

type createSessionRequest struct {
	ClientID string `json:"ClientId"`
}

type deleteFilesRequest struct {
	FileNames []string `json:"FileNames" validate:"required,min=1,dive,required"`
}

type datasetUploadRequest struct {
	FileName  string `json:"FileName" validate:"required"`
	DatasetID string `json:"DatasetId" validate:"required"`
}

// List returns the caller's sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}

	page, err := h.sessionService.List(r.Context(), userID, r.URL.Query().Get("client-id"), opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "Sessions", page)
}

// Create opens a new session
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	session, err := h.sessionService.Create(r.Context(), userID, req.ClientID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, session)
}

// Get returns a session with its history
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v < 0 {
			response.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = v
	}

	detail, err := h.sessionService.Get(r.Context(), userID, chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, detail)
}

// Delete deletes a session
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.sessionService.Delete(r.Context(), userID, chi.URLParam(r, "sessionID")); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "session deleted")
}

// GetMessage returns both sides of one turn
func (h *SessionHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	messages, err := h.sessionService.GetMessage(r.Context(), userID, chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"Messages": messages})
}

// ListFiles lists the files attached to a session
func (h *SessionHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	files, err := h.sessionService.ListFiles(r.Context(), userID, chi.URLParam(r, "sessionID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"Files": files})
}

// UploadURL returns a presigned upload URL for a session file
func (h *SessionHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	fileName := r.URL.Query().Get("file-name")
	if fileName == "" {
		response.BadRequest(w, "file-name is required")
		return
	}

	url, err := h.sessionService.UploadURL(r.Context(), userID, chi.URLParam(r, "sessionID"), fileName)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"PresignedURL": url})
}

// DeleteFiles removes files from a session
func (h *SessionHandler) DeleteFiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req deleteFilesRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.sessionService.DeleteFiles(r.Context(), userID, chi.URLParam(r, "sessionID"), req.FileNames); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "files deleted")
}

// UploadToDataset copies a session file into a Data Plane dataset
func (h *SessionHandler) UploadToDataset(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var req datasetUploadRequest
	if !decode(w, r, &req) {
		return
	}

	key, err := h.sessionService.UploadToDataset(r.Context(), userID, chi.URLParam(r, "sessionID"), req.FileName, req.DatasetID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"Message": "file uploaded", "FileName": key})
}
