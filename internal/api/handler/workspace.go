package handler

import (
	"net/http"

	"github.com/Rrens/genai-platform/internal/api/response"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/service"
	"github.com/go-chi/chi/v5"
)

// WorkspaceHandler handles workspace, run, document and crawl endpoints
type WorkspaceHandler struct {
	workspaceService *service.WorkspaceService
	documentService  *service.DocumentService
}

// NewWorkspaceHandler creates a new workspace handler
func NewWorkspaceHandler(workspaceService *service.WorkspaceService, documentService *service.DocumentService) *WorkspaceHandler {
	return &WorkspaceHandler{workspaceService: workspaceService, documentService: documentService}
}

// Create handles workspace creation
func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.WorkspaceInput
	if !decode(w, r, &input) {
		return
	}

	workspace, err := h.workspaceService.Create(r.Context(), userID, input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, workspace)
}

// List handles listing the caller's workspaces
func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}

	page, err := h.workspaceService.List(r.Context(), userID, opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "Workspaces", page)
}

// Get handles getting a workspace by ID
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	workspace, err := h.workspaceService.Get(r.Context(), userID, chi.URLParam(r, "workspaceID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, workspace)
}

// Update handles updating a workspace
func (h *WorkspaceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.WorkspaceUpdate
	if !decode(w, r, &input) {
		return
	}

	workspace, err := h.workspaceService.Update(r.Context(), userID, chi.URLParam(r, "workspaceID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, workspace)
}

// Delete handles deleting a workspace
func (h *WorkspaceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.workspaceService.Delete(r.Context(), userID, chi.URLParam(r, "workspaceID")); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "workspace deleted")
}

// Stats returns document, run and vector counts of a workspace
func (h *WorkspaceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	stats, err := h.workspaceService.Stats(r.Context(), userID, chi.URLParam(r, "workspaceID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, stats)
}

// StartRun starts an ingestion run
func (h *WorkspaceHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	run, err := h.workspaceService.StartRun(r.Context(), userID, chi.URLParam(r, "workspaceID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, run)
}

// ListRuns lists the ingestion runs of a workspace
func (h *WorkspaceHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}

	page, err := h.workspaceService.ListRuns(r.Context(), userID, chi.URLParam(r, "workspaceID"), opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "Runs", page)
}

// GetRun returns one ingestion run
func (h *WorkspaceHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	run, err := h.workspaceService.GetRun(r.Context(), userID, chi.URLParam(r, "workspaceID"), chi.URLParam(r, "runID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, run)
}

// AddDocuments uploads files and registers websites
func (h *WorkspaceHandler) AddDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.DocumentInput
	if !decode(w, r, &input) {
		return
	}

	docs, err := h.documentService.Add(r.Context(), userID, chi.URLParam(r, "workspaceID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, map[string]any{"Documents": docs})
}

// ListDocuments lists the documents of a workspace, optionally by type
func (h *WorkspaceHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}
	docType := domain.DocumentType(r.URL.Query().Get("type"))
	switch docType {
	case "", domain.DocumentFile, domain.DocumentWebsite:
	default:
		response.BadRequest(w, "type must be file or website")
		return
	}

	page, err := h.documentService.List(r.Context(), userID, chi.URLParam(r, "workspaceID"), docType, opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "Documents", page)
}

// GetDocument returns one document
func (h *WorkspaceHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	doc, err := h.documentService.Get(r.Context(), userID, chi.URLParam(r, "workspaceID"), chi.URLParam(r, "documentID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, doc)
}

// DeleteDocument removes one document
func (h *WorkspaceHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.documentService.Delete(r.Context(), userID, chi.URLParam(r, "workspaceID"), chi.URLParam(r, "documentID")); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "document deleted")
}

// CreateCrawl schedules a website crawl
func (h *WorkspaceHandler) CreateCrawl(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.CrawlInput
	if !decode(w, r, &input) {
		return
	}

	crawl, err := h.documentService.CreateCrawl(r.Context(), userID, chi.URLParam(r, "workspaceID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, crawl)
}

// ListCrawls lists the crawl jobs of a workspace
func (h *WorkspaceHandler) ListCrawls(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}

	page, err := h.documentService.ListCrawls(r.Context(), userID, chi.URLParam(r, "workspaceID"), opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "CrawlJobs", page)
}

// GetCrawl returns one crawl job
func (h *WorkspaceHandler) GetCrawl(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	crawl, err := h.documentService.GetCrawl(r.Context(), userID, chi.URLParam(r, "workspaceID"), chi.URLParam(r, "crawlID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, crawl)
}

// DeleteCrawl removes a crawl job and its pages
func (h *WorkspaceHandler) DeleteCrawl(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.documentService.DeleteCrawl(r.Context(), userID, chi.URLParam(r, "workspaceID"), chi.URLParam(r, "crawlID")); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "crawl job deleted")
}
