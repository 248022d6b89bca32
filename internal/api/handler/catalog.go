package handler

import (
	"net/http"
	"strings"

	"github.com/Rrens/genai-platform/internal/api/response"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/service"
	"github.com/go-chi/chi/v5"
)

// CatalogHandler handles the model catalog and access groups
type CatalogHandler struct {
	modelService *service.ModelService
	groupService *service.GroupService
	userService  *service.UserService
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(modelService *service.ModelService, groupService *service.GroupService, userService *service.UserService) *CatalogHandler {
	return &CatalogHandler{modelService: modelService, groupService: groupService, userService: userService}
}

type modelUpdateRequest struct {
	Enabled *bool `json:"IsEnabled" validate:"required"`
}

// ListModels lists the catalog, optionally filtered by modality
func (h *CatalogHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}
	modality := domain.Modality(strings.ToUpper(r.URL.Query().Get("modality")))

	page, err := h.modelService.List(r.Context(), modality, opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "Models", page)
}

// GetModel returns one catalog entry
func (h *CatalogHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}

	m, err := h.modelService.Get(r.Context(), chi.URLParam(r, "modelID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, m)
}

// UpdateModel enables or disables a model. Admin only.
func (h *CatalogHandler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input modelUpdateRequest
	if !decode(w, r, &input) {
		return
	}
	if !h.userService.IsAdmin(r.Context(), userID) {
		response.BadRequest(w, "only admins can update models")
		return
	}

	m, err := h.modelService.SetEnabled(r.Context(), chi.URLParam(r, "modelID"), *input.Enabled)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, m)
}

// ListGroups lists the caller's groups
func (h *CatalogHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}

	page, err := h.groupService.List(r.Context(), userID, opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "Groups", page)
}

// CreateGroup adds a custom group
func (h *CatalogHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.GroupInput
	if !decode(w, r, &input) {
		return
	}

	g, err := h.groupService.Create(r.Context(), userID, input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, g)
}

// UpdateGroup replaces the members and resources of a group
func (h *CatalogHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.GroupInput
	if !decode(w, r, &input) {
		return
	}

	g, err := h.groupService.Update(r.Context(), userID, chi.URLParam(r, "groupID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, g)
}
