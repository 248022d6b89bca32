package handler

import (
	"net/http"

	"github.com/Rrens/genai-platform/internal/api/response"
	"github.com/Rrens/genai-platform/internal/service"
	"github.com/go-chi/chi/v5"
)

// AgentHandler handles agent, action group and library endpoints
type AgentHandler struct {
	agentService       *service.AgentService
	actionGroupService *service.ActionGroupService
	libraryService     *service.LibraryService
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(
	agentService *service.AgentService,
	actionGroupService *service.ActionGroupService,
	libraryService *service.LibraryService,
) *AgentHandler {
	return &AgentHandler{
		agentService:       agentService,
		actionGroupService: actionGroupService,
		libraryService:     libraryService,
	}
}

// Create handles agent creation. The agent is prepared before returning.
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.AgentInput
	if !decode(w, r, &input) {
		return
	}

	agent, err := h.agentService.Create(r.Context(), userID, input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, agent)
}

// List handles listing agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}

	page, err := h.agentService.List(r.Context(), userID, opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "Agents", page)
}

// Get handles getting an agent by ID
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	agent, err := h.agentService.Get(r.Context(), userID, chi.URLParam(r, "agentID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, agent)
}

// Update handles updating an agent's description and workspaces
func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.AgentUpdate
	if !decode(w, r, &input) {
		return
	}

	agent, err := h.agentService.Update(r.Context(), userID, chi.URLParam(r, "agentID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, agent)
}

// Delete handles deleting an agent
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.agentService.Delete(r.Context(), userID, chi.URLParam(r, "agentID")); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "agent deleted")
}

// ListAttachedActionGroups lists the action groups of an agent
func (h *AgentHandler) ListAttachedActionGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	groups, err := h.agentService.ListActionGroups(r.Context(), userID, chi.URLParam(r, "agentID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"ActionGroups": groups})
}

// UpdateAttachedActionGroups replaces the action groups of an agent
func (h *AgentHandler) UpdateAttachedActionGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.ActionGroupsInput
	if !decode(w, r, &input) {
		return
	}

	agent, err := h.agentService.UpdateActionGroups(r.Context(), userID, chi.URLParam(r, "agentID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, agent)
}

// CreateActionGroup stores a new action group and schedules its build
func (h *AgentHandler) CreateActionGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.ActionGroupInput
	if !decode(w, r, &input) {
		return
	}

	ag, err := h.actionGroupService.Create(r.Context(), userID, input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, ag)
}

// ListActionGroups lists the system and visible action groups
func (h *AgentHandler) ListActionGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}

	page, err := h.actionGroupService.List(r.Context(), userID, opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "ActionGroups", page)
}

// GetActionGroup returns an action group with its schema link
func (h *AgentHandler) GetActionGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	ag, err := h.actionGroupService.Get(r.Context(), userID, chi.URLParam(r, "actionGroupID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, ag)
}

// UpdateActionGroup changes an action group and schedules its refresh
func (h *AgentHandler) UpdateActionGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.ActionGroupUpdate
	if !decode(w, r, &input) {
		return
	}

	ag, err := h.actionGroupService.Update(r.Context(), userID, chi.URLParam(r, "actionGroupID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, ag)
}

// DeleteActionGroup removes an action group no agent attaches
func (h *AgentHandler) DeleteActionGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.actionGroupService.Delete(r.Context(), userID, chi.URLParam(r, "actionGroupID")); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "action group deleted")
}

// ActionGroupLogs lists presigned links to an action group's logs
func (h *AgentHandler) ActionGroupLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	logs, err := h.actionGroupService.Logs(r.Context(), userID, chi.URLParam(r, "actionGroupID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"Logs": logs})
}

// CreateLibrary stores a new library
func (h *AgentHandler) CreateLibrary(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.LibraryInput
	if !decode(w, r, &input) {
		return
	}

	lib, err := h.libraryService.Create(r.Context(), userID, input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, lib)
}

// ListLibraries lists visible libraries
func (h *AgentHandler) ListLibraries(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}

	page, err := h.libraryService.List(r.Context(), userID, opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "Libraries", page)
}

// GetLibrary returns one library
func (h *AgentHandler) GetLibrary(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	lib, err := h.libraryService.Get(r.Context(), userID, chi.URLParam(r, "libraryID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, lib)
}

// UpdateLibrary adds or removes library archives
func (h *AgentHandler) UpdateLibrary(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.LibraryUpdate
	if !decode(w, r, &input) {
		return
	}

	lib, err := h.libraryService.Update(r.Context(), userID, chi.URLParam(r, "libraryID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, lib)
}

// DeleteLibrary removes a library no action group uses
func (h *AgentHandler) DeleteLibrary(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.libraryService.Delete(r.Context(), userID, chi.URLParam(r, "libraryID")); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "library deleted")
}
