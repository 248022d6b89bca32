package handler

import (
	"net/http"

	"github.com/Rrens/genai-platform/internal/api/response"
	"github.com/Rrens/genai-platform/internal/service"
	"github.com/go-chi/chi/v5"
)

// UserHandler handles user endpoints and the Data Plane helpers
type UserHandler struct {
	userService *service.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

type alertsRequest struct {
	Alerts []string `json:"AlertPreferences" validate:"required,min=1,dive,required"`
}

// Register returns the caller's record, creating it on first use
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	user, err := h.userService.Get(r.Context(), userID, userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, user)
}

// List handles listing users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}

	page, err := h.userService.List(r.Context(), userID, opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "Users", page)
}

// Get handles getting a user by ID
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	user, err := h.userService.Get(r.Context(), userID, chi.URLParam(r, "userID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, user)
}

// Update handles updating a user
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.UpdateUserInput
	if !decode(w, r, &input) {
		return
	}

	user, err := h.userService.Update(r.Context(), userID, chi.URLParam(r, "userID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, user)
}

// SetPreferences merges user preferences
func (h *UserHandler) SetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var prefs map[string]string
	if !decode(w, r, &prefs) {
		return
	}

	user, err := h.userService.SetPreferences(r.Context(), userID, chi.URLParam(r, "userID"), prefs)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, user)
}

// Alerts returns the alert subscriptions of a user
func (h *UserHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	alerts, err := h.userService.AlertPreferences(r.Context(), userID, chi.URLParam(r, "userID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"AlertPreferences": alerts})
}

// AddAlerts subscribes a user to alerts
func (h *UserHandler) AddAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input alertsRequest
	if !decode(w, r, &input) {
		return
	}

	alerts, err := h.userService.AddAlertPreferences(r.Context(), userID, chi.URLParam(r, "userID"), input.Alerts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"AlertPreferences": alerts})
}

// RemoveAlerts unsubscribes a user from alerts
func (h *UserHandler) RemoveAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input alertsRequest
	if !decode(w, r, &input) {
		return
	}

	alerts, err := h.userService.RemoveAlertPreferences(r.Context(), userID, chi.URLParam(r, "userID"), input.Alerts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"AlertPreferences": alerts})
}

// Integrate connects, disconnects, enables or disables the Data Plane link
func (h *UserHandler) Integrate(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	action := service.IntegrationAction(r.URL.Query().Get("action"))
	switch action {
	case service.IntegrationConnect, service.IntegrationDisconnect, service.IntegrationEnable, service.IntegrationDisable:
	default:
		response.BadRequest(w, "action must be one of connect, disconnect, enable, disable")
		return
	}

	var input service.IntegrationInput
	if action == service.IntegrationConnect && !decode(w, r, &input) {
		return
	}

	user, err := h.userService.Integrate(r.Context(), userID, action, input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, user)
}

// Domains lists the caller's Data Plane domains
func (h *UserHandler) Domains(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	domains, err := h.userService.Domains(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"Domains": domains})
}

// Tenants lists the caller's Data Plane tenants
func (h *UserHandler) Tenants(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	tenants, err := h.userService.Tenants(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"Tenants": tenants})
}

// Roles lists the caller's Data Plane roles
func (h *UserHandler) Roles(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	roles, err := h.userService.Roles(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"Roles": roles})
}

// Datasets lists the caller's Data Plane datasets, optionally in one domain
func (h *UserHandler) Datasets(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	datasets, err := h.userService.Datasets(r.Context(), userID, r.URL.Query().Get("domain"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"Datasets": datasets})
}
