package handler

import (
	"net/http"

	"github.com/Rrens/genai-platform/internal/api/response"
	"github.com/Rrens/genai-platform/internal/service"
	"github.com/go-chi/chi/v5"
)

// ChatbotHandler handles chatbot and embedded chatbot endpoints
type ChatbotHandler struct {
	chatbotService *service.ChatbotService
}

// NewChatbotHandler creates a new chatbot handler
func NewChatbotHandler(chatbotService *service.ChatbotService) *ChatbotHandler {
	return &ChatbotHandler{chatbotService: chatbotService}
}

// Create handles chatbot creation
func (h *ChatbotHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.ChatbotInput
	if !decode(w, r, &input) {
		return
	}

	bot, err := h.chatbotService.Create(r.Context(), userID, input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, bot)
}

// List handles listing chatbots
func (h *ChatbotHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	opts, ok := pageOptions(w, r)
	if !ok {
		return
	}

	page, err := h.chatbotService.List(r.Context(), userID, opts)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.List(w, "Chatbots", page)
}

// Get handles getting a chatbot by ID
func (h *ChatbotHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	bot, err := h.chatbotService.Get(r.Context(), userID, chi.URLParam(r, "chatbotID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, bot)
}

// Update handles updating a chatbot
func (h *ChatbotHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	var input service.ChatbotUpdate
	if !decode(w, r, &input) {
		return
	}

	bot, err := h.chatbotService.Update(r.Context(), userID, chi.URLParam(r, "chatbotID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, bot)
}

// Delete handles deleting a chatbot
func (h *ChatbotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.chatbotService.Delete(r.Context(), userID, chi.URLParam(r, "chatbotID")); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "chatbot deleted")
}

// GetPublic returns the embeddable view of a chatbot. Unauthenticated.
func (h *ChatbotHandler) GetPublic(w http.ResponseWriter, r *http.Request) {
	bot, err := h.chatbotService.GetPublic(r.Context(), chi.URLParam(r, "chatbotID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, bot)
}

// EmbeddedSession returns an embedded session with its history
func (h *ChatbotHandler) EmbeddedSession(w http.ResponseWriter, r *http.Request) {
	detail, err := h.chatbotService.EmbeddedSession(r.Context(), chi.URLParam(r, "chatbotID"), chi.URLParam(r, "sessionID"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.OK(w, detail)
}

// FlagMessage sets the review flag of an embedded answer
func (h *ChatbotHandler) FlagMessage(w http.ResponseWriter, r *http.Request) {
	var input service.FlagInput
	if !decode(w, r, &input) {
		return
	}

	err := h.chatbotService.FlagMessage(r.Context(),
		chi.URLParam(r, "chatbotID"), chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"), input)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "message updated")
}
