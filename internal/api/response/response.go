package response

import (
	"encoding/json"
	"net/http"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrorBody is the body of every error response
type ErrorBody struct {
	Message any `json:"Message"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, message any) {
	JSON(w, status, ErrorBody{Message: message})
}

// Message sends a 200 response carrying only a message
func Message(w http.ResponseWriter, message string) {
	JSON(w, http.StatusOK, map[string]string{"Message": message})
}

// Created sends a 201 Created response with data
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response with data
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// List sends one page of a listing under key.
func List[T any](w http.ResponseWriter, key string, page domain.Page[T]) {
	next := "no"
	if page.NextAvailable {
		next = "yes"
	}
	OK(w, map[string]any{
		key:              page.Items,
		"count":          page.Count,
		"total_count":    page.TotalCount,
		"next_available": next,
	})
}

// BadRequest sends a 400 Bad Request response
func BadRequest(w http.ResponseWriter, message any) {
	Error(w, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(w http.ResponseWriter, message any) {
	Error(w, http.StatusUnauthorized, message)
}

// NotFound sends a 404 Not Found response
func NotFound(w http.ResponseWriter, message any) {
	Error(w, http.StatusNotFound, message)
}

// InternalError sends a 500 Internal Server Error response
func InternalError(w http.ResponseWriter, message any) {
	Error(w, http.StatusInternalServerError, message)
}

// StatusOf maps an error kind to its HTTP status. Access and state errors
// are client errors.
func StatusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput, domain.KindUnauthorized, domain.KindConflict,
		domain.KindQuotaExceeded, domain.KindModelAccess, domain.KindInvalidCredential,
		domain.KindUnsupportedFileType, domain.KindFileTooBig:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// FromError sends the response for a service error.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	Error(w, status, domain.MessageOf(err))
}
