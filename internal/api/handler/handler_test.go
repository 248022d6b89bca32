package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Rrens/genai-platform/internal/api/handler"
	"github.com/Rrens/genai-platform/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

// authed returns a request carrying userID the way the auth middleware does.
func authed(method, target, body, userID string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func withURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestReadyCheck(t *testing.T) {
	healthy := pingerFunc(func(ctx context.Context) error { return nil })
	down := pingerFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	t.Run("all dependencies up", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ReadyCheck(map[string]handler.Pinger{"postgres": healthy, "redis": healthy})(
			rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", decodeBody(t, rec)["status"])
	})

	t.Run("dependency down", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ReadyCheck(map[string]handler.Pinger{"redis": down})(
			rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "redis not ready", decodeBody(t, rec)["Message"])
	})
}

func TestHandlers_RequireCaller(t *testing.T) {
	tests := []struct {
		name string
		fn   http.HandlerFunc
	}{
		{"list sessions", handler.NewSessionHandler(nil).List},
		{"list workspaces", handler.NewWorkspaceHandler(nil, nil).List},
		{"list chatbots", handler.NewChatbotHandler(nil).List},
		{"list agents", handler.NewAgentHandler(nil, nil, nil).List},
		{"list groups", handler.NewCatalogHandler(nil, nil, nil).ListGroups},
		{"list users", handler.NewUserHandler(nil).List},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.fn(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeBody(t, rec)["Message"])
		})
	}
}

func TestSessionHandler_InputValidation(t *testing.T) {
	h := handler.NewSessionHandler(nil)

	t.Run("upload url needs a file name", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withURLParams(authed(http.MethodPost, "/chat/sessions/s1/files", "", "u1"), "sessionID", "s1")

		h.UploadURL(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "file-name is required", decodeBody(t, rec)["Message"])
	})

	t.Run("negative history limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withURLParams(authed(http.MethodGet, "/chat/sessions/s1?limit=-2", "", "u1"), "sessionID", "s1")

		h.Get(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete files needs names", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withURLParams(authed(http.MethodDelete, "/chat/sessions/s1/files", `{"FileNames":[]}`, "u1"), "sessionID", "s1")

		h.DeleteFiles(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"FileNames": "must be at least 1"}, decodeBody(t, rec)["Message"])
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withURLParams(authed(http.MethodPut, "/chat/sessions/s1/files/dataset-upload", `{"FileName":`, "u1"), "sessionID", "s1")

		h.UploadToDataset(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid request body", decodeBody(t, rec)["Message"])
	})
}

func TestWorkspaceHandler_ListDocumentsRejectsUnknownType(t *testing.T) {
	h := handler.NewWorkspaceHandler(nil, nil)
	rec := httptest.NewRecorder()
	req := withURLParams(authed(http.MethodGet, "/workspaces/w1/documents?type=video", "", "u1"), "workspaceID", "w1")

	h.ListDocuments(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "type must be file or website", decodeBody(t, rec)["Message"])
}

func TestListOptions_Rejected(t *testing.T) {
	h := handler.NewChatbotHandler(nil)
	tests := []struct {
		name    string
		query   string
		message string
	}{
		{"negative offset", "offset=-1", "offset must be a non-negative integer"},
		{"non numeric limit", "limit=ten", "limit must be a non-negative integer"},
		{"limit above max", "limit=1001", "limit must be at most 1000"},
		{"unknown sort order", "sortorder=sideways", "sortorder must be asc or desc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.List(rec, authed(http.MethodGet, "/chatbots?"+tt.query, "", "u1"))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, decodeBody(t, rec)["Message"])
		})
	}
}

func TestCatalogHandler_UpdateModelRequiresFlag(t *testing.T) {
	h := handler.NewCatalogHandler(nil, nil, nil)
	rec := httptest.NewRecorder()
	req := withURLParams(authed(http.MethodPut, "/models/m1", `{}`, "u1"), "modelID", "m1")

	h.UpdateModel(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"IsEnabled": "field is required"}, decodeBody(t, rec)["Message"])
}
