package response_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rrens/genai-platform/internal/api/response"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.Invalid("bad"), http.StatusBadRequest},
		{domain.Unauthorized("no access"), http.StatusBadRequest},
		{domain.Conflict("in use"), http.StatusBadRequest},
		{domain.E(domain.KindQuotaExceeded, nil, "quota"), http.StatusBadRequest},
		{domain.E(domain.KindModelAccess, nil, "model"), http.StatusBadRequest},
		{domain.E(domain.KindFileTooBig, nil, "big"), http.StatusBadRequest},
		{domain.NotFoundf("missing"), http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", domain.NotFoundf("missing")), http.StatusNotFound},
		{domain.Storage(errors.New("db"), "save failed"), http.StatusInternalServerError},
		{domain.E(domain.KindTimeout, nil, "slow"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, response.StatusOf(tt.err))
		})
	}
}

func TestFromError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/workspaces/w1", nil)

	response.FromError(rec, req, domain.Conflict("workspace is used by chatbots: support-bot"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"Message":"workspace is used by chatbots: support-bot"}`, rec.Body.String())
}

func TestList(t *testing.T) {
	t.Run("more pages", func(t *testing.T) {
		rec := httptest.NewRecorder()

		response.List(rec, "Items", domain.Page[string]{Items: []string{"a", "b"}, Count: 2, TotalCount: 5, NextAvailable: true})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"Items":["a","b"],"count":2,"total_count":5,"next_available":"yes"}`, rec.Body.String())
	})

	t.Run("last page", func(t *testing.T) {
		rec := httptest.NewRecorder()

		response.List(rec, "Items", domain.Page[string]{Items: []string{}, Count: 0, TotalCount: 0})

		assert.JSONEq(t, `{"Items":[],"count":0,"total_count":0,"next_available":"no"}`, rec.Body.String())
	})
}
