package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Rrens/genai-platform/internal/api/middleware"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/repository/redis"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/Rrens/genai-platform/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-key-with-32-characters"

type fakeRegistrar struct {
	seen []service.Identity
	err  error
}

func (f *fakeRegistrar) Ensure(ctx context.Context, id service.Identity) (*domain.User, error) {
	f.seen = append(f.seen, id)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.User{ID: id.UserID}, nil
}

type fakeLimiter struct {
	decision redis.Decision
	err      error
}

func (f fakeLimiter) Allow(ctx context.Context, scope, principal string) (redis.Decision, error) {
	return f.decision, f.err
}

// echoUser writes the caller id seen by the next handler.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	_, _ = w.Write([]byte(userID))
})

func TestAuthenticate(t *testing.T) {
	jwtManager := security.NewJWTManager(secret, "genai-platform", time.Hour)
	token, err := jwtManager.GenerateAccessToken("user-1", "jane@example.com", "Jane")
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"bearer token", "Bearer " + token, http.StatusOK, "user-1"},
		{"raw token", token, http.StatusOK, "user-1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, ""},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/workspaces", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			middleware.NewAuthMiddleware(jwtManager, nil).Authenticate(echoUser).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestAuthenticate_RegistersCaller(t *testing.T) {
	jwtManager := security.NewJWTManager(secret, "genai-platform", time.Hour)
	token, err := jwtManager.GenerateAccessToken("user-1", "jane@example.com", "Jane")
	require.NoError(t, err)

	t.Run("ensures the user record", func(t *testing.T) {
		users := &fakeRegistrar{}
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		middleware.NewAuthMiddleware(jwtManager, users).Authenticate(echoUser).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, users.seen, 1)
		assert.Equal(t, service.Identity{UserID: "user-1", Email: "jane@example.com", Name: "Jane"}, users.seen[0])
	})

	t.Run("registration failure stops the request", func(t *testing.T) {
		users := &fakeRegistrar{err: domain.Storage(errors.New("db down"), "failed to save user")}
		req := httptest.NewRequest(http.MethodGet, "/users", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		middleware.NewAuthMiddleware(jwtManager, users).Authenticate(echoUser).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"Message":"failed to save user"}`, rec.Body.String())
	})
}

func TestRateLimit(t *testing.T) {
	reset := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("allowed", func(t *testing.T) {
		limiter := fakeLimiter{decision: redis.Decision{Allowed: true, Remaining: 4, ResetAt: reset}}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()

		middleware.NewRateLimitMiddleware(limiter, "api").Limit(echoUser).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "2026-01-02T03:04:05Z", rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("exceeded", func(t *testing.T) {
		limiter := fakeLimiter{decision: redis.Decision{Allowed: false, ResetAt: reset}}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()

		middleware.NewRateLimitMiddleware(limiter, "api").Limit(echoUser).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("limiter unavailable lets the request through", func(t *testing.T) {
		limiter := fakeLimiter{err: errors.New("redis down")}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
		rec := httptest.NewRecorder()

		middleware.NewRateLimitMiddleware(limiter, "api").Limit(echoUser).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-1", rec.Body.String())
	})

	t.Run("anonymous request", func(t *testing.T) {
		rec := httptest.NewRecorder()

		middleware.NewRateLimitMiddleware(fakeLimiter{}, "api").Limit(echoUser).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
