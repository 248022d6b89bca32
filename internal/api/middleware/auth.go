package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Rrens/genai-platform/internal/api/response"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/Rrens/genai-platform/internal/repository/redis"
	"github.com/Rrens/genai-platform/internal/security"
	"github.com/Rrens/genai-platform/internal/service"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	UserIDKey    contextKey = "userID"
	UserEmailKey contextKey = "userEmail"
)

// Registrar records the caller on first authentication.
type Registrar interface {
	Ensure(ctx context.Context, id service.Identity) (*domain.User, error)
}

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	jwtManager *security.JWTManager
	users      Registrar
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtManager *security.JWTManager, users Registrar) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager, users: users}
}

// Authenticate validates the JWT token
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Unauthorized(w, "missing authorization header")
			return
		}

		token := authHeader
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 {
			if strings.ToLower(parts[0]) != "bearer" {
				response.Unauthorized(w, "invalid authorization header format")
				return
			}
			token = parts[1]
		}

		claims, err := m.jwtManager.ValidateAccessToken(token)
		if err != nil {
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		if m.users != nil {
			if _, err := m.users.Ensure(r.Context(), service.Identity{
				UserID: claims.UserID(),
				Email:  claims.Email,
				Name:   claims.Name,
			}); err != nil {
				response.FromError(w, r, err)
				return
			}
		}

		// Add user info to context
		ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID())
		ctx = context.WithValue(ctx, UserEmailKey, claims.Email)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithUserID returns ctx carrying userID as the authenticated caller.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID gets the user ID from context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// GetUserEmail gets the user email from context
func GetUserEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok
}

// Limiter counts requests per principal.
type Limiter interface {
	Allow(ctx context.Context, scope, principal string) (redis.Decision, error)
}

// RateLimitMiddleware handles rate limiting
type RateLimitMiddleware struct {
	rateLimiter Limiter
	scope       string
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(rateLimiter Limiter, scope string) *RateLimitMiddleware {
	return &RateLimitMiddleware{rateLimiter: rateLimiter, scope: scope}
}

// Limit applies rate limiting based on user ID
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			response.Unauthorized(w, "unauthorized")
			return
		}

		decision, err := m.rateLimiter.Allow(r.Context(), m.scope, userID)
		if err != nil {
			// If rate limiter fails, allow the request but log the error
			log.Warn().Err(err).Str("user_id", userID).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		// Set rate limit headers
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", decision.ResetAt.UTC().Format("2006-01-02T15:04:05Z"))

		if !decision.Allowed {
			response.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
