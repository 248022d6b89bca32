package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	manager := NewJWTManager("test-secret-key-that-is-long-enough", "genai-platform", 15*time.Minute)

	token, err := manager.GenerateAccessToken("user-1", "user@example.com", "User One")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := manager.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "User One", claims.Name)
}

func TestJWTManager_InvalidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", "genai-platform", 15*time.Minute)

	t.Run("garbage", func(t *testing.T) {
		_, err := manager.ValidateAccessToken("invalid-token")
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTManager("different-secret", "genai-platform", 15*time.Minute)
		token, err := other.GenerateAccessToken("user-1", "", "")
		require.NoError(t, err)

		_, err = manager.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewJWTManager("test-secret", "someone-else", 15*time.Minute)
		token, err := other.GenerateAccessToken("user-1", "", "")
		require.NoError(t, err)

		_, err = manager.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		short := NewJWTManager("test-secret", "genai-platform", -time.Minute)
		token, err := short.GenerateAccessToken("user-1", "", "")
		require.NoError(t, err)

		_, err = manager.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := manager.GenerateAccessToken("", "", "")
		require.NoError(t, err)

		_, err = manager.ValidateAccessToken(token)
		assert.Error(t, err)
	})
}
