package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes"

func TestNewJWTManager(t *testing.T) {
	manager := NewJWTManager(testSecret, "callsignal-api", 15*time.Minute)

	assert.NotNil(t, manager)
	assert.Equal(t, testSecret, manager.secretKey)
	assert.Equal(t, "callsignal-api", manager.audience)
	assert.Equal(t, 15*time.Minute, manager.accessTokenDuration)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager(testSecret, "callsignal-api", 15*time.Minute)
	userID := uuid.New()

	token, err := manager.GenerateAccessToken(userID, "alice")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager(testSecret, "callsignal-api", -time.Minute)

	token, err := manager.GenerateAccessToken(uuid.New(), "alice")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	manager1 := NewJWTManager("secret1", "callsignal-api", 15*time.Minute)
	manager2 := NewJWTManager("secret2", "callsignal-api", 15*time.Minute)

	token, err := manager1.GenerateAccessToken(uuid.New(), "alice")
	require.NoError(t, err)

	_, err = manager2.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_WrongAudience(t *testing.T) {
	issuer := NewJWTManager(testSecret, "other-api", 15*time.Minute)
	verifier := NewJWTManager(testSecret, "callsignal-api", 15*time.Minute)

	token, err := issuer.GenerateAccessToken(uuid.New(), "alice")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Malformed(t *testing.T) {
	manager := NewJWTManager(testSecret, "callsignal-api", 15*time.Minute)

	for _, token := range []string{"", "invalid.token.string", "not-a-jwt"} {
		_, err := manager.ValidateToken(token)
		assert.Error(t, err, "token %q", token)
	}
}

func TestTokenID(t *testing.T) {
	manager := NewJWTManager(testSecret, "callsignal-api", 15*time.Minute)
	token, err := manager.GenerateAccessToken(uuid.New(), "alice")
	require.NoError(t, err)

	id, err := TokenID(token)
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, claims.ID, id)

	_, err = TokenID("garbage")
	assert.Error(t, err)
}
