package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/pkg/jwt"
)

func TestTokenCommand(t *testing.T) {
	userID := uuid.New()
	secret := "test-secret-key-at-least-32-characters"

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"token", userID.String(), "--secret", secret, "--audience", "callsignal-api", "--username", "alice", "--log-level", "error"})
	require.NoError(t, root.Execute())

	claims, err := jwt.NewJWTManager(secret, "callsignal-api", 0).ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestTokenCommand_InvalidUser(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "not-a-uuid", "--secret", "s", "--log-level", "error"})
	assert.Error(t, root.Execute())
}

func TestCallCommand_RequiresToken(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"call", uuid.NewString(), "--token", "", "--log-level", "error"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token")
}
