package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
)

type countingSource struct {
	*UserDirectory
	calls int
}

func (s *countingSource) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	s.calls++
	return s.UserDirectory.GetProfile(ctx, userID)
}

func TestCachedDirectory(t *testing.T) {
	ctx := context.Background()
	alice := &domain.UserProfile{UserID: uuid.New(), Username: "alice"}
	source := &countingSource{UserDirectory: NewUserDirectory(alice)}

	dir := NewCachedDirectory(source, time.Minute, 10)
	defer dir.Close()

	for i := 0; i < 3; i++ {
		p, err := dir.GetProfile(ctx, alice.UserID)
		require.NoError(t, err)
		assert.Equal(t, "alice", p.Username)
	}
	assert.Equal(t, 1, source.calls)

	// Callers may not mutate the cached copy
	p, _ := dir.GetProfile(ctx, alice.UserID)
	p.Username = "mallory"
	p, _ = dir.GetProfile(ctx, alice.UserID)
	assert.Equal(t, "alice", p.Username)

	dir.Invalidate(alice.UserID)
	_, err := dir.GetProfile(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)

	missing := uuid.New()
	_, err = dir.GetProfile(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = dir.GetProfile(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Equal(t, 4, source.calls)
}
