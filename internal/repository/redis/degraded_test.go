package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/database"
	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/repository/memory"
	"callsignal-backend/pkg/config"
)

// degradedClient points at a closed port and fails its health check
func degradedClient(t *testing.T) *database.RedisClient {
	t.Helper()
	client := database.NewRedisDB(config.RedisConfig{
		Host:     "127.0.0.1",
		Port:     1,
		PoolSize: 1,
		Timeout:  100 * time.Millisecond,
	}, prometheus.NewRegistry())
	t.Cleanup(func() { _ = client.Close() })

	require.Error(t, client.HealthCheck(context.Background()))
	require.True(t, client.IsDegraded())
	return client
}

func TestChannels(t *testing.T) {
	id := uuid.MustParse("9b2f4a8e-0a8c-4a5e-9d55-3f1d7b7f2c11")
	assert.Equal(t, "call:9b2f4a8e-0a8c-4a5e-9d55-3f1d7b7f2c11", CallChannel(id))
	assert.Equal(t, "user:9b2f4a8e-0a8c-4a5e-9d55-3f1d7b7f2c11:calls", UserChannel(id))
}

func TestCachedDirectory_FallsThroughWhenDegraded(t *testing.T) {
	profile := &domain.UserProfile{UserID: uuid.New(), Username: "alice"}
	dir := NewCachedDirectory(memory.NewUserDirectory(profile), degradedClient(t), time.Minute)

	got, err := dir.GetProfile(context.Background(), profile.UserID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = dir.GetProfile(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestEventPublisher_ReportsDegradedMode(t *testing.T) {
	publisher := NewEventPublisher(degradedClient(t))
	call := &domain.Call{CallID: uuid.New(), CallerID: uuid.New(), ReceiverID: uuid.New()}

	err := publisher.Publish(context.Background(), domain.NewCallEvent(domain.CallEventCreated, call, call.CallerID))
	assert.ErrorIs(t, err, database.ErrRedisDegraded)
}

func TestPushTokenRepository_ReportsDegradedMode(t *testing.T) {
	repo := NewPushTokenRepository(degradedClient(t))

	_, err := repo.GetByUserID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, database.ErrRedisDegraded)
}

func TestTokenBlacklist_ReportsDegradedMode(t *testing.T) {
	blacklist := NewTokenBlacklist(degradedClient(t))

	_, err := blacklist.IsRevoked(context.Background(), "jti")
	assert.ErrorIs(t, err, database.ErrRedisDegraded)
}
