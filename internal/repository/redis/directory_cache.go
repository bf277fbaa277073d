package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsignal-backend/internal/database"
	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/logger"
)

// ProfileSource is the authoritative user directory behind the cache
type ProfileSource interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error)
}

// CachedDirectory keeps recently used profiles in Redis. Cache failures fall
// through to the source.
type CachedDirectory struct {
	source ProfileSource
	client *database.RedisClient
	ttl    time.Duration
}

// NewCachedDirectory creates a new CachedDirectory
func NewCachedDirectory(source ProfileSource, client *database.RedisClient, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{source: source, client: client, ttl: ttl}
}

func profileKey(userID uuid.UUID) string {
	return fmt.Sprintf("directory:profile:%s", userID)
}

// GetProfile returns the cached profile or loads and caches it
func (d *CachedDirectory) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	key := profileKey(userID)

	if data, err := d.client.SafeGet(ctx, key).Bytes(); err == nil {
		var profile domain.UserProfile
		if err := json.Unmarshal(data, &profile); err == nil {
			return &profile, nil
		}
	}

	profile, err := d.source.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(profile)
	if err == nil {
		if err := d.client.SafeSet(ctx, key, data, d.ttl).Err(); err != nil {
			logger.Debug("Failed to cache profile",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	return profile, nil
}

// Invalidate drops a cached profile
func (d *CachedDirectory) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return d.client.SafeDel(ctx, profileKey(userID)).Err()
}
