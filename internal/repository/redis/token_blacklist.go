package redis

import (
	"context"
	"fmt"
	"time"

	"callsignal-backend/internal/database"
)

// TokenBlacklist records revoked access tokens by jti
type TokenBlacklist struct {
	client *database.RedisClient
}

// NewTokenBlacklist creates a new TokenBlacklist
func NewTokenBlacklist(client *database.RedisClient) *TokenBlacklist {
	return &TokenBlacklist{client: client}
}

func blacklistKey(tokenID string) string {
	return fmt.Sprintf("blacklist:%s", tokenID)
}

// Revoke blacklists tokenID until the token would have expired anyway
func (b *TokenBlacklist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if err := b.client.SafeSet(ctx, blacklistKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID has been blacklisted
func (b *TokenBlacklist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	exists, err := b.client.SafeExists(ctx, blacklistKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}
	return exists > 0, nil
}
