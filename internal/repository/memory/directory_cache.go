package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/cache"
)

// ProfileSource is the authoritative user directory behind the cache
type ProfileSource interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error)
}

// CachedDirectory keeps recently resolved profiles in process memory.
// Used in front of the database directory when Redis is not configured.
type CachedDirectory struct {
	source ProfileSource
	cache  *cache.MemoryCache
	stop   func()
}

// NewCachedDirectory creates a CachedDirectory holding at most maxSize profiles for ttl
func NewCachedDirectory(source ProfileSource, ttl time.Duration, maxSize int) *CachedDirectory {
	mc := cache.NewMemoryCache(ttl, maxSize)
	return &CachedDirectory{
		source: source,
		cache:  mc,
		stop:   mc.StartCleanup(ttl),
	}
}

// GetProfile returns the cached profile or loads and caches it. Misses are not cached.
func (d *CachedDirectory) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	key := userID.String()
	if v, ok := d.cache.Get(key); ok {
		cp := *v.(*domain.UserProfile)
		return &cp, nil
	}

	profile, err := d.source.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	cp := *profile
	d.cache.Set(key, &cp, 0)
	return profile, nil
}

// Invalidate drops a cached profile
func (d *CachedDirectory) Invalidate(userID uuid.UUID) {
	d.cache.Delete(userID.String())
}

// Close stops the background cleanup
func (d *CachedDirectory) Close() {
	d.stop()
}
