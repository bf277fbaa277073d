package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Now()
	mc := NewMemoryCache(time.Minute, 0)
	mc.now = func() time.Time { return now }

	mc.Set("a", 1, 0)
	mc.Set("b", 2, 2*time.Minute)

	v, ok := mc.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(90 * time.Second)
	_, ok = mc.Get("a")
	assert.False(t, ok)
	_, ok = mc.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 1, mc.Size())

	now = now.Add(time.Hour)
	mc.cleanupExpired()
	assert.Equal(t, 0, mc.Size())
}

func TestMemoryCache_EvictsOldest(t *testing.T) {
	now := time.Now()
	mc := NewMemoryCache(time.Minute, 2)
	mc.now = func() time.Time { return now }

	mc.Set("first", 1, 0)
	now = now.Add(time.Second)
	mc.Set("second", 2, 0)
	now = now.Add(time.Second)
	mc.Set("third", 3, 0)

	_, ok := mc.Get("first")
	assert.False(t, ok)
	assert.Equal(t, 2, mc.Size())

	// Overwriting an existing key never evicts
	mc.Set("second", 20, 0)
	assert.Equal(t, 2, mc.Size())

	mc.Delete("third")
	assert.Equal(t, 1, mc.Size())
}

func TestMemoryCache_StopCleanupIdempotent(t *testing.T) {
	stop := NewMemoryCache(time.Minute, 0).StartCleanup(time.Millisecond)
	stop()
	stop()
}
