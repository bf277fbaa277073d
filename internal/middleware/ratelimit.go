package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/metrics"
	"callsignal-backend/pkg/response"
)

// WindowCounter increments a counter that expires with its window.
// *database.RedisClient satisfies it.
type WindowCounter interface {
	SafeIncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// InMemoryCounter is a process-local WindowCounter used when Redis is unavailable
type InMemoryCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*counterWindow
}

type counterWindow struct {
	count     int64
	expiresAt time.Time
}

// NewInMemoryCounter creates a new in-memory counter
func NewInMemoryCounter() *InMemoryCounter {
	return &InMemoryCounter{now: time.Now, windows: make(map[string]*counterWindow)}
}

// SafeIncrWindow implements WindowCounter
func (im *InMemoryCounter) SafeIncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	now := im.now()
	w, ok := im.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &counterWindow{expiresAt: now.Add(window)}
		im.windows[key] = w
	}
	w.count++

	if len(im.windows) > 10000 {
		for k, v := range im.windows {
			if !now.Before(v.expiresAt) {
				delete(im.windows, k)
			}
		}
	}
	return w.count, nil
}

// RateLimiter enforces a fixed window request budget per user, or per client
// IP before authentication. It falls back to process-local counting when the
// shared counter fails.
type RateLimiter struct {
	primary  WindowCounter
	fallback WindowCounter
	requests int
	window   time.Duration
	metrics  *metrics.Metrics
}

// NewRateLimiter creates a new rate limiter. primary may be nil, and m may be nil.
func NewRateLimiter(primary WindowCounter, requests int, window time.Duration, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		primary:  primary,
		fallback: NewInMemoryCounter(),
		requests: requests,
		window:   window,
		metrics:  m,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := UserID(c); ok {
			identifier = "user:" + userID.String()
		}
		key := fmt.Sprintf("ratelimit:%s", identifier)

		count, err := rl.increment(c.Request.Context(), key)
		if err != nil {
			c.Next()
			return
		}

		remaining := int64(rl.requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(rl.requests) {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitBlocked(c.FullPath())
			}
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			response.FromError(c, apperrors.RateLimitExceededError())
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) increment(ctx context.Context, key string) (int64, error) {
	if rl.primary != nil {
		count, err := rl.primary.SafeIncrWindow(ctx, key, rl.window)
		if err == nil {
			return count, nil
		}
		logger.Debug("Shared rate limit counter unavailable, using local counter", zap.Error(err))
	}
	return rl.fallback.SafeIncrWindow(ctx, key, rl.window)
}
