package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/pkg/jwt"
	"callsignal-backend/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRevocation struct {
	revoked bool
	err     error
}

func (f fakeRevocation) IsRevoked(context.Context, string) (bool, error) {
	return f.revoked, f.err
}

type failingCounter struct{}

func (failingCounter) SafeIncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func newAuthRouter(manager *jwt.JWTManager, checker RevocationChecker) *gin.Engine {
	router := gin.New()
	router.Use(AuthMiddleware(manager, checker))
	router.GET("/me", func(c *gin.Context) {
		userID, _ := UserID(c)
		c.String(http.StatusOK, userID.String())
	})
	return router
}

func doRequest(router http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	manager := jwt.NewJWTManager("test-secret-key-for-testing-purposes", "callsignal-api", time.Minute)
	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "alice")
	require.NoError(t, err)

	t.Run("missing header", func(t *testing.T) {
		w := doRequest(newAuthRouter(manager, nil), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
	})

	t.Run("invalid token", func(t *testing.T) {
		w := doRequest(newAuthRouter(manager, nil), "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
	})

	t.Run("expired token", func(t *testing.T) {
		expired, err := jwt.NewJWTManager("test-secret-key-for-testing-purposes", "callsignal-api", -time.Minute).
			GenerateAccessToken(userID, "alice")
		require.NoError(t, err)

		w := doRequest(newAuthRouter(manager, nil), expired)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "EXPIRED_TOKEN")
	})

	t.Run("valid token", func(t *testing.T) {
		w := doRequest(newAuthRouter(manager, nil), token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, userID.String(), w.Body.String())
	})

	t.Run("revoked token", func(t *testing.T) {
		w := doRequest(newAuthRouter(manager, fakeRevocation{revoked: true}), token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Token revoked")
		assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
	})

	t.Run("revocation store down fails open", func(t *testing.T) {
		w := doRequest(newAuthRouter(manager, fakeRevocation{err: errors.New("redis down")}), token)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	m := metrics.NewMetrics("test")
	router := gin.New()
	router.Use(NewRateLimiter(failingCounter{}, 2, time.Minute, m).Middleware())
	router.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, doRequest(router, "").Code)
	second := doRequest(router, "")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	blocked := doRequest(router, "")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "60", blocked.Header().Get("Retry-After"))
	assert.Contains(t, blocked.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestInMemoryCounter_WindowResets(t *testing.T) {
	counter := NewInMemoryCounter()
	clock := time.Now()
	counter.now = func() time.Time { return clock }

	for i := int64(1); i <= 3; i++ {
		n, err := counter.SafeIncrWindow(context.Background(), "k", time.Second)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	clock = clock.Add(time.Second)
	n, err := counter.SafeIncrWindow(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(RequestLogger(), Recovery())
	router.GET("/me", func(c *gin.Context) { panic("boom") })

	w := doRequest(router, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestCORSMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware([]string{"http://localhost:3000"}))
	router.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
