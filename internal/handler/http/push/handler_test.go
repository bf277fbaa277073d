package push

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/middleware"
	"callsignal-backend/internal/repository/memory"
	"callsignal-backend/pkg/push"
)

func setupRouter(repo push.TokenRepository, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set(middleware.ContextUserID, userID)
		}
		c.Next()
	})
	h := NewHandler(push.NewService(&push.MockProvider{}, repo, nil))
	router.POST("/v1/push/tokens", h.RegisterToken)
	return router
}

func TestRegisterToken(t *testing.T) {
	repo := memory.NewPushTokenRepository()
	userID := uuid.New()
	router := setupRouter(repo, userID)

	body := `{"token":"device-token-123","type":"fcm","platform":"android"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/push/tokens", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	tokens, err := repo.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.True(t, tokens[0].Active)
	assert.Equal(t, push.TokenTypeFCM, tokens[0].Type)
}

func TestRegisterToken_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing token", `{"type":"fcm"}`},
		{"unknown type", `{"token":"t","type":"web"}`},
		{"unknown platform", `{"token":"t","type":"apns","platform":"symbian"}`},
		{"blank token", `{"token":"  \n ","type":"fcm"}`},
	}

	router := setupRouter(memory.NewPushTokenRepository(), uuid.New())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/push/tokens", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
		})
	}
}

func TestRegisterToken_Unauthenticated(t *testing.T) {
	router := setupRouter(memory.NewPushTokenRepository(), uuid.Nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/push/tokens", bytes.NewBufferString(`{"token":"t","type":"fcm"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
