package push

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callsignal-backend/internal/middleware"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/push"
	"callsignal-backend/pkg/response"
	"callsignal-backend/pkg/sanitize"
)

// Handler handles push notification HTTP requests
type Handler struct {
	pushService *push.Service
}

// NewHandler creates a new push notification handler
func NewHandler(pushService *push.Service) *Handler {
	return &Handler{
		pushService: pushService,
	}
}

// RegisterTokenRequest represents request to register a push token
type RegisterTokenRequest struct {
	Token    string         `json:"token" binding:"required"`
	Type     push.TokenType `json:"type" binding:"required,oneof=fcm apns"`
	Platform string         `json:"platform" binding:"omitempty,oneof=ios android"`
}

// RegisterToken registers a device token for incoming call alerts
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	value := sanitize.Token(req.Token)
	if value == "" {
		response.ValidationError(c, "Token is empty")
		return
	}

	token := &push.Token{
		UserID:    userID,
		Token:     value,
		Type:      req.Type,
		Platform:  req.Platform,
		UpdatedAt: time.Now().Unix(),
	}

	if err := h.pushService.RegisterToken(c.Request.Context(), token); err != nil {
		logger.Error("Failed to register push token",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.InternalError(c, "Failed to register token")
		return
	}

	logger.Info("Push token registered",
		zap.String("user_id", userID.String()),
		zap.String("token_type", string(req.Type)),
		zap.String("platform", req.Platform))

	response.Success(c, http.StatusCreated, gin.H{
		"message": "Token registered successfully",
	})
}
