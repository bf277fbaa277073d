package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/jwt"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/response"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextTokenID  = "token_id"
)

// RevocationChecker reports whether a token ID has been revoked
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// AuthMiddleware validates the bearer token and stores the caller identity in
// the Gin context. revocationChecker may be nil. Revocation lookups fail open.
func AuthMiddleware(jwtManager *jwt.JWTManager, revocationChecker RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			response.FromError(c, apperrors.UnauthorizedError("Authorization header required"))
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.FromError(c, apperrors.ExpiredTokenError())
			} else {
				response.FromError(c, apperrors.InvalidTokenError("Invalid token"))
			}
			c.Abort()
			return
		}

		if revocationChecker != nil && claims.ID != "" {
			revoked, err := revocationChecker.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				logger.Debug("Token revocation check unavailable", zap.Error(err))
			} else if revoked {
				response.FromError(c, apperrors.InvalidTokenError("Token revoked"))
				c.Abort()
				return
			}
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextTokenID, claims.ID)
		c.Next()
	}
}

// bearerToken reads the token from the Authorization header, or from the
// access_token query parameter for WebSocket upgrades.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("access_token"); token != "" && c.IsWebsocket() {
			return token, true
		}
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// UserID returns the authenticated user set by AuthMiddleware
func UserID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(ContextUserID)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := value.(uuid.UUID)
	return id, ok
}
