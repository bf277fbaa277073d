package push

import (
	"context"
	"fmt"
	"sync"

	"callsignal-backend/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// IncomingCall describes a ringing call for the receiver's devices
type IncomingCall struct {
	CallID     uuid.UUID
	CallerID   uuid.UUID
	CallerName string
	ReceiverID uuid.UUID
	MediaKind  string
	Timestamp  int64
}

// CallEnded describes a finished call for the peer that did not hang up
type CallEnded struct {
	CallID    uuid.UUID
	EndedBy   uuid.UUID
	EndedName string
	Status    string
	Reason    string
	Duration  int64
	Recipient uuid.UUID
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
)

// Token represents a push notification token for a user
type Token struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	Platform  string    `json:"platform,omitempty"` // ios, android
	Active    bool      `json:"active"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository stores device tokens per user
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	MarkInactive(ctx context.Context, token string) error
}

// Recorder receives push delivery outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordPushNotification(notificationType string)
	RecordPushNotificationFailure(notificationType string)
}

// Service handles push notification operations
type Service struct {
	provider Provider
	repo     TokenRepository
	recorder Recorder
}

// NewService creates a new push notification service. recorder may be nil.
func NewService(provider Provider, repo TokenRepository, recorder Recorder) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
		recorder: recorder,
	}
}

// RegisterToken registers or refreshes a device token
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	token.Active = true
	return s.repo.Store(ctx, token)
}

// NotifyIncomingCall alerts the receiver's devices about a ringing call
func (s *Service) NotifyIncomingCall(ctx context.Context, data *IncomingCall) error {
	notification := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", data.CallerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"type":        "call",
			"call_id":     data.CallID.String(),
			"caller_id":   data.CallerID.String(),
			"caller_name": data.CallerName,
			"media_kind":  data.MediaKind,
			"timestamp":   fmt.Sprintf("%d", data.Timestamp),
		},
	}

	return s.send(ctx, "incoming_call", data.CallID, notification, data.ReceiverID)
}

// NotifyCallEnded tells the remaining participant that the call is over
func (s *Service) NotifyCallEnded(ctx context.Context, data *CallEnded) error {
	title := "Call Ended"
	body := fmt.Sprintf("Call ended by %s. Duration: %s", data.EndedName, formatDuration(data.Duration))
	notificationType := "call_ended"
	if data.Status == "rejected" {
		title = "Missed Call"
		body = fmt.Sprintf("You missed a call from %s", data.EndedName)
		notificationType = "missed_call"
	}

	notification := &Notification{
		Title:    title,
		Body:     body,
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":     notificationType,
			"call_id":  data.CallID.String(),
			"ended_by": data.EndedBy.String(),
			"reason":   data.Reason,
			"duration": fmt.Sprintf("%d", data.Duration),
		},
	}

	return s.send(ctx, notificationType, data.CallID, notification, data.Recipient)
}

func (s *Service) send(ctx context.Context, notificationType string, callID uuid.UUID, notification *Notification, userIDs ...uuid.UUID) error {
	var allTokens []string
	for _, userID := range userIDs {
		tokens, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("Failed to get push tokens for user",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}

		for _, token := range tokens {
			if token.Active {
				allTokens = append(allTokens, token.Token)
			}
		}
	}

	if len(allTokens) == 0 {
		logger.Debug("No active push tokens for recipients",
			zap.String("call_id", callID.String()),
			zap.String("type", notificationType))
		return nil
	}

	result, err := s.provider.Send(ctx, notification, allTokens)
	if err != nil {
		if s.recorder != nil {
			s.recorder.RecordPushNotificationFailure(notificationType)
		}
		logger.Error("Failed to send push notification",
			zap.String("call_id", callID.String()),
			zap.String("type", notificationType),
			zap.Int("token_count", len(allTokens)),
			zap.Error(err))
		return fmt.Errorf("failed to send %s notification: %w", notificationType, err)
	}

	if s.recorder != nil {
		s.recorder.RecordPushNotification(notificationType)
	}
	logger.Info("Push notification sent",
		zap.String("call_id", callID.String()),
		zap.String("type", notificationType),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	for _, token := range result.InvalidTokens {
		if err := s.repo.MarkInactive(ctx, token); err != nil {
			logger.Warn("Failed to mark token as inactive",
				zap.String("token_prefix", maskPushToken(token)),
				zap.Error(err))
		}
	}

	return nil
}

// formatDuration formats duration in seconds to human-readable format
func formatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// maskPushToken returns a safe masked version of a push token for logging
func maskPushToken(token string) string {
	if len(token) <= 16 {
		return "********"
	}
	return token[:8] + "..." + token[len(token)-8:]
}

// MockProvider records notifications instead of sending them
type MockProvider struct {
	mu   sync.Mutex
	Sent []*Notification
}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, notification)
	m.mu.Unlock()

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}

// Count returns how many notifications were sent
func (m *MockProvider) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
