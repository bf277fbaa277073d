package notification

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/push"
)

// Notifier sends call notifications to devices. *push.Service satisfies it.
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, data *push.IncomingCall) error
	NotifyCallEnded(ctx context.Context, data *push.CallEnded) error
}

// ProfileLookup resolves display names for notification text
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error)
}

// PushSink turns call events into device notifications. Only ringing calls and
// finished calls reach devices; signaling traffic is polled.
type PushSink struct {
	notifier Notifier
	profiles ProfileLookup
}

// NewPushSink creates a new PushSink
func NewPushSink(notifier Notifier, profiles ProfileLookup) *PushSink {
	return &PushSink{notifier: notifier, profiles: profiles}
}

// Publish implements the call event sink
func (s *PushSink) Publish(ctx context.Context, event *domain.CallEvent) error {
	switch event.Type {
	case domain.CallEventCreated:
		return s.notifier.NotifyIncomingCall(ctx, &push.IncomingCall{
			CallID:     event.CallID,
			CallerID:   event.CallerID,
			CallerName: s.displayName(ctx, event.CallerID),
			ReceiverID: event.ReceiverID,
			MediaKind:  string(event.MediaKind),
			Timestamp:  event.OccurredAt.Unix(),
		})
	case domain.CallEventTerminated:
		duration, _ := strconv.ParseInt(event.Data["duration"], 10, 64)
		recipient := event.ReceiverID
		if event.ActorID == event.ReceiverID {
			recipient = event.CallerID
		}
		return s.notifier.NotifyCallEnded(ctx, &push.CallEnded{
			CallID:    event.CallID,
			EndedBy:   event.ActorID,
			EndedName: s.displayName(ctx, event.ActorID),
			Status:    string(event.Status),
			Reason:    event.Data["reason"],
			Duration:  duration,
			Recipient: recipient,
		})
	default:
		return nil
	}
}

func (s *PushSink) displayName(ctx context.Context, userID uuid.UUID) string {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		logger.Debug("Profile lookup for notification failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return "Someone"
	}
	if profile.DisplayName != "" {
		return profile.DisplayName
	}
	return profile.Username
}
