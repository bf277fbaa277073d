package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"callsignal-backend/internal/database"
	"callsignal-backend/internal/domain"
)

// CallChannel is the pub/sub channel carrying events of one call
func CallChannel(callID uuid.UUID) string {
	return fmt.Sprintf("call:%s", callID)
}

// UserChannel is the pub/sub channel carrying call events for one user
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:calls", userID)
}

// EventPublisher fans call events out over Redis pub/sub
type EventPublisher struct {
	client *database.RedisClient
}

// NewEventPublisher creates a new EventPublisher
func NewEventPublisher(client *database.RedisClient) *EventPublisher {
	return &EventPublisher{client: client}
}

// Publish sends the event to the call channel and to each participant's channel
func (p *EventPublisher) Publish(ctx context.Context, event *domain.CallEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal call event: %w", err)
	}

	channels := []string{CallChannel(event.CallID)}
	for _, userID := range event.Recipients() {
		channels = append(channels, UserChannel(userID))
	}

	var errs []error
	for _, channel := range channels {
		if err := p.client.SafePublish(ctx, channel, data).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish to %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}
