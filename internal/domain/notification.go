package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallEventType identifies what happened to a call
type CallEventType string

const (
	CallEventCreated        CallEventType = "call.created"
	CallEventAccepted       CallEventType = "call.accepted"
	CallEventTerminated     CallEventType = "call.terminated"
	CallEventOfferUpdated   CallEventType = "call.offer"
	CallEventAnswerUpdated  CallEventType = "call.answer"
	CallEventCandidateAdded CallEventType = "call.candidate"
)

// CallEvent is published to the notification sink whenever a call changes.
// Sinks are advisory; polling remains authoritative.
type CallEvent struct {
	EventID    uuid.UUID         `json:"event_id"`
	Type       CallEventType     `json:"type"`
	CallID     uuid.UUID         `json:"call_id"`
	ActorID    uuid.UUID         `json:"actor_id"`
	CallerID   uuid.UUID         `json:"caller_id"`
	ReceiverID uuid.UUID         `json:"receiver_id"`
	Status     CallStatus        `json:"status"`
	MediaKind  MediaKind         `json:"media_kind"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewCallEvent builds an event snapshot for the given call
func NewCallEvent(t CallEventType, c *Call, actor uuid.UUID) *CallEvent {
	return &CallEvent{
		EventID:    uuid.New(),
		Type:       t,
		CallID:     c.CallID,
		ActorID:    actor,
		CallerID:   c.CallerID,
		ReceiverID: c.ReceiverID,
		Status:     c.Status,
		MediaKind:  c.MediaKind,
		OccurredAt: time.Now(),
	}
}

// Recipients returns the users that should hear about the event
func (e *CallEvent) Recipients() []uuid.UUID {
	return []uuid.UUID{e.CallerID, e.ReceiverID}
}
