package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
)

const callEventsTable = `
	CREATE TABLE IF NOT EXISTS call_events (
		call_id uuid,
		occurred_at timestamp,
		event_id uuid,
		event_type text,
		actor_id uuid,
		status text,
		data map<text, text>,
		PRIMARY KEY ((call_id), occurred_at, event_id)
	) WITH CLUSTERING ORDER BY (occurred_at ASC, event_id ASC)
`

// CallEventRepository journals call events in Cassandra, partitioned by call
type CallEventRepository struct {
	session *gocql.Session
}

// NewCallEventRepository creates a new CallEventRepository
func NewCallEventRepository(session *gocql.Session) *CallEventRepository {
	return &CallEventRepository{session: session}
}

// EnsureSchema creates the journal table if needed
func (r *CallEventRepository) EnsureSchema(ctx context.Context) error {
	if err := r.session.Query(callEventsTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create call_events table: %w", err)
	}
	return nil
}

// Publish appends the event to the journal
func (r *CallEventRepository) Publish(ctx context.Context, event *domain.CallEvent) error {
	query := `
		INSERT INTO call_events (
			call_id, occurred_at, event_id, event_type, actor_id, status, data
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		gocql.UUID(event.CallID),
		event.OccurredAt,
		gocql.UUID(event.EventID),
		string(event.Type),
		gocql.UUID(event.ActorID),
		string(event.Status),
		event.Data,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to journal call event: %w", err)
	}

	return nil
}

// ListByCall returns up to limit journal entries for a call in order
func (r *CallEventRepository) ListByCall(ctx context.Context, callID uuid.UUID, limit int) ([]*domain.CallEvent, error) {
	query := `
		SELECT occurred_at, event_id, event_type, actor_id, status, data
		FROM call_events
		WHERE call_id = ?
		LIMIT ?
	`

	iter := r.session.Query(query, gocql.UUID(callID), limit).WithContext(ctx).Iter()

	var events []*domain.CallEvent
	var (
		occurredAt time.Time
		eventID    gocql.UUID
		eventType  string
		actorID    gocql.UUID
		status     string
		data       map[string]string
	)
	for iter.Scan(&occurredAt, &eventID, &eventType, &actorID, &status, &data) {
		events = append(events, &domain.CallEvent{
			EventID:    uuid.UUID(eventID),
			Type:       domain.CallEventType(eventType),
			CallID:     callID,
			ActorID:    uuid.UUID(actorID),
			Status:     domain.CallStatus(status),
			Data:       data,
			OccurredAt: occurredAt,
		})
		data = nil
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list call events: %w", err)
	}

	return events, nil
}
