package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callsignal-backend/internal/domain"
)

// CallRepository handles call and ICE candidate data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

const callColumns = `call_id, caller_id, receiver_id, media_kind, status,
		       offer, offer_version, answer, answer_version,
		       created_at, updated_at, answered_at, ended_at, duration, ended_by, end_reason`

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	err := row.Scan(
		&call.CallID,
		&call.CallerID,
		&call.ReceiverID,
		&call.MediaKind,
		&call.Status,
		&call.Offer,
		&call.OfferVersion,
		&call.Answer,
		&call.AnswerVersion,
		&call.CreatedAt,
		&call.UpdatedAt,
		&call.AnsweredAt,
		&call.EndedAt,
		&call.Duration,
		&call.EndedBy,
		&call.EndReason,
	)
	if err != nil {
		return nil, err
	}
	return call, nil
}

// Create creates a new call record
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			call_id, caller_id, receiver_id, media_kind, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.CallerID,
		call.ReceiverID,
		call.MediaKind,
		call.Status,
		call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// GetActiveForUser returns the most recent ringing or connected call the user is
// part of, or nil when there is none
func (r *CallRepository) GetActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + `
		FROM calls
		WHERE (caller_id = $1 OR receiver_id = $1)
		  AND status IN ('ringing', 'connected')
		ORDER BY created_at DESC
		LIMIT 1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active call: %w", err)
	}

	return call, nil
}

// GetUserCalls retrieves the call history of a user, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `SELECT ` + callColumns + `
		FROM calls
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// UpdateLifecycle persists status, timestamps and end details of call only if the
// stored status still equals expected. It reports whether the row was updated.
func (r *CallRepository) UpdateLifecycle(ctx context.Context, call *domain.Call, expected domain.CallStatus) (bool, error) {
	query := `
		UPDATE calls
		SET status = $3,
		    answered_at = $4,
		    ended_at = $5,
		    duration = $6,
		    ended_by = $7,
		    end_reason = $8,
		    updated_at = $9
		WHERE call_id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query,
		call.CallID,
		expected,
		call.Status,
		call.AnsweredAt,
		call.EndedAt,
		call.Duration,
		call.EndedBy,
		call.EndReason,
		call.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update call status: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// SetOffer overwrites the offer while the call is ringing and returns the new version.
// ok is false when the call is no longer ringing.
func (r *CallRepository) SetOffer(ctx context.Context, callID uuid.UUID, payload string, at time.Time) (int64, bool, error) {
	query := `
		UPDATE calls
		SET offer = $2, offer_version = offer_version + 1, updated_at = $3
		WHERE call_id = $1 AND status = 'ringing'
		RETURNING offer_version
	`

	var version int64
	err := r.pool.QueryRow(ctx, query, callID, payload, at).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to set offer: %w", err)
	}

	return version, true, nil
}

// SetAnswer overwrites the answer while the call is active and already has an offer.
// ok is false when either condition no longer holds.
func (r *CallRepository) SetAnswer(ctx context.Context, callID uuid.UUID, payload string, at time.Time) (int64, bool, error) {
	query := `
		UPDATE calls
		SET answer = $2, answer_version = answer_version + 1, updated_at = $3
		WHERE call_id = $1
		  AND status IN ('ringing', 'connected')
		  AND offer_version > 0
		RETURNING answer_version
	`

	var version int64
	err := r.pool.QueryRow(ctx, query, callID, payload, at).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to set answer: %w", err)
	}

	return version, true, nil
}

// AppendCandidate allocates the next sequence number for the call and stores the
// candidate in one transaction. ok is false when the call is no longer active.
func (r *CallRepository) AppendCandidate(ctx context.Context, candidate *domain.ICECandidate) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	seqQuery := `
		UPDATE calls
		SET candidate_seq = candidate_seq + 1
		WHERE call_id = $1 AND status IN ('ringing', 'connected')
		RETURNING candidate_seq
	`
	var seq int64
	if err := tx.QueryRow(ctx, seqQuery, candidate.CallID).Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to allocate candidate sequence: %w", err)
	}

	insertQuery := `
		INSERT INTO call_candidates (call_id, sequence, owner_id, payload, added_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, insertQuery,
		candidate.CallID,
		seq,
		candidate.OwnerID,
		candidate.Payload,
		candidate.AddedAt,
	); err != nil {
		return false, fmt.Errorf("failed to insert candidate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit candidate: %w", err)
	}

	candidate.Sequence = seq
	return true, nil
}

// ListCandidates returns the candidate log of a call in sequence order
func (r *CallRepository) ListCandidates(ctx context.Context, callID uuid.UUID, filter domain.CandidateFilter) ([]*domain.ICECandidate, error) {
	query := `
		SELECT call_id, sequence, owner_id, payload, added_at
		FROM call_candidates
		WHERE call_id = $1 AND sequence > $2
		  AND ($3::UUID IS NULL OR owner_id <> $3)
		ORDER BY sequence ASC
	`

	rows, err := r.pool.Query(ctx, query, callID, filter.AfterSequence, filter.ExcludeOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]*domain.ICECandidate, 0)
	for rows.Next() {
		c := &domain.ICECandidate{}
		if err := rows.Scan(&c.CallID, &c.Sequence, &c.OwnerID, &c.Payload, &c.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}
