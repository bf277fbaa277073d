package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
)

// CallRepository is an in-process call store used when the service runs without
// CockroachDB and by tests. Every method holds one mutex, so conditional writes
// behave like the SQL store's guarded updates.
type CallRepository struct {
	mu         sync.Mutex
	calls      map[uuid.UUID]*domain.Call
	candidates map[uuid.UUID][]*domain.ICECandidate
}

// NewCallRepository creates an empty in-memory call store
func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls:      make(map[uuid.UUID]*domain.Call),
		candidates: make(map[uuid.UUID][]*domain.ICECandidate),
	}
}

// Create stores a new call record
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := call.Clone()
	stored.UpdatedAt = stored.CreatedAt
	r.calls[call.CallID] = stored
	return nil
}

// GetByID returns a copy of the call
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return call.Clone(), nil
}

// GetActiveForUser returns the most recent active call for userID, or nil
func (r *CallRepository) GetActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *domain.Call
	for _, call := range r.calls {
		if !call.IsParticipant(userID) || !call.Status.IsActive() {
			continue
		}
		if latest == nil || call.CreatedAt.After(latest.CreatedAt) {
			latest = call
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

// GetUserCalls returns the user's calls newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var calls []*domain.Call
	for _, call := range r.calls {
		if call.IsParticipant(userID) {
			calls = append(calls, call.Clone())
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.After(calls[j].CreatedAt)
	})

	if offset >= len(calls) {
		return nil, nil
	}
	end := offset + limit
	if end > len(calls) {
		end = len(calls)
	}
	return calls[offset:end], nil
}

// UpdateLifecycle applies the lifecycle fields of call if the stored status equals expected
func (r *CallRepository) UpdateLifecycle(ctx context.Context, call *domain.Call, expected domain.CallStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.calls[call.CallID]
	if !ok {
		return false, domain.ErrCallNotFound
	}
	if stored.Status != expected {
		return false, nil
	}

	next := call.Clone()
	stored.Status = next.Status
	stored.AnsweredAt = next.AnsweredAt
	stored.EndedAt = next.EndedAt
	stored.Duration = next.Duration
	stored.EndedBy = next.EndedBy
	stored.EndReason = next.EndReason
	stored.UpdatedAt = next.UpdatedAt
	return true, nil
}

// SetOffer overwrites the offer while the call is ringing
func (r *CallRepository) SetOffer(ctx context.Context, callID uuid.UUID, payload string, at time.Time) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.calls[callID]
	if !ok {
		return 0, false, domain.ErrCallNotFound
	}
	if stored.Status != domain.CallStatusRinging {
		return 0, false, nil
	}
	stored.Offer = payload
	stored.OfferVersion++
	stored.UpdatedAt = at
	return stored.OfferVersion, true, nil
}

// SetAnswer overwrites the answer while the call is active and has an offer
func (r *CallRepository) SetAnswer(ctx context.Context, callID uuid.UUID, payload string, at time.Time) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.calls[callID]
	if !ok {
		return 0, false, domain.ErrCallNotFound
	}
	if !stored.Status.IsActive() || !stored.HasOffer() {
		return 0, false, nil
	}
	stored.Answer = payload
	stored.AnswerVersion++
	stored.UpdatedAt = at
	return stored.AnswerVersion, true, nil
}

// AppendCandidate assigns the next sequence and appends the candidate
func (r *CallRepository) AppendCandidate(ctx context.Context, candidate *domain.ICECandidate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.calls[candidate.CallID]
	if !ok {
		return false, domain.ErrCallNotFound
	}
	if !stored.Status.IsActive() {
		return false, nil
	}

	log := r.candidates[candidate.CallID]
	candidate.Sequence = int64(len(log)) + 1
	entry := *candidate
	r.candidates[candidate.CallID] = append(log, &entry)
	return true, nil
}

// ListCandidates returns copies of the matching log entries in sequence order
func (r *CallRepository) ListCandidates(ctx context.Context, callID uuid.UUID, filter domain.CandidateFilter) ([]*domain.ICECandidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.ICECandidate, 0, len(r.candidates[callID]))
	for _, c := range r.candidates[callID] {
		if !filter.Match(c) {
			continue
		}
		entry := *c
		out = append(out, &entry)
	}
	return out, nil
}
