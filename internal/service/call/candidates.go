package call

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
	apperrors "callsignal-backend/pkg/errors"
)

const msgCandidateNotAllowed = "Candidates can only be added to an active call"

// AppendCandidate adds a trickled ICE candidate to the call's log. Duplicate
// payloads are stored as separate entries.
func (s *Service) AppendCandidate(ctx context.Context, callID, contributor uuid.UUID, payload string) (*domain.ICECandidate, error) {
	if err := s.validatePayload(payload); err != nil {
		return nil, s.reject("candidate", err)
	}

	for attempt := 0; attempt < s.cfg.LifecycleRetries; attempt++ {
		call, err := s.GetCall(ctx, callID)
		if err != nil {
			return nil, s.reject("candidate", err)
		}
		if err := domain.CheckCandidateAppend(call, contributor); err != nil {
			return nil, s.reject("candidate", transitionError(err, msgCandidateNotAllowed))
		}

		candidate := &domain.ICECandidate{
			CallID:  callID,
			OwnerID: contributor,
			Payload: payload,
			AddedAt: s.now().UTC(),
		}

		start := time.Now()
		ok, err := s.callRepo.AppendCandidate(ctx, candidate)
		s.recordStore("append_candidate", start, err)
		if err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("failed to append candidate: %w", err))
		}
		if !ok {
			continue
		}

		s.recordWrite("candidate")
		event := domain.NewCallEvent(domain.CallEventCandidateAdded, call, contributor)
		event.Data = map[string]string{"sequence": strconv.FormatInt(candidate.Sequence, 10)}
		s.publish(ctx, event)
		return candidate, nil
	}

	return nil, s.reject("candidate", apperrors.IllegalStateError(msgCandidateNotAllowed))
}

// ListCandidates returns the call's candidate log in sequence order. The zero
// filter returns every entry from both participants.
func (s *Service) ListCandidates(ctx context.Context, callID, requester uuid.UUID, filter domain.CandidateFilter) ([]*domain.ICECandidate, error) {
	if _, err := s.participantCall(ctx, "list_candidates", callID, requester); err != nil {
		return nil, err
	}

	start := time.Now()
	candidates, err := s.callRepo.ListCandidates(ctx, callID, filter)
	s.recordStore("list_candidates", start, err)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to list candidates: %w", err))
	}
	if candidates == nil {
		candidates = []*domain.ICECandidate{}
	}
	return candidates, nil
}
