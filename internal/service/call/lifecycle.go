package call

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/logger"
)

// Accept moves a ringing call to connected. Only the receiver may accept, and
// only one of several concurrent accepts succeeds.
func (s *Service) Accept(ctx context.Context, callID, actor uuid.UUID) (*domain.Call, error) {
	for attempt := 0; attempt < s.cfg.LifecycleRetries; attempt++ {
		call, err := s.GetCall(ctx, callID)
		if err != nil {
			return nil, s.reject("accept", err)
		}

		expected := call.Status
		if err := domain.ApplyAccept(call, actor, s.now().UTC()); err != nil {
			return nil, s.reject("accept", transitionError(err, apperrors.MsgCallNotAvailable))
		}

		updated, err := s.updateLifecycle(ctx, "accept", call, expected)
		if err != nil {
			return nil, err
		}
		if !updated {
			continue
		}

		if s.metrics != nil {
			s.metrics.RecordCall(string(call.MediaKind), string(call.Status))
		}
		logger.ForCall(ctx, call.CallID).Info("Call accepted",
			zap.String("receiver_id", actor.String()))
		s.publish(ctx, domain.NewCallEvent(domain.CallEventAccepted, call, actor))

		return call, nil
	}

	return nil, s.reject("accept", apperrors.IllegalStateError(apperrors.MsgCallNotAvailable))
}

// Terminate ends a call for either participant. Ringing calls become rejected and
// connected calls become ended. Terminating a call that already ended returns the
// stored record unchanged.
func (s *Service) Terminate(ctx context.Context, callID, actor uuid.UUID, reason string) (*domain.Call, error) {
	for attempt := 0; attempt < s.cfg.LifecycleRetries; attempt++ {
		call, err := s.GetCall(ctx, callID)
		if err != nil {
			return nil, s.reject("terminate", err)
		}

		expected := call.Status
		changed, err := domain.ApplyTerminate(call, actor, reason, s.now().UTC())
		if err != nil {
			return nil, s.reject("terminate", transitionError(err, apperrors.MsgCallNotAvailable))
		}
		if !changed {
			logger.ForCall(ctx, call.CallID).Debug("Terminate on finished call ignored",
				zap.String("status", string(call.Status)))
			return call, nil
		}

		updated, err := s.updateLifecycle(ctx, "terminate", call, expected)
		if err != nil {
			return nil, err
		}
		if !updated {
			continue
		}

		s.recordTermination(call)
		logger.ForCall(ctx, call.CallID).Info("Call terminated",
			zap.String("actor_id", actor.String()),
			zap.String("status", string(call.Status)),
			zap.String("reason", call.EndReason))

		event := domain.NewCallEvent(domain.CallEventTerminated, call, actor)
		event.Data = map[string]string{"reason": call.EndReason}
		if call.Duration != nil {
			event.Data["duration"] = strconv.Itoa(*call.Duration)
		}
		s.publish(ctx, event)

		return call, nil
	}

	// Every attempt lost a race, so the call has moved on; report where it landed.
	call, err := s.GetCall(ctx, callID)
	if err != nil {
		return nil, s.reject("terminate", err)
	}
	if call.Status.IsTerminal() {
		return call, nil
	}
	return nil, apperrors.ServiceUnavailableError("Call is changing too quickly, retry")
}

func (s *Service) updateLifecycle(ctx context.Context, operation string, call *domain.Call, expected domain.CallStatus) (bool, error) {
	start := time.Now()
	updated, err := s.callRepo.UpdateLifecycle(ctx, call, expected)
	s.recordStore(operation, start, err)
	if err != nil {
		return false, apperrors.DatabaseError(fmt.Errorf("failed to %s call: %w", operation, err))
	}
	if !updated {
		if s.metrics != nil {
			s.metrics.RecordLifecycleConflict(operation)
		}
		logger.ForCall(ctx, call.CallID).Debug("Lifecycle update lost race, re-evaluating",
			zap.String("operation", operation),
			zap.String("expected_status", string(expected)))
	}
	return updated, nil
}

func (s *Service) recordTermination(call *domain.Call) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCall(string(call.MediaKind), string(call.Status))
	s.metrics.DecActiveCalls()
	if call.Duration != nil {
		s.metrics.RecordCallDuration(string(call.MediaKind), time.Duration(*call.Duration)*time.Second)
	}
}
