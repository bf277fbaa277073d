package call

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
	apperrors "callsignal-backend/pkg/errors"
)

const (
	msgOfferNotAllowed  = "Offer can only be sent while the call is ringing"
	msgAnswerNotAllowed = "This call is no longer active"
)

// SubmitOffer stores the caller's offer, replacing any previous one
func (s *Service) SubmitOffer(ctx context.Context, callID, submitter uuid.UUID, payload string) (*domain.SignalingState, error) {
	if err := s.validatePayload(payload); err != nil {
		return nil, s.reject("offer", err)
	}

	for attempt := 0; attempt < s.cfg.LifecycleRetries; attempt++ {
		call, err := s.GetCall(ctx, callID)
		if err != nil {
			return nil, s.reject("offer", err)
		}
		now := s.now().UTC()
		if err := domain.ApplyOffer(call, submitter, payload, now); err != nil {
			return nil, s.reject("offer", transitionError(err, msgOfferNotAllowed))
		}

		start := time.Now()
		version, ok, err := s.callRepo.SetOffer(ctx, callID, payload, now)
		s.recordStore("set_offer", start, err)
		if err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("failed to store offer: %w", err))
		}
		if !ok {
			continue
		}

		call.OfferVersion = version
		s.recordWrite("offer")
		event := domain.NewCallEvent(domain.CallEventOfferUpdated, call, submitter)
		event.Data = map[string]string{"version": fmt.Sprint(version)}
		s.publish(ctx, event)
		return call.Signaling(), nil
	}

	return nil, s.reject("offer", apperrors.IllegalStateError(msgOfferNotAllowed))
}

// SubmitAnswer stores the receiver's answer, replacing any previous one
func (s *Service) SubmitAnswer(ctx context.Context, callID, submitter uuid.UUID, payload string) (*domain.SignalingState, error) {
	if err := s.validatePayload(payload); err != nil {
		return nil, s.reject("answer", err)
	}

	for attempt := 0; attempt < s.cfg.LifecycleRetries; attempt++ {
		call, err := s.GetCall(ctx, callID)
		if err != nil {
			return nil, s.reject("answer", err)
		}
		now := s.now().UTC()
		if err := domain.ApplyAnswer(call, submitter, payload, now); err != nil {
			return nil, s.reject("answer", transitionError(err, msgAnswerNotAllowed))
		}

		start := time.Now()
		version, ok, err := s.callRepo.SetAnswer(ctx, callID, payload, now)
		s.recordStore("set_answer", start, err)
		if err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("failed to store answer: %w", err))
		}
		if !ok {
			continue
		}

		call.AnswerVersion = version
		s.recordWrite("answer")
		event := domain.NewCallEvent(domain.CallEventAnswerUpdated, call, submitter)
		event.Data = map[string]string{"version": fmt.Sprint(version)}
		s.publish(ctx, event)
		return call.Signaling(), nil
	}

	return nil, s.reject("answer", apperrors.IllegalStateError(msgAnswerNotAllowed))
}

// ReadSignaling returns the current offer and answer of a call to a participant
func (s *Service) ReadSignaling(ctx context.Context, callID, requester uuid.UUID) (*domain.SignalingState, error) {
	call, err := s.participantCall(ctx, "read_signaling", callID, requester)
	if err != nil {
		return nil, err
	}
	return call.Signaling(), nil
}

func (s *Service) validatePayload(payload string) error {
	if strings.TrimSpace(payload) == "" {
		return apperrors.ValidationError("payload is required")
	}
	if s.cfg.MaxPayloadBytes > 0 && len(payload) > s.cfg.MaxPayloadBytes {
		return apperrors.ValidationError(fmt.Sprintf("payload exceeds %d bytes", s.cfg.MaxPayloadBytes))
	}
	return nil
}

func (s *Service) recordWrite(kind string) {
	if s.metrics != nil {
		s.metrics.RecordSignalingWrite(kind)
	}
}
