package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/metrics"
)

// CallRepository interface for call record, signaling and candidate storage.
// Conditional writes report ok=false when the guarded state no longer holds.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	GetActiveForUser(ctx context.Context, userID uuid.UUID) (*domain.Call, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	UpdateLifecycle(ctx context.Context, call *domain.Call, expected domain.CallStatus) (bool, error)
	SetOffer(ctx context.Context, callID uuid.UUID, payload string, at time.Time) (int64, bool, error)
	SetAnswer(ctx context.Context, callID uuid.UUID, payload string, at time.Time) (int64, bool, error)
	AppendCandidate(ctx context.Context, candidate *domain.ICECandidate) (bool, error)
	ListCandidates(ctx context.Context, callID uuid.UUID, filter domain.CandidateFilter) ([]*domain.ICECandidate, error)
}

// UserDirectory interface for resolving participants
type UserDirectory interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error)
}

// Config holds the service limits
type Config struct {
	MaxPayloadBytes  int
	LifecycleRetries int
	HistoryLimit     int
	HistoryMaxLimit  int
}

// DefaultConfig returns the limits used when none are configured
func DefaultConfig() Config {
	return Config{
		MaxPayloadBytes:  64 * 1024,
		LifecycleRetries: 3,
		HistoryLimit:     20,
		HistoryMaxLimit:  100,
	}
}

// Service handles call signaling business logic
type Service struct {
	callRepo  CallRepository
	directory UserDirectory
	events    EventSink
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
}

// NewService creates a new call service. events and m may be nil.
func NewService(
	callRepo CallRepository,
	directory UserDirectory,
	events EventSink,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	if events == nil {
		events = NopSink{}
	}
	if cfg.LifecycleRetries < 1 {
		cfg.LifecycleRetries = 1
	}
	return &Service{
		callRepo:  callRepo,
		directory: directory,
		events:    events,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CreateCallInput contains call initiation data
type CreateCallInput struct {
	CallerID   uuid.UUID
	ReceiverID uuid.UUID
	MediaKind  domain.MediaKind
}

// CreateCall starts a new ringing call between two distinct, known users
func (s *Service) CreateCall(ctx context.Context, input *CreateCallInput) (*domain.CallView, error) {
	if input.CallerID == input.ReceiverID {
		return nil, s.reject("create", apperrors.InvalidParticipantsError())
	}
	if !input.MediaKind.Valid() {
		return nil, s.reject("create", apperrors.ValidationError("media_kind must be audio or video"))
	}

	if _, err := s.resolveParticipant(ctx, input.CallerID); err != nil {
		return nil, s.reject("create", err)
	}
	receiver, err := s.resolveParticipant(ctx, input.ReceiverID)
	if err != nil {
		return nil, s.reject("create", err)
	}

	now := s.now().UTC()
	call := &domain.Call{
		CallID:     uuid.New(),
		CallerID:   input.CallerID,
		ReceiverID: input.ReceiverID,
		MediaKind:  input.MediaKind,
		Status:     domain.CallStatusRinging,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	start := time.Now()
	err = s.callRepo.Create(ctx, call)
	s.recordStore("create", start, err)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to create call record: %w", err))
	}

	if s.metrics != nil {
		s.metrics.RecordCall(string(call.MediaKind), string(call.Status))
		s.metrics.IncActiveCalls()
	}
	logger.ForCall(ctx, call.CallID).Info("Call created",
		zap.String("caller_id", call.CallerID.String()),
		zap.String("receiver_id", call.ReceiverID.String()),
		zap.String("media_kind", string(call.MediaKind)))

	s.publish(ctx, domain.NewCallEvent(domain.CallEventCreated, call, input.CallerID))

	return &domain.CallView{Call: call, Peer: receiver}, nil
}

// GetCall retrieves a call by ID
func (s *Service) GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	start := time.Now()
	call, err := s.callRepo.GetByID(ctx, callID)
	s.recordStore("get", start, ignoreNotFound(err))
	if err != nil {
		if errors.Is(err, domain.ErrCallNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get call: %w", err))
	}
	return call, nil
}

// GetCallFor retrieves a call for one of its participants, with the peer's profile
func (s *Service) GetCallFor(ctx context.Context, callID, requester uuid.UUID) (*domain.CallView, error) {
	call, err := s.participantCall(ctx, "get", callID, requester)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, call, requester), nil
}

// GetActiveCallFor returns the most recent ringing or connected call of participant,
// or nil when there is none
func (s *Service) GetActiveCallFor(ctx context.Context, participant uuid.UUID) (*domain.CallView, error) {
	start := time.Now()
	call, err := s.callRepo.GetActiveForUser(ctx, participant)
	s.recordStore("get_active", start, err)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get active call: %w", err))
	}
	if call == nil {
		return nil, nil
	}
	return s.view(ctx, call, participant), nil
}

// HistoryLimits returns the default and maximum history page sizes
func (s *Service) HistoryLimits() (int, int) {
	return s.cfg.HistoryLimit, s.cfg.HistoryMaxLimit
}

// GetCallHistory retrieves a user's calls, newest first
func (s *Service) GetCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	if limit > s.cfg.HistoryMaxLimit {
		limit = s.cfg.HistoryMaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	start := time.Now()
	calls, err := s.callRepo.GetUserCalls(ctx, userID, limit, offset)
	s.recordStore("history", start, err)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get call history: %w", err))
	}
	if calls == nil {
		calls = []*domain.Call{}
	}
	return calls, nil
}

func (s *Service) resolveParticipant(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	profile, err := s.directory.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, apperrors.ParticipantNotFoundError()
		}
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to resolve participant: %w", err))
	}
	return profile, nil
}

// participantCall loads a call and checks that requester is one of its parties
func (s *Service) participantCall(ctx context.Context, operation string, callID, requester uuid.UUID) (*domain.Call, error) {
	call, err := s.GetCall(ctx, callID)
	if err != nil {
		return nil, s.reject(operation, err)
	}
	if !call.IsParticipant(requester) {
		return nil, s.reject(operation, apperrors.NotParticipantError(""))
	}
	return call, nil
}

// view attaches the peer profile. A directory failure leaves Peer empty.
func (s *Service) view(ctx context.Context, call *domain.Call, viewer uuid.UUID) *domain.CallView {
	v := &domain.CallView{Call: call}
	peer, err := s.directory.GetProfile(ctx, call.PeerOf(viewer))
	if err != nil {
		logger.ForCall(ctx, call.CallID).Warn("Failed to load peer profile", zap.Error(err))
		return v
	}
	v.Peer = peer
	return v
}

// reject records a typed rejection and returns err unchanged
func (s *Service) reject(operation string, err error) error {
	if s.metrics != nil && apperrors.IsAppError(err) {
		s.metrics.RecordRejected(operation, string(apperrors.GetAppError(err).Code))
	}
	return err
}

func (s *Service) recordStore(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, time.Since(start), err)
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrCallNotFound) {
		return nil
	}
	return err
}

// transitionError maps a pure lifecycle rule violation onto the public taxonomy
func transitionError(err error, illegalStateMsg string) error {
	switch {
	case errors.Is(err, domain.ErrNotParticipant):
		return apperrors.NotParticipantError("")
	case errors.Is(err, domain.ErrNotCaller):
		return apperrors.NotParticipantError("Only the caller can do this")
	case errors.Is(err, domain.ErrNotReceiver):
		return apperrors.NotParticipantError("Only the receiver can do this")
	case errors.Is(err, domain.ErrOfferMissing):
		return apperrors.OfferMissingError()
	case errors.Is(err, domain.ErrNotRinging), errors.Is(err, domain.ErrNotActive):
		return apperrors.IllegalStateError(illegalStateMsg)
	}
	return err
}
