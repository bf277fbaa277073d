// Package callsync drives one side of a call's session negotiation by polling
// the signaling relay until the call ends.
package callsync

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/time/rate"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/constants"
	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/logger"
)

// Role is the local party of the call
type Role string

const (
	RoleCaller   Role = "caller"
	RoleReceiver Role = "receiver"
)

// Phase is the local negotiation progress reported to observers
type Phase string

const (
	PhaseWaitingOffer Phase = "waiting_offer"
	PhaseOfferSent    Phase = "offer_sent"
	PhaseAnswerSent   Phase = "answer_sent"
	PhaseNegotiated   Phase = "negotiated"
	PhaseConnected    Phase = "connected"
	PhaseClosed       Phase = "closed"
	PhaseFailed       Phase = "failed"
)

// FailedReason is recorded on calls the synchronizer gives up on
const FailedReason = "connection_failed"

var (
	// ErrTransientBudget is returned after too many consecutive transient failures
	ErrTransientBudget = errors.New("callsync: transient failure budget exhausted")
	// ErrOfferRecovery is returned when a lost remote offer cannot be re-applied
	ErrOfferRecovery = errors.New("callsync: remote offer could not be recovered")
	// ErrSessionLost is returned when a caller joins a connected call without
	// the session that produced its offer
	ErrSessionLost = errors.New("callsync: local session lost on a connected call")
)

// SignalingAPI is the relay as seen by one authenticated participant.
// *client.Client satisfies it.
type SignalingAPI interface {
	Signaling(ctx context.Context, callID uuid.UUID) (*domain.SignalingState, error)
	SubmitOffer(ctx context.Context, callID uuid.UUID, payload string) (*domain.SignalingState, error)
	SubmitAnswer(ctx context.Context, callID uuid.UUID, payload string) (*domain.SignalingState, error)
	AddCandidate(ctx context.Context, callID uuid.UUID, payload string) (*domain.ICECandidate, error)
	Candidates(ctx context.Context, callID uuid.UUID, after int64, excludeOwn bool) ([]*domain.ICECandidate, error)
	Accept(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	Terminate(ctx context.Context, callID uuid.UUID, reason string) (*domain.Call, error)
}

// Negotiator is the local session engine. Payloads are opaque to the relay.
type Negotiator interface {
	CreateOffer(ctx context.Context) (string, error)
	// AcceptOffer applies a remote offer and returns the local answer
	AcceptOffer(ctx context.Context, offer string) (string, error)
	ApplyAnswer(ctx context.Context, answer string) error
	AddRemoteCandidate(payload string) error
	HasRemoteDescription() bool
	// LocalCandidates yields gathered local candidates; it may be nil
	LocalCandidates() <-chan string
}

// Config controls one synchronizer
type Config struct {
	CallID uuid.UUID
	Self   uuid.UUID
	Role   Role

	PollInterval           time.Duration
	MaxConsecutiveFailures int
	OfferRecoveryAttempts  int
	OfferRecoveryBackoff   time.Duration

	// AutoAccept makes the receiver accept the call once its answer is stored
	AutoAccept bool

	// Limiter paces polls and nudges; defaults to four polls per interval
	Limiter *rate.Limiter

	OnStateChange func(Phase)
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = constants.PollInterval
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = constants.MaxConsecutiveFailures
	}
	if c.OfferRecoveryAttempts <= 0 {
		c.OfferRecoveryAttempts = constants.OfferRecoveryAttempts
	}
	if c.OfferRecoveryBackoff <= 0 {
		c.OfferRecoveryBackoff = 250 * time.Millisecond
	}
	if c.Limiter == nil {
		c.Limiter = rate.NewLimiter(rate.Every(c.PollInterval/4), 1)
	}
}

// Synchronizer polls the relay and applies remote state to the local negotiator
type Synchronizer struct {
	api SignalingAPI
	neg Negotiator
	cfg Config

	nudge chan struct{}

	mu     sync.Mutex
	phase  Phase
	cancel context.CancelFunc
	hungUp bool

	// Owned by the Run goroutine
	seen                 map[[32]byte]struct{}
	lastSequence         int64
	localOffer           string
	offerSubmitted       bool
	appliedOfferVersion  int64
	appliedAnswerVersion int64
	pendingAnswer        string
	accepted             bool
	outbound             []string
	failures             int
}

// New creates a synchronizer for one participant of callID
func New(api SignalingAPI, neg Negotiator, cfg Config) *Synchronizer {
	cfg.applyDefaults()
	return &Synchronizer{
		api:   api,
		neg:   neg,
		cfg:   cfg,
		nudge: make(chan struct{}, 1),
		seen:  make(map[[32]byte]struct{}),
	}
}

// Phase returns the current local phase
func (s *Synchronizer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Synchronizer) setPhase(p Phase) {
	s.mu.Lock()
	if s.phase == p || s.phase == PhaseClosed || s.phase == PhaseFailed {
		s.mu.Unlock()
		return
	}
	s.phase = p
	s.mu.Unlock()

	logger.Debug("Call sync phase changed",
		zap.String("call_id", s.cfg.CallID.String()),
		zap.String("role", string(s.cfg.Role)),
		zap.String("phase", string(p)))
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(p)
	}
}

// Nudge asks for an immediate poll, still subject to the limiter
func (s *Synchronizer) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Hangup terminates the call remotely and stops Run
func (s *Synchronizer) Hangup(ctx context.Context) error {
	s.mu.Lock()
	s.hungUp = true
	cancel := s.cancel
	s.mu.Unlock()

	_, err := s.api.Terminate(ctx, s.cfg.CallID, "")
	if cancel != nil {
		cancel()
	}
	s.setPhase(PhaseClosed)
	return err
}

// Run polls until the call leaves ringing/connected, the context is canceled,
// Hangup is called, or an unrecoverable error occurs.
func (s *Synchronizer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.hungUp {
		s.mu.Unlock()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	if s.cfg.Role == RoleReceiver {
		s.setPhase(PhaseWaitingOffer)
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.cfg.Limiter.Wait(ctx); err != nil {
			return s.stopped(ctx)
		}

		done, err := s.tick(ctx)
		if done {
			s.setPhase(PhaseClosed)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return s.stopped(ctx)
			}
			if stop, result := s.handleError(err); stop {
				return result
			}
		} else {
			s.failures = 0
		}

		select {
		case <-ctx.Done():
			return s.stopped(ctx)
		case <-ticker.C:
		case <-s.nudge:
		}
	}
}

func (s *Synchronizer) stopped(ctx context.Context) error {
	s.setPhase(PhaseClosed)
	s.mu.Lock()
	hungUp := s.hungUp
	s.mu.Unlock()
	if hungUp {
		return nil
	}
	return ctx.Err()
}

type errorClass int

const (
	classTransient errorClass = iota
	classTerminal
	classBenign
)

func classify(err error) errorClass {
	if errors.Is(err, ErrOfferRecovery) || errors.Is(err, ErrSessionLost) {
		return classTerminal
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return classTransient
	}
	switch appErr.Code {
	case apperrors.ErrCodeIllegalState, apperrors.ErrCodeOfferMissing:
		return classBenign
	}
	if appErr.StatusCode == http.StatusTooManyRequests || appErr.StatusCode >= http.StatusInternalServerError {
		return classTransient
	}
	return classTerminal
}

// handleError decides whether Run stops, and with which result
func (s *Synchronizer) handleError(err error) (bool, error) {
	log := logger.ForCall(context.Background(), s.cfg.CallID)

	switch classify(err) {
	case classBenign:
		// The call moved on; the next poll observes its new status
		log.Debug("Call sync step superseded", zap.Error(err))
		s.failures = 0
		return false, nil

	case classTerminal:
		if errors.Is(err, ErrOfferRecovery) || errors.Is(err, ErrSessionLost) {
			s.fail()
		} else {
			s.setPhase(PhaseFailed)
		}
		log.Warn("Call sync stopped", zap.Error(err))
		return true, err

	default:
		s.failures++
		log.Debug("Call sync transient failure",
			zap.Int("consecutive", s.failures),
			zap.Error(err))
		if s.failures >= s.cfg.MaxConsecutiveFailures {
			s.fail()
			return true, fmt.Errorf("%w: %v", ErrTransientBudget, err)
		}
		return false, nil
	}
}

// fail marks the call failed locally and makes a best-effort remote termination
func (s *Synchronizer) fail() {
	s.setPhase(PhaseFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.api.Terminate(ctx, s.cfg.CallID, FailedReason); err != nil {
		logger.ForCall(ctx, s.cfg.CallID).Debug("Remote terminate after failure did not complete", zap.Error(err))
	}
}

// tick performs one poll. done reports that the call has ended.
func (s *Synchronizer) tick(ctx context.Context) (bool, error) {
	s.collectLocalCandidates()

	state, err := s.api.Signaling(ctx, s.cfg.CallID)
	if err != nil {
		return false, err
	}
	if state.Status.IsTerminal() {
		return true, nil
	}

	if s.cfg.Role == RoleCaller {
		err = s.syncCaller(ctx, state)
	} else {
		err = s.syncReceiver(ctx, state)
	}
	if err != nil {
		return false, err
	}

	if err := s.pushCandidates(ctx); err != nil {
		return false, err
	}
	if err := s.pullCandidates(ctx); err != nil {
		return false, err
	}

	if state.Status == domain.CallStatusConnected {
		switch s.Phase() {
		case PhaseNegotiated, PhaseAnswerSent:
			s.setPhase(PhaseConnected)
		}
	}
	return false, nil
}

func (s *Synchronizer) syncCaller(ctx context.Context, state *domain.SignalingState) error {
	if !s.offerSubmitted && s.localOffer != "" && state.Offer == s.localOffer {
		// The offer was stored but its response was lost
		s.offerSubmitted = true
		s.setPhase(PhaseOfferSent)
	}
	if !s.offerSubmitted && state.Status == domain.CallStatusConnected {
		// Only ringing calls take an offer, so the answer can never be matched
		return ErrSessionLost
	}

	if !s.offerSubmitted {
		if s.localOffer == "" {
			offer, err := s.neg.CreateOffer(ctx)
			if err != nil {
				return fmt.Errorf("create offer: %w", err)
			}
			s.localOffer = offer
		}
		// On failure the same offer is resubmitted next tick
		submitted, err := s.api.SubmitOffer(ctx, s.cfg.CallID, s.localOffer)
		if err != nil {
			return err
		}
		s.offerSubmitted = true
		s.setPhase(PhaseOfferSent)
		state = submitted
	}

	if state.Answer != "" && state.AnswerVersion > s.appliedAnswerVersion {
		if err := s.neg.ApplyAnswer(ctx, state.Answer); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
		s.appliedAnswerVersion = state.AnswerVersion
		s.setPhase(PhaseNegotiated)
	}
	return nil
}

func (s *Synchronizer) syncReceiver(ctx context.Context, state *domain.SignalingState) error {
	if state.Offer == "" {
		s.setPhase(PhaseWaitingOffer)
		return nil
	}

	hasRemote := s.neg.HasRemoteDescription()
	if state.OfferVersion > s.appliedOfferVersion || !hasRemote {
		if state.AnswerVersion > 0 && !hasRemote {
			if err := s.recoverOffer(ctx, state); err != nil {
				return err
			}
		} else if err := s.applyOffer(ctx, state); err != nil {
			return err
		}
	}

	if s.pendingAnswer != "" {
		if _, err := s.api.SubmitAnswer(ctx, s.cfg.CallID, s.pendingAnswer); err != nil {
			return err
		}
		s.pendingAnswer = ""
		s.setPhase(PhaseAnswerSent)
	}

	if s.cfg.AutoAccept && !s.accepted && state.Status == domain.CallStatusRinging && s.Phase() == PhaseAnswerSent {
		if _, err := s.api.Accept(ctx, s.cfg.CallID); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeIllegalState) {
			return err
		}
		s.accepted = true
	}
	return nil
}

func (s *Synchronizer) applyOffer(ctx context.Context, state *domain.SignalingState) error {
	answer, err := s.neg.AcceptOffer(ctx, state.Offer)
	if err != nil {
		return fmt.Errorf("accept offer: %w", err)
	}
	s.appliedOfferVersion = state.OfferVersion
	s.pendingAnswer = answer
	return nil
}

// recoverOffer re-fetches and re-applies the remote offer when the local
// session lost it while the relay already holds an answer.
func (s *Synchronizer) recoverOffer(ctx context.Context, state *domain.SignalingState) error {
	log := logger.ForCall(ctx, s.cfg.CallID)
	backoff := s.cfg.OfferRecoveryBackoff

	var lastErr error
	for attempt := 1; attempt <= s.cfg.OfferRecoveryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2

			fresh, err := s.api.Signaling(ctx, s.cfg.CallID)
			if err != nil {
				lastErr = err
				continue
			}
			if !fresh.Status.IsActive() || fresh.Offer == "" {
				return nil
			}
			state = fresh
		}

		if err := s.applyOffer(ctx, state); err != nil {
			lastErr = err
			log.Debug("Offer recovery attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		log.Info("Recovered remote offer", zap.Int("attempt", attempt))
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrOfferRecovery, s.cfg.OfferRecoveryAttempts, lastErr)
}

func (s *Synchronizer) collectLocalCandidates() {
	ch := s.neg.LocalCandidates()
	if ch == nil {
		return
	}
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			s.outbound = append(s.outbound, payload)
		default:
			return
		}
	}
}

// pushCandidates sends queued local candidates in order; unsent ones stay queued
func (s *Synchronizer) pushCandidates(ctx context.Context) error {
	for len(s.outbound) > 0 {
		if _, err := s.api.AddCandidate(ctx, s.cfg.CallID, s.outbound[0]); err != nil {
			return err
		}
		s.outbound = s.outbound[1:]
	}
	return nil
}

// pullCandidates applies each unseen remote candidate exactly once
func (s *Synchronizer) pullCandidates(ctx context.Context) error {
	if !s.neg.HasRemoteDescription() {
		return nil
	}

	candidates, err := s.api.Candidates(ctx, s.cfg.CallID, s.lastSequence, true)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		if c.Sequence > s.lastSequence {
			s.lastSequence = c.Sequence
		}
		if c.OwnerID == s.cfg.Self {
			continue
		}
		id := candidateIdentity(c)
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}

		if err := s.neg.AddRemoteCandidate(c.Payload); err != nil {
			logger.ForCall(ctx, s.cfg.CallID).Warn("Skipping remote candidate",
				zap.Int64("sequence", c.Sequence),
				zap.Error(err))
		}
	}
	return nil
}

func candidateIdentity(c *domain.ICECandidate) [32]byte {
	buf := make([]byte, 0, 16+8+len(c.Payload))
	buf = append(buf, c.OwnerID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.Sequence))
	buf = append(buf, c.Payload...)
	return blake2b.Sum256(buf)
}
