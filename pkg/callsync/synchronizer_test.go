package callsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/repository/memory"
	callService "callsignal-backend/internal/service/call"
	apperrors "callsignal-backend/pkg/errors"
)

// serviceAPI exposes the call service to one participant, standing in for the HTTP client
type serviceAPI struct {
	svc  *callService.Service
	user uuid.UUID
}

func (a serviceAPI) Signaling(ctx context.Context, callID uuid.UUID) (*domain.SignalingState, error) {
	return a.svc.ReadSignaling(ctx, callID, a.user)
}

func (a serviceAPI) SubmitOffer(ctx context.Context, callID uuid.UUID, payload string) (*domain.SignalingState, error) {
	return a.svc.SubmitOffer(ctx, callID, a.user, payload)
}

func (a serviceAPI) SubmitAnswer(ctx context.Context, callID uuid.UUID, payload string) (*domain.SignalingState, error) {
	return a.svc.SubmitAnswer(ctx, callID, a.user, payload)
}

func (a serviceAPI) AddCandidate(ctx context.Context, callID uuid.UUID, payload string) (*domain.ICECandidate, error) {
	return a.svc.AppendCandidate(ctx, callID, a.user, payload)
}

func (a serviceAPI) Candidates(ctx context.Context, callID uuid.UUID, after int64, excludeOwn bool) ([]*domain.ICECandidate, error) {
	filter := domain.CandidateFilter{AfterSequence: after}
	if excludeOwn {
		user := a.user
		filter.ExcludeOwner = &user
	}
	return a.svc.ListCandidates(ctx, callID, a.user, filter)
}

func (a serviceAPI) Accept(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	return a.svc.Accept(ctx, callID, a.user)
}

func (a serviceAPI) Terminate(ctx context.Context, callID uuid.UUID, reason string) (*domain.Call, error) {
	return a.svc.Terminate(ctx, callID, a.user, reason)
}

type fakeNegotiator struct {
	mu               sync.Mutex
	name             string
	remote           string
	remoteCandidates []string
	acceptFailures   int
	local            chan string
}

func newFakeNegotiator(name string, candidates ...string) *fakeNegotiator {
	n := &fakeNegotiator{name: name, local: make(chan string, 16)}
	for _, c := range candidates {
		n.local <- c
	}
	return n
}

func (n *fakeNegotiator) CreateOffer(ctx context.Context) (string, error) {
	return "offer-from-" + n.name, nil
}

func (n *fakeNegotiator) AcceptOffer(ctx context.Context, offer string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.acceptFailures > 0 {
		n.acceptFailures--
		return "", errors.New("remote description rejected")
	}
	n.remote = offer
	return "answer-from-" + n.name, nil
}

func (n *fakeNegotiator) ApplyAnswer(ctx context.Context, answer string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.remote = answer
	return nil
}

func (n *fakeNegotiator) AddRemoteCandidate(payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.remoteCandidates = append(n.remoteCandidates, payload)
	return nil
}

func (n *fakeNegotiator) HasRemoteDescription() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remote != ""
}

func (n *fakeNegotiator) LocalCandidates() <-chan string {
	return n.local
}

func (n *fakeNegotiator) snapshot() (string, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remote, append([]string(nil), n.remoteCandidates...)
}

type fixture struct {
	svc      *callService.Service
	caller   uuid.UUID
	receiver uuid.UUID
	callID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{caller: uuid.New(), receiver: uuid.New()}
	directory := memory.NewUserDirectory(
		&domain.UserProfile{UserID: f.caller, Username: "alice"},
		&domain.UserProfile{UserID: f.receiver, Username: "bob"},
	)
	f.svc = callService.NewService(memory.NewCallRepository(), directory, nil, nil, callService.DefaultConfig())

	view, err := f.svc.CreateCall(context.Background(), &callService.CreateCallInput{
		CallerID:   f.caller,
		ReceiverID: f.receiver,
		MediaKind:  domain.MediaKindAudio,
	})
	require.NoError(t, err)
	f.callID = view.CallID
	return f
}

func (f *fixture) config(role Role, self uuid.UUID) Config {
	return Config{
		CallID:               f.callID,
		Self:                 self,
		Role:                 role,
		PollInterval:         5 * time.Millisecond,
		OfferRecoveryBackoff: time.Millisecond,
		Limiter:              rate.NewLimiter(rate.Inf, 1),
	}
}

type phaseRecorder struct {
	mu     sync.Mutex
	phases []Phase
}

func (r *phaseRecorder) record(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, p)
}

func (r *phaseRecorder) list() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}

func TestSynchronizer_FullCall(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	callerNeg := newFakeNegotiator("caller", "c-cand-1", "c-cand-2")
	receiverNeg := newFakeNegotiator("receiver", "r-cand-1", "r-cand-2")

	var callerPhases phaseRecorder
	callerCfg := f.config(RoleCaller, f.caller)
	callerCfg.OnStateChange = callerPhases.record
	caller := New(serviceAPI{f.svc, f.caller}, callerNeg, callerCfg)

	receiverCfg := f.config(RoleReceiver, f.receiver)
	receiverCfg.AutoAccept = true
	receiver := New(serviceAPI{f.svc, f.receiver}, receiverNeg, receiverCfg)

	results := make(chan error, 2)
	go func() { results <- caller.Run(ctx) }()
	go func() { results <- receiver.Run(ctx) }()

	require.Eventually(t, func() bool {
		return caller.Phase() == PhaseConnected && receiver.Phase() == PhaseConnected
	}, 5*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, c := callerNeg.snapshot()
		_, r := receiverNeg.snapshot()
		return len(c) == 2 && len(r) == 2
	}, 5*time.Second, 5*time.Millisecond)

	// Further polls must not re-apply anything
	time.Sleep(50 * time.Millisecond)

	callerRemote, callerCands := callerNeg.snapshot()
	receiverRemote, receiverCands := receiverNeg.snapshot()
	assert.Equal(t, "answer-from-receiver", callerRemote)
	assert.Equal(t, "offer-from-caller", receiverRemote)
	assert.ElementsMatch(t, []string{"r-cand-1", "r-cand-2"}, callerCands)
	assert.ElementsMatch(t, []string{"c-cand-1", "c-cand-2"}, receiverCands)

	require.NoError(t, caller.Hangup(ctx))
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("synchronizer did not stop after hangup")
		}
	}

	assert.Equal(t, PhaseClosed, caller.Phase())
	assert.Equal(t, PhaseClosed, receiver.Phase())
	assert.Equal(t, []Phase{PhaseOfferSent, PhaseNegotiated, PhaseConnected, PhaseClosed}, callerPhases.list())

	stored, err := f.svc.GetCall(ctx, f.callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, stored.Status)
}

func TestSynchronizer_StopsOnTerminalStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Terminate(context.Background(), f.callID, f.caller, "")
	require.NoError(t, err)

	s := New(serviceAPI{f.svc, f.receiver}, newFakeNegotiator("receiver"), f.config(RoleReceiver, f.receiver))
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, PhaseClosed, s.Phase())
}

func TestSynchronizer_RecoversLostOffer(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The receiver answered before reloading and losing its session
	_, err := f.svc.SubmitOffer(ctx, f.callID, f.caller, "offer-from-caller")
	require.NoError(t, err)
	_, err = f.svc.SubmitAnswer(ctx, f.callID, f.receiver, "answer-before-reload")
	require.NoError(t, err)

	neg := newFakeNegotiator("receiver")
	neg.acceptFailures = 2
	cfg := f.config(RoleReceiver, f.receiver)
	cfg.OfferRecoveryAttempts = 3
	s := New(serviceAPI{f.svc, f.receiver}, neg, cfg)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Phase() == PhaseAnswerSent }, 5*time.Second, 5*time.Millisecond)

	remote, _ := neg.snapshot()
	assert.Equal(t, "offer-from-caller", remote)

	state, err := f.svc.ReadSignaling(ctx, f.callID, f.receiver)
	require.NoError(t, err)
	assert.Equal(t, "answer-from-receiver", state.Answer)
	assert.Equal(t, int64(2), state.AnswerVersion)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSynchronizer_OfferRecoveryExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitOffer(ctx, f.callID, f.caller, "offer-from-caller")
	require.NoError(t, err)
	_, err = f.svc.SubmitAnswer(ctx, f.callID, f.receiver, "answer-before-reload")
	require.NoError(t, err)

	neg := newFakeNegotiator("receiver")
	neg.acceptFailures = 100
	cfg := f.config(RoleReceiver, f.receiver)
	cfg.OfferRecoveryAttempts = 3
	s := New(serviceAPI{f.svc, f.receiver}, neg, cfg)

	err = s.Run(ctx)
	assert.ErrorIs(t, err, ErrOfferRecovery)
	assert.Equal(t, PhaseFailed, s.Phase())

	stored, err := f.svc.GetCall(ctx, f.callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRejected, stored.Status)
	assert.Equal(t, FailedReason, stored.EndReason)
}

func TestSynchronizer_CallerSessionLost(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The call connected before the caller reloaded and lost its session
	_, err := f.svc.SubmitOffer(ctx, f.callID, f.caller, "offer-before-reload")
	require.NoError(t, err)
	_, err = f.svc.SubmitAnswer(ctx, f.callID, f.receiver, "answer-from-receiver")
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, f.callID, f.receiver)
	require.NoError(t, err)

	neg := newFakeNegotiator("caller", "c-cand")
	s := New(serviceAPI{f.svc, f.caller}, neg, f.config(RoleCaller, f.caller))

	err = s.Run(ctx)
	assert.ErrorIs(t, err, ErrSessionLost)
	assert.Equal(t, PhaseFailed, s.Phase())

	stored, err := f.svc.GetCall(ctx, f.callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, stored.Status)
	assert.Equal(t, FailedReason, stored.EndReason)
	assert.Equal(t, "offer-before-reload", stored.Offer)
}

// lostOfferAPI stores the first offer but reports a network error for it
type lostOfferAPI struct {
	serviceAPI
	mu   sync.Mutex
	lost bool
}

func (a *lostOfferAPI) SubmitOffer(ctx context.Context, callID uuid.UUID, payload string) (*domain.SignalingState, error) {
	state, err := a.serviceAPI.SubmitOffer(ctx, callID, payload)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil && !a.lost {
		a.lost = true
		return nil, errors.New("read tcp: connection reset by peer")
	}
	return state, err
}

func TestSynchronizer_CallerAdoptsStoredOffer(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hold polling until the receiver has answered and accepted
	cfg := f.config(RoleCaller, f.caller)
	cfg.PollInterval = time.Hour
	neg := newFakeNegotiator("caller")
	s := New(&lostOfferAPI{serviceAPI: serviceAPI{f.svc, f.caller}}, neg, cfg)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		state, err := f.svc.ReadSignaling(ctx, f.callID, f.caller)
		return err == nil && state.Offer == "offer-from-caller"
	}, 5*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, PhaseOfferSent, s.Phase())

	_, err := f.svc.SubmitAnswer(ctx, f.callID, f.receiver, "answer-from-receiver")
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, f.callID, f.receiver)
	require.NoError(t, err)

	s.Nudge()
	require.Eventually(t, func() bool { return s.Phase() == PhaseConnected }, 5*time.Second, 5*time.Millisecond)

	remote, _ := neg.snapshot()
	assert.Equal(t, "answer-from-receiver", remote)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// flakyAPI fails every poll with a network error
type flakyAPI struct {
	serviceAPI
	mu         sync.Mutex
	polls      int
	terminated []string
}

func (a *flakyAPI) Signaling(ctx context.Context, callID uuid.UUID) (*domain.SignalingState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	return nil, errors.New("dial tcp: connection refused")
}

func (a *flakyAPI) Terminate(ctx context.Context, callID uuid.UUID, reason string) (*domain.Call, error) {
	a.mu.Lock()
	a.terminated = append(a.terminated, reason)
	a.mu.Unlock()
	return a.serviceAPI.Terminate(ctx, callID, reason)
}

func TestSynchronizer_TransientBudget(t *testing.T) {
	f := newFixture(t)
	api := &flakyAPI{serviceAPI: serviceAPI{f.svc, f.caller}}

	cfg := f.config(RoleCaller, f.caller)
	cfg.MaxConsecutiveFailures = 3
	s := New(api, newFakeNegotiator("caller"), cfg)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrTransientBudget)
	assert.Equal(t, PhaseFailed, s.Phase())
	assert.Equal(t, 3, api.polls)
	assert.Equal(t, []string{FailedReason}, api.terminated)
}

// deniedAPI rejects the participant
type deniedAPI struct {
	serviceAPI
}

func (deniedAPI) Signaling(ctx context.Context, callID uuid.UUID) (*domain.SignalingState, error) {
	return nil, apperrors.NotParticipantError("")
}

func TestSynchronizer_TerminalErrorStops(t *testing.T) {
	f := newFixture(t)
	s := New(deniedAPI{serviceAPI{f.svc, f.caller}}, newFakeNegotiator("caller"), f.config(RoleCaller, f.caller))

	err := s.Run(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotParticipant))
	assert.Equal(t, PhaseFailed, s.Phase())

	stored, err := f.svc.GetCall(context.Background(), f.callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, stored.Status)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, classTransient, classify(errors.New("timeout")))
	assert.Equal(t, classTransient, classify(apperrors.DatabaseError(errors.New("down"))))
	assert.Equal(t, classTransient, classify(apperrors.RateLimitExceededError()))
	assert.Equal(t, classBenign, classify(apperrors.IllegalStateError(apperrors.MsgCallNotAvailable)))
	assert.Equal(t, classBenign, classify(apperrors.OfferMissingError()))
	assert.Equal(t, classTerminal, classify(apperrors.CallNotFoundError()))
	assert.Equal(t, classTerminal, classify(apperrors.InvalidParticipantsError()))
	assert.Equal(t, classTerminal, classify(ErrOfferRecovery))
	assert.Equal(t, classTerminal, classify(ErrSessionLost))
}

func TestCandidateIdentity(t *testing.T) {
	owner := uuid.New()
	a := &domain.ICECandidate{OwnerID: owner, Sequence: 1, Payload: "x"}
	b := &domain.ICECandidate{OwnerID: owner, Sequence: 2, Payload: "x"}
	c := &domain.ICECandidate{OwnerID: owner, Sequence: 1, Payload: "x"}

	assert.NotEqual(t, candidateIdentity(a), candidateIdentity(b))
	assert.Equal(t, candidateIdentity(a), candidateIdentity(c))
}
