package notification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/repository/memory"
	"callsignal-backend/pkg/push"
)

type rejectingProvider struct {
	invalid string
}

func (p *rejectingProvider) Send(ctx context.Context, n *push.Notification, tokens []string) (*push.SendResult, error) {
	return &push.SendResult{SuccessCount: len(tokens) - 1, FailureCount: 1, InvalidTokens: []string{p.invalid}}, nil
}

type pushFixture struct {
	provider *push.MockProvider
	tokens   *memory.PushTokenRepository
	sink     *PushSink
	call     *domain.Call
}

func newPushFixture(t *testing.T) *pushFixture {
	t.Helper()
	caller := &domain.UserProfile{UserID: uuid.New(), Username: "alice", DisplayName: "Alice"}
	receiver := &domain.UserProfile{UserID: uuid.New(), Username: "bob"}

	tokens := memory.NewPushTokenRepository()
	svc := push.NewService(nil, tokens, nil)
	for _, tok := range []*push.Token{
		{UserID: receiver.UserID, Token: "receiver-device", Type: push.TokenTypeFCM},
		{UserID: caller.UserID, Token: "caller-device", Type: push.TokenTypeAPNs},
	} {
		require.NoError(t, svc.RegisterToken(context.Background(), tok))
	}

	provider := &push.MockProvider{}
	return &pushFixture{
		provider: provider,
		tokens:   tokens,
		sink:     NewPushSink(push.NewService(provider, tokens, nil), memory.NewUserDirectory(caller, receiver)),
		call: &domain.Call{
			CallID:     uuid.New(),
			CallerID:   caller.UserID,
			ReceiverID: receiver.UserID,
			MediaKind:  domain.MediaKindVideo,
			Status:     domain.CallStatusRinging,
			CreatedAt:  time.Now(),
		},
	}
}

func TestPushSink_IncomingCall(t *testing.T) {
	f := newPushFixture(t)

	err := f.sink.Publish(context.Background(), domain.NewCallEvent(domain.CallEventCreated, f.call, f.call.CallerID))
	require.NoError(t, err)

	require.Equal(t, 1, f.provider.Count())
	sent := f.provider.Sent[0]
	assert.Equal(t, "Incoming Call", sent.Title)
	assert.Equal(t, "Alice is calling you", sent.Body)
	assert.Equal(t, "high", sent.Priority)
	assert.Equal(t, f.call.CallID.String(), sent.Data["call_id"])
	assert.Equal(t, "video", sent.Data["media_kind"])
}

func TestPushSink_DeclinedCallNotifiesCaller(t *testing.T) {
	f := newPushFixture(t)
	f.call.Status = domain.CallStatusRejected

	event := domain.NewCallEvent(domain.CallEventTerminated, f.call, f.call.ReceiverID)
	event.Data = map[string]string{"reason": domain.EndReasonDeclined}
	require.NoError(t, f.sink.Publish(context.Background(), event))

	require.Equal(t, 1, f.provider.Count())
	sent := f.provider.Sent[0]
	assert.Equal(t, "missed_call", sent.Data["type"])
	assert.Equal(t, "You missed a call from bob", sent.Body)
}

func TestPushSink_EndedCallCarriesDuration(t *testing.T) {
	f := newPushFixture(t)
	f.call.Status = domain.CallStatusEnded

	event := domain.NewCallEvent(domain.CallEventTerminated, f.call, f.call.CallerID)
	event.Data = map[string]string{"reason": domain.EndReasonHangup, "duration": "125"}
	require.NoError(t, f.sink.Publish(context.Background(), event))

	require.Equal(t, 1, f.provider.Count())
	sent := f.provider.Sent[0]
	assert.Equal(t, "Call Ended", sent.Title)
	assert.Equal(t, "Call ended by Alice. Duration: 2m", sent.Body)
	assert.Equal(t, "125", sent.Data["duration"])
}

func TestPushSink_IgnoresSignalingEvents(t *testing.T) {
	f := newPushFixture(t)

	for _, typ := range []domain.CallEventType{domain.CallEventOfferUpdated, domain.CallEventAnswerUpdated, domain.CallEventCandidateAdded, domain.CallEventAccepted} {
		require.NoError(t, f.sink.Publish(context.Background(), domain.NewCallEvent(typ, f.call, f.call.CallerID)))
	}
	assert.Zero(t, f.provider.Count())
}

func TestPushService_InvalidTokensAreDeactivated(t *testing.T) {
	f := newPushFixture(t)
	sink := NewPushSink(push.NewService(&rejectingProvider{invalid: "receiver-device"}, f.tokens, nil), memory.NewUserDirectory())

	require.NoError(t, sink.Publish(context.Background(), domain.NewCallEvent(domain.CallEventCreated, f.call, f.call.CallerID)))

	tokens, err := f.tokens.GetByUserID(context.Background(), f.call.ReceiverID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.False(t, tokens[0].Active)
}
