package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/repository/memory"
	"callsignal-backend/pkg/resilience"
)

type MockObjectStorage struct {
	mock.Mock
	body []byte
}

func (m *MockObjectStorage) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectStorage) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	args := m.Called(ctx, bucketName, opts)
	return args.Error(0)
}

func (m *MockObjectStorage) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	m.body, _ = io.ReadAll(reader)
	args := m.Called(ctx, bucketName, objectName, objectSize)
	return minio.UploadInfo{}, args.Error(0)
}

func newBreaker() *resilience.CircuitBreaker {
	cfg := resilience.DefaultConfig()
	cfg.MaxAttempts = 1
	return resilience.NewCircuitBreaker("archive", cfg, nil)
}

func seedEndedCall(t *testing.T, repo *memory.CallRepository) *domain.Call {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	call := &domain.Call{
		CallID:     uuid.New(),
		CallerID:   uuid.New(),
		ReceiverID: uuid.New(),
		MediaKind:  domain.MediaKindVideo,
		Status:     domain.CallStatusRinging,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, repo.Create(ctx, call))
	_, err := repo.AppendCandidate(ctx, &domain.ICECandidate{CallID: call.CallID, OwnerID: call.CallerID, Payload: "candidate:1", AddedAt: now})
	require.NoError(t, err)

	_, err = domain.ApplyTerminate(call, call.CallerID, "", now.Add(time.Second))
	require.NoError(t, err)
	ok, err := repo.UpdateLifecycle(ctx, call, domain.CallStatusRinging)
	require.NoError(t, err)
	require.True(t, ok)
	return call
}

func TestEnsureBucket(t *testing.T) {
	objects := new(MockObjectStorage)
	archive := NewArchive(objects, "call-archive", memory.NewCallRepository(), newBreaker())

	objects.On("BucketExists", mock.Anything, "call-archive").Return(false, nil).Once()
	objects.On("MakeBucket", mock.Anything, "call-archive", mock.Anything).Return(nil).Once()

	require.NoError(t, archive.EnsureBucket(context.Background()))
	objects.AssertExpectations(t)
}

func TestArchive_StoresTerminatedCall(t *testing.T) {
	repo := memory.NewCallRepository()
	call := seedEndedCall(t, repo)
	objects := new(MockObjectStorage)
	archive := NewArchive(objects, "call-archive", repo, newBreaker())

	expectedName := "calls/2026/03/14/" + call.CallID.String() + ".json"
	objects.On("PutObject", mock.Anything, "call-archive", expectedName, mock.AnythingOfType("int64")).Return(nil).Once()

	event := domain.NewCallEvent(domain.CallEventTerminated, call, call.CallerID)
	require.NoError(t, archive.Publish(context.Background(), event))
	objects.AssertExpectations(t)

	var record CallRecord
	require.NoError(t, json.Unmarshal(objects.body, &record))
	assert.Equal(t, domain.CallStatusRejected, record.Call.Status)
	require.Len(t, record.Candidates, 1)
	assert.Equal(t, "candidate:1", record.Candidates[0].Payload)
}

func TestArchive_IgnoresOtherEvents(t *testing.T) {
	objects := new(MockObjectStorage)
	archive := NewArchive(objects, "call-archive", memory.NewCallRepository(), newBreaker())

	call := &domain.Call{CallID: uuid.New(), Status: domain.CallStatusRinging}
	require.NoError(t, archive.Publish(context.Background(), domain.NewCallEvent(domain.CallEventCreated, call, call.CallerID)))
	objects.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestArchive_PropagatesStorageFailure(t *testing.T) {
	repo := memory.NewCallRepository()
	call := seedEndedCall(t, repo)
	objects := new(MockObjectStorage)
	archive := NewArchive(objects, "call-archive", repo, newBreaker())

	objects.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	err := archive.Publish(context.Background(), domain.NewCallEvent(domain.CallEventTerminated, call, call.CallerID))
	assert.Error(t, err)
}
