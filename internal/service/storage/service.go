package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/config"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/resilience"
)

// ObjectStorage is the subset of the MinIO client the archive needs
type ObjectStorage interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// CallReader loads the final state of a call
type CallReader interface {
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	ListCandidates(ctx context.Context, callID uuid.UUID, filter domain.CandidateFilter) ([]*domain.ICECandidate, error)
}

// CallRecord is the archived snapshot of a finished call
type CallRecord struct {
	Call       *domain.Call           `json:"call"`
	Candidates []*domain.ICECandidate `json:"candidates"`
}

// Archive stores a JSON snapshot of every finished call in object storage
type Archive struct {
	objects ObjectStorage
	bucket  string
	calls   CallReader
	breaker *resilience.CircuitBreaker
}

// NewMinioClient creates a MinIO client from configuration
func NewMinioClient(cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return client, nil
}

// NewArchive creates a call archive writing to bucket
func NewArchive(objects ObjectStorage, bucket string, calls CallReader, breaker *resilience.CircuitBreaker) *Archive {
	return &Archive{
		objects: objects,
		bucket:  bucket,
		calls:   calls,
		breaker: breaker,
	}
}

// EnsureBucket creates the archive bucket if it does not exist
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.objects.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.objects.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	logger.Info("Created call archive bucket", zap.String("bucket", a.bucket))
	return nil
}

// Publish archives the call when it reaches a terminal status
func (a *Archive) Publish(ctx context.Context, event *domain.CallEvent) error {
	if event.Type != domain.CallEventTerminated {
		return nil
	}

	call, err := a.calls.GetByID(ctx, event.CallID)
	if err != nil {
		return fmt.Errorf("failed to load call for archive: %w", err)
	}
	candidates, err := a.calls.ListCandidates(ctx, event.CallID, domain.CandidateFilter{})
	if err != nil {
		return fmt.Errorf("failed to load candidates for archive: %w", err)
	}

	data, err := json.Marshal(&CallRecord{Call: call, Candidates: candidates})
	if err != nil {
		return fmt.Errorf("failed to encode call record: %w", err)
	}

	objectName := ObjectName(call)
	err = a.breaker.Execute(ctx, "put_call_record", func(ctx context.Context) error {
		_, err := a.objects.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "application/json"})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive call: %w", err)
	}

	logger.ForCall(ctx, call.CallID).Debug("Call archived",
		zap.String("object", objectName),
		zap.Int("size", len(data)))
	return nil
}

// ObjectName returns the archive key of a call, partitioned by creation day
func ObjectName(call *domain.Call) string {
	return fmt.Sprintf("calls/%s/%s.json", call.CreatedAt.UTC().Format("2006/01/02"), call.CallID)
}
