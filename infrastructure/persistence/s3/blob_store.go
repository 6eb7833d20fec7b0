// Package s3 stores serialized canvas state blobs in S3. Each sealed
// version gets its own object, so writes never overwrite history.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	apperrors "canvas-backend/pkg/errors"
)

// BlobStore implements ports.BlobStore on an S3 bucket
type BlobStore struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// NewBlobStore creates a new BlobStore
func NewBlobStore(client *s3.Client, bucket string, logger *zap.Logger) *BlobStore {
	return &BlobStore{
		client: client,
		bucket: bucket,
		logger: logger,
	}
}

// GetObject fetches a state blob by key
func (b *BlobStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("state object %s", key))
		}
		return nil, apperrors.NewDatabaseError("get state object", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperrors.NewDatabaseError("read state object", err)
	}

	return data, nil
}

// PutObject writes a state blob under key
func (b *BlobStore) PutObject(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		b.logger.Error("Failed to put state object",
			zap.Error(err),
			zap.String("key", key),
		)
		return apperrors.NewDatabaseError("put state object", err)
	}

	b.logger.Debug("State object written",
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)

	return nil
}
