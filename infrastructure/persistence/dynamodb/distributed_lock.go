package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"canvas-backend/application/ports"
	apperrors "canvas-backend/pkg/errors"
)

// DistributedLock provides per-canvas mutual exclusion using DynamoDB
// conditional writes. An expired lock row counts as free, so a crashed
// holder delays competitors by at most the TTL.
type DistributedLock struct {
	client    *dynamodb.Client
	tableName string
	ownerID   string
	logger    *zap.Logger
}

// LockRecord represents a lock row in DynamoDB
type LockRecord struct {
	PK         string `dynamodbav:"PK"`         // LOCK#CANVAS#<canvas_id>
	SK         string `dynamodbav:"SK"`         // LOCK
	LockID     string `dynamodbav:"LockID"`     // Unique per acquisition
	Owner      string `dynamodbav:"Owner"`      // Process identity
	AcquiredAt string `dynamodbav:"AcquiredAt"` // RFC3339 timestamp
	ExpiresAt  string `dynamodbav:"ExpiresAt"`  // RFC3339 timestamp
	TTL        int64  `dynamodbav:"TTL"`        // Unix timestamp for DynamoDB TTL
}

// NewDistributedLock creates a new distributed lock manager
func NewDistributedLock(client *dynamodb.Client, tableName string, logger *zap.Logger) *DistributedLock {
	return &DistributedLock{
		client:    client,
		tableName: tableName,
		ownerID:   uuid.New().String(),
		logger:    logger,
	}
}

// Acquire blocks through the retry schedule until the canvas lock is held.
// The delay doubles on each contended attempt; once the retry budget is
// spent the caller gets a typed lock-timeout error and must not assume
// anything about the canvas state.
func (dl *DistributedLock) Acquire(ctx context.Context, canvasID string, opts ports.LockOptions) (ports.CanvasLock, error) {
	if opts.MaxRetries <= 0 && opts.InitialDelay <= 0 && opts.TTL <= 0 {
		opts = ports.DefaultLockOptions()
	}

	delay := opts.InitialDelay
	for attempt := 0; ; attempt++ {
		lock, contended, err := dl.tryAcquire(ctx, canvasID, opts.TTL)
		if err != nil {
			return nil, err
		}
		if !contended {
			if attempt > 0 {
				dl.logger.Debug("Lock acquired after contention",
					zap.String("canvasID", canvasID),
					zap.Int("attempts", attempt+1),
				)
			}
			return lock, nil
		}

		if attempt >= opts.MaxRetries {
			dl.logger.Warn("Lock retry budget exhausted",
				zap.String("canvasID", canvasID),
				zap.Int("attempts", attempt+1),
			)
			return nil, apperrors.NewLockTimeoutError(canvasID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > 5*time.Second {
			delay = 5 * time.Second
		}
	}
}

// tryAcquire makes one conditional-write attempt. The second return value is
// true when the lock is currently held by someone else.
func (dl *DistributedLock) tryAcquire(ctx context.Context, canvasID string, ttl time.Duration) (*heldLock, bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	lockID := fmt.Sprintf("%s_%d", dl.ownerID, now.UnixNano())

	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: lockPK(canvasID)},
		"SK":         &types.AttributeValueMemberS{Value: "LOCK"},
		"LockID":     &types.AttributeValueMemberS{Value: lockID},
		"Owner":      &types.AttributeValueMemberS{Value: dl.ownerID},
		"AcquiredAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ExpiresAt":  &types.AttributeValueMemberS{Value: expiresAt.Format(time.RFC3339)},
		"TTL":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(dl.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}

	if _, err := dl.client.PutItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return nil, true, nil
		}
		return nil, false, apperrors.NewDatabaseError("acquire lock", err)
	}

	return &heldLock{
		manager:  dl,
		canvasID: canvasID,
		lockID:   lockID,
	}, false, nil
}

// release deletes the lock row if this acquisition still owns it. A row that
// is already gone, or owned by a later acquisition after expiry, makes the
// release a no-op.
func (dl *DistributedLock) release(ctx context.Context, canvasID, lockID string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(dl.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: lockPK(canvasID)},
			"SK": &types.AttributeValueMemberS{Value: "LOCK"},
		},
		ConditionExpression: aws.String("LockID = :lockId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lockId": &types.AttributeValueMemberS{Value: lockID},
		},
	}

	if _, err := dl.client.DeleteItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			dl.logger.Debug("Lock already released or reacquired",
				zap.String("canvasID", canvasID),
				zap.String("lockID", lockID),
			)
			return nil
		}
		return apperrors.NewDatabaseError("release lock", err)
	}

	return nil
}

func lockPK(canvasID string) string {
	return fmt.Sprintf("LOCK#CANVAS#%s", canvasID)
}

// heldLock is one successful acquisition
type heldLock struct {
	manager  *DistributedLock
	canvasID string
	lockID   string
}

// Release releases the lock. Safe to call more than once.
func (l *heldLock) Release(ctx context.Context) error {
	return l.manager.release(ctx, l.canvasID, l.lockID)
}
