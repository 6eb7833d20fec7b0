package dynamodb

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"canvas-backend/application/ports"
)

// OutboxRelay drains pending outbox events and publishes them on the event
// bus in the background. Publication is at-least-once: a crash between
// publish and the status update replays the event on the next pass.
type OutboxRelay struct {
	store     *OutboxStore
	publisher ports.EventPublisher
	logger    *zap.Logger

	batchSize     int32
	pollInterval  time.Duration
	stopChan      chan struct{}
	stoppedChan   chan struct{}
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(store *OutboxStore, publisher ports.EventPublisher, logger *zap.Logger) *OutboxRelay {
	return &OutboxRelay{
		store:        store,
		publisher:    publisher,
		logger:       logger,
		batchSize:    50,
		pollInterval: 5 * time.Second,
		stopChan:     make(chan struct{}),
		stoppedChan:  make(chan struct{}),
	}
}

// Start begins the background relay loop
func (r *OutboxRelay) Start(ctx context.Context) {
	r.logger.Info("Starting outbox relay",
		zap.Int32("batchSize", r.batchSize),
		zap.Duration("interval", r.pollInterval),
	)

	go r.relayLoop(ctx)
}

// Stop gracefully stops the relay, waiting for the in-flight batch
func (r *OutboxRelay) Stop() {
	close(r.stopChan)
	<-r.stoppedChan
	r.logger.Info("Outbox relay stopped")
}

// Drain relays batches until no pending event makes progress. Scheduled
// Lambda invocations call this once instead of running Start; a frozen
// function cannot keep a poll loop alive.
func (r *OutboxRelay) Drain(ctx context.Context) error {
	for {
		published, err := r.relayBatch(ctx)
		if err != nil {
			return err
		}
		if published == 0 {
			return nil
		}
	}
}

func (r *OutboxRelay) relayLoop(ctx context.Context) {
	defer close(r.stoppedChan)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Context cancelled, stopping outbox relay")
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if _, err := r.relayBatch(ctx); err != nil {
				r.logger.Error("Error relaying outbox batch", zap.Error(err))
			}
		}
	}
}

func (r *OutboxRelay) relayBatch(ctx context.Context) (int, error) {
	pending, err := r.store.GetPendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	successCount := 0
	failureCount := 0

	for _, record := range pending {
		if err := r.relayEvent(ctx, record); err != nil {
			failureCount++
		} else {
			successCount++
		}
	}

	r.logger.Debug("Relayed outbox batch",
		zap.Int("successCount", successCount),
		zap.Int("failureCount", failureCount),
	)

	return successCount, nil
}

func (r *OutboxRelay) relayEvent(ctx context.Context, record *EventRecord) error {
	event, err := r.store.recordToEvent(*record)
	if err != nil {
		// Malformed rows can never publish; park them immediately
		return r.markFailed(ctx, record, fmt.Sprintf("failed to convert to domain event: %v", err))
	}

	if err := r.publisher.Publish(ctx, event); err != nil {
		return r.markFailed(ctx, record, fmt.Sprintf("publish failed: %v", err))
	}

	if err := r.store.MarkEventAsPublished(ctx, record.PK, record.SK); err != nil {
		r.logger.Error("Failed to mark event as published",
			zap.String("eventID", record.EventID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

func (r *OutboxRelay) markFailed(ctx context.Context, record *EventRecord, errorMsg string) error {
	attempts := record.PublishAttempts + 1

	if err := r.store.MarkEventAsFailed(ctx, record.PK, record.SK, errorMsg, attempts); err != nil {
		r.logger.Error("Failed to mark event as failed",
			zap.String("eventID", record.EventID),
			zap.Error(err),
		)
		return err
	}

	if attempts >= maxPublishAttempts {
		r.logger.Warn("Event permanently failed after max attempts",
			zap.String("eventID", record.EventID),
			zap.String("eventType", record.EventType),
			zap.Int("attempts", attempts),
			zap.String("error", errorMsg),
		)
	} else {
		r.logger.Debug("Event marked for retry",
			zap.String("eventID", record.EventID),
			zap.Int("attempts", attempts),
		)
	}

	return fmt.Errorf("event relay failed: %s", errorMsg)
}
