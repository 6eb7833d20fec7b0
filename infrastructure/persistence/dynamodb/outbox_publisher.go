package dynamodb

import (
	"context"

	"go.uber.org/zap"

	"canvas-backend/application/ports"
	"canvas-backend/domain/events"
)

// OutboxPublisher implements ports.EventPublisher by durably recording
// events in the outbox instead of calling the bus inline. The relay drains
// recorded events to the real bus in the background, so an event survives a
// process crash between the state write and the publish.
type OutboxPublisher struct {
	store  *OutboxStore
	logger *zap.Logger
}

var _ ports.EventPublisher = (*OutboxPublisher)(nil)

// NewOutboxPublisher creates a new OutboxPublisher
func NewOutboxPublisher(store *OutboxStore, logger *zap.Logger) *OutboxPublisher {
	return &OutboxPublisher{
		store:  store,
		logger: logger,
	}
}

// Publish records the event as pending. It never reaches the bus directly.
func (p *OutboxPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	if err := p.store.SaveEvents(ctx, []events.DomainEvent{event}); err != nil {
		p.logger.Error("Failed to record event in outbox",
			zap.String("eventType", event.GetEventType()),
			zap.String("aggregateID", event.GetAggregateID()),
			zap.Error(err),
		)
		return err
	}

	p.logger.Debug("Event recorded in outbox",
		zap.String("eventType", event.GetEventType()),
		zap.String("aggregateID", event.GetAggregateID()),
	)
	return nil
}
