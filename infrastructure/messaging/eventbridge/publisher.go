// Package eventbridge publishes domain events to an AWS EventBridge bus.
// The outbox relay is the only caller in the write path, so a publish
// failure here is retried by the relay, never by the sync engine itself.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"canvas-backend/domain/events"
	apperrors "canvas-backend/pkg/errors"
	"canvas-backend/pkg/observability"
)

// Publisher implements ports.EventPublisher using AWS EventBridge
type Publisher struct {
	client       *eventbridge.Client
	eventBusName string
	source       string
	metrics      *observability.Collector
	logger       *zap.Logger
}

// NewPublisher creates a new EventBridge publisher
func NewPublisher(
	client *eventbridge.Client,
	eventBusName string,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Publisher {
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		source:       events.SourceBackend,
		metrics:      metrics,
		logger:       logger,
	}
}

// Publish sends a single event to EventBridge
func (p *Publisher) Publish(ctx context.Context, event events.DomainEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event",
			zap.Error(err),
			zap.String("eventType", event.GetEventType()),
		)
		return apperrors.Wrap(err, "failed to marshal event")
	}

	entry := types.PutEventsRequestEntry{
		EventBusName: aws.String(p.eventBusName),
		Source:       aws.String(p.source),
		DetailType:   aws.String(event.GetEventType()),
		Detail:       aws.String(string(eventData)),
		Time:         aws.Time(event.GetTimestamp()),
		Resources: []string{
			fmt.Sprintf("arn:aws:canvas::%s", event.GetAggregateID()),
		},
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return apperrors.NewExternalError("eventbridge", err)
	}

	if result.FailedEntryCount > 0 {
		for _, out := range result.Entries {
			if out.ErrorCode != nil {
				p.logger.Error("Failed to publish event",
					zap.String("eventType", event.GetEventType()),
					zap.String("errorCode", aws.ToString(out.ErrorCode)),
					zap.String("errorMessage", aws.ToString(out.ErrorMessage)),
				)
			}
		}
		return apperrors.NewExternalError("eventbridge",
			fmt.Errorf("%d events failed to publish", result.FailedEntryCount))
	}

	p.metrics.EventsPublished.WithLabelValues(event.GetEventType()).Inc()
	p.logger.Debug("Event published to EventBridge",
		zap.String("eventType", event.GetEventType()),
		zap.String("eventBus", p.eventBusName),
	)

	return nil
}
