package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"canvas-backend/domain/events"
)

// OutboxStore persists domain events in the same table as canvas state
// metadata, implementing the transactional outbox pattern: events are saved
// as pending and a background relay publishes them, so a crashed process
// never loses an event that was durably recorded.
type OutboxStore struct {
	client    *dynamodb.Client
	tableName string
}

// PublishStatus represents the publishing status of an event
type PublishStatus string

const (
	PublishStatusPending   PublishStatus = "pending"
	PublishStatusPublished PublishStatus = "published"
	PublishStatusFailed    PublishStatus = "failed"
)

// maxPublishAttempts is how many relay attempts an event gets before it is
// parked as permanently failed
const maxPublishAttempts = 3

// EventRecord represents how events are stored in DynamoDB
type EventRecord struct {
	PK          string                 `dynamodbav:"PK"` // EVENTS#<canvas_id>
	SK          string                 `dynamodbav:"SK"` // EVENT#<timestamp>#<event_id>
	EventID     string                 `dynamodbav:"EventID"`
	EventType   string                 `dynamodbav:"EventType"`
	AggregateID string                 `dynamodbav:"AggregateID"`
	EventData   map[string]interface{} `dynamodbav:"EventData"`
	Timestamp   string                 `dynamodbav:"Timestamp"`

	// Outbox bookkeeping
	PublishStatus   string `dynamodbav:"PublishStatus"`
	PublishAttempts int    `dynamodbav:"PublishAttempts"`
	LastPublishTry  string `dynamodbav:"LastPublishTry,omitempty"`
	PublishedAt     string `dynamodbav:"PublishedAt,omitempty"`
	ErrorMessage    string `dynamodbav:"ErrorMessage,omitempty"`

	// GSI1 keys events by publish status so the relay queries instead of
	// scanning
	GSI1PK string `dynamodbav:"GSI1PK"` // STATUS#<publish_status>
	GSI1SK string `dynamodbav:"GSI1SK"` // EVENT#<timestamp>

	// TTL expires old events out of the table
	TTL int64 `dynamodbav:"TTL,omitempty"`
}

// NewOutboxStore creates a new outbox store
func NewOutboxStore(client *dynamodb.Client, tableName string) *OutboxStore {
	return &OutboxStore{
		client:    client,
		tableName: tableName,
	}
}

// SaveEvents records domain events as pending outbox entries
func (es *OutboxStore) SaveEvents(ctx context.Context, domainEvents []events.DomainEvent) error {
	if len(domainEvents) == 0 {
		return nil
	}

	writeRequests := make([]types.WriteRequest, 0, len(domainEvents))

	for _, event := range domainEvents {
		record, err := es.eventToRecord(event)
		if err != nil {
			return fmt.Errorf("failed to convert event to record: %w", err)
		}

		item, err := attributevalue.MarshalMap(record)
		if err != nil {
			return fmt.Errorf("failed to marshal event record: %w", err)
		}

		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{
				Item: item,
			},
		})
	}

	// DynamoDB caps BatchWriteItem at 25 items
	for i := 0; i < len(writeRequests); i += 25 {
		end := i + 25
		if end > len(writeRequests) {
			end = len(writeRequests)
		}

		batch := writeRequests[i:end]
		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				es.tableName: batch,
			},
		}

		result, err := es.client.BatchWriteItem(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to write events batch: %w", err)
		}
		if len(result.UnprocessedItems) > 0 {
			return fmt.Errorf("failed to write %d events", len(result.UnprocessedItems[es.tableName]))
		}
	}

	return nil
}

// GetEvents retrieves all recorded events for a canvas, oldest first
func (es *OutboxStore) GetEvents(ctx context.Context, canvasID string) ([]events.DomainEvent, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("EVENTS#%s", canvasID)},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var allEvents []events.DomainEvent

	for {
		result, err := es.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}

		for _, item := range result.Items {
			var record EventRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event record: %w", err)
			}

			event, err := es.recordToEvent(record)
			if err != nil {
				return nil, fmt.Errorf("failed to convert record to event: %w", err)
			}

			allEvents = append(allEvents, event)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return allEvents, nil
}

// GetPendingEvents retrieves events awaiting publication, oldest first
func (es *OutboxStore) GetPendingEvents(ctx context.Context, limit int32) ([]*EventRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: statusKey(PublishStatusPending)},
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(limit),
	}

	result, err := es.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}

	records := make([]*EventRecord, 0, len(result.Items))
	for _, item := range result.Items {
		var record EventRecord
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			continue // Skip malformed records
		}
		records = append(records, &record)
	}

	return records, nil
}

// MarkEventAsPublished marks an event as successfully published
func (es *OutboxStore) MarkEventAsPublished(ctx context.Context, eventPK, eventSK string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(es.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: eventPK},
			"SK": &types.AttributeValueMemberS{Value: eventSK},
		},
		UpdateExpression: aws.String("SET PublishStatus = :published, PublishedAt = :publishedAt, GSI1PK = :gsi1pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":published":   &types.AttributeValueMemberS{Value: string(PublishStatusPublished)},
			":publishedAt": &types.AttributeValueMemberS{Value: now},
			":gsi1pk":      &types.AttributeValueMemberS{Value: statusKey(PublishStatusPublished)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	}

	if _, err := es.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}

	return nil
}

// MarkEventAsFailed records a failed publish attempt. The event stays
// pending until the attempt budget is spent, then it is parked as failed.
func (es *OutboxStore) MarkEventAsFailed(ctx context.Context, eventPK, eventSK, errorMsg string, attempts int) error {
	now := time.Now().UTC().Format(time.RFC3339)

	status := PublishStatusFailed
	if attempts < maxPublishAttempts {
		status = PublishStatusPending
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(es.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: eventPK},
			"SK": &types.AttributeValueMemberS{Value: eventSK},
		},
		UpdateExpression: aws.String("SET PublishStatus = :status, PublishAttempts = :attempts, LastPublishTry = :lastTry, ErrorMessage = :error, GSI1PK = :gsi1pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: string(status)},
			":attempts": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", attempts)},
			":lastTry":  &types.AttributeValueMemberS{Value: now},
			":error":    &types.AttributeValueMemberS{Value: errorMsg},
			":gsi1pk":   &types.AttributeValueMemberS{Value: statusKey(status)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	}

	if _, err := es.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	return nil
}

// eventToRecord converts a domain event to a DynamoDB record
func (es *OutboxStore) eventToRecord(event events.DomainEvent) (*EventRecord, error) {
	eventData := make(map[string]interface{})

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := json.Unmarshal(eventBytes, &eventData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event to map: %w", err)
	}

	timestamp := event.GetTimestamp()
	eventID := uuid.New().String()
	ts := timestamp.UTC().Format(time.RFC3339Nano)

	// Events older than 90 days expire out of the table
	ttl := timestamp.Add(90 * 24 * time.Hour).Unix()

	return &EventRecord{
		PK:          fmt.Sprintf("EVENTS#%s", event.GetAggregateID()),
		SK:          fmt.Sprintf("EVENT#%s#%s", ts, eventID),
		EventID:     eventID,
		EventType:   event.GetEventType(),
		AggregateID: event.GetAggregateID(),
		EventData:   eventData,
		Timestamp:   ts,

		PublishStatus:   string(PublishStatusPending),
		PublishAttempts: 0,

		GSI1PK: statusKey(PublishStatusPending),
		GSI1SK: fmt.Sprintf("EVENT#%s", ts),
		TTL:    ttl,
	}, nil
}

// recordToEvent converts a DynamoDB record back to a domain event
func (es *OutboxStore) recordToEvent(record EventRecord) (events.DomainEvent, error) {
	timestamp, err := time.Parse(time.RFC3339Nano, record.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	base := events.BaseEvent{
		AggregateID: record.AggregateID,
		EventType:   record.EventType,
		Timestamp:   timestamp,
	}
	data := record.EventData

	switch record.EventType {
	case "canvas.synced":
		return events.StateSynced{
			BaseEvent:        base,
			CanvasID:         stringField(data, "canvas_id"),
			Version:          stringField(data, "version"),
			TransactionCount: intField(data, "transaction_count"),
		}, nil

	case "canvas.version_created":
		return events.VersionCreated{
			BaseEvent:       base,
			CanvasID:        stringField(data, "canvas_id"),
			Version:         stringField(data, "version"),
			PreviousVersion: stringField(data, "previous_version"),
			Hash:            stringField(data, "hash"),
			NodeCount:       intField(data, "node_count"),
			EdgeCount:       intField(data, "edge_count"),
		}, nil

	case "canvas.nodes_added":
		return events.NodesAdded{
			BaseEvent: base,
			CanvasID:  stringField(data, "canvas_id"),
			NodeIDs:   stringSliceField(data, "node_ids"),
			EdgeCount: intField(data, "edge_count"),
		}, nil

	case "canvas.state_overwritten":
		return events.StateOverwritten{
			BaseEvent: base,
			CanvasID:  stringField(data, "canvas_id"),
			Version:   stringField(data, "version"),
		}, nil

	default:
		return base, nil
	}
}

func statusKey(status PublishStatus) string {
	return fmt.Sprintf("STATUS#%s", status)
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func intField(data map[string]interface{}, key string) int {
	// JSON numbers decode as float64
	f, _ := data[key].(float64)
	return int(f)
}

func stringSliceField(data map[string]interface{}, key string) []string {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
