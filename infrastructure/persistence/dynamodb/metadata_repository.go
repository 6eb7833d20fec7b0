package dynamodb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"canvas-backend/application/ports"
	apperrors "canvas-backend/pkg/errors"
)

// MetadataRepository implements ports.MetadataRepository on a single
// DynamoDB table. Canvas pointer records and version index rows share the
// canvas partition:
//
//	PK=CANVAS#<id> SK=META                      the pointer record
//	PK=CANVAS#<id> SK=VERSION#<createdAt>#<v>   one row per sealed version
type MetadataRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

var _ ports.MetadataRepository = (*MetadataRepository)(nil)

// NewMetadataRepository creates a new MetadataRepository
func NewMetadataRepository(client *dynamodb.Client, tableName string, logger *zap.Logger) *MetadataRepository {
	return &MetadataRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// canvasItem is the DynamoDB shape of a canvas pointer record
type canvasItem struct {
	PK              string   `dynamodbav:"PK"`
	SK              string   `dynamodbav:"SK"`
	EntityType      string   `dynamodbav:"EntityType"`
	CanvasID        string   `dynamodbav:"CanvasID"`
	CurrentVersion  string   `dynamodbav:"CurrentVersion"`
	StateStorageKey string   `dynamodbav:"StateStorageKey"`
	UsedToolsets    []string `dynamodbav:"UsedToolsets,omitempty"`
	CreatedAt       string   `dynamodbav:"CreatedAt"`
	UpdatedAt       string   `dynamodbav:"UpdatedAt"`
}

// versionItem is the DynamoDB shape of one version index row
type versionItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	CanvasID   string `dynamodbav:"CanvasID"`
	Version    string `dynamodbav:"Version"`
	Hash       string `dynamodbav:"Hash"`
	NodeCount  int    `dynamodbav:"NodeCount"`
	EdgeCount  int    `dynamodbav:"EdgeCount"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
}

func canvasPK(canvasID string) string {
	return fmt.Sprintf("CANVAS#%s", canvasID)
}

func versionSK(createdAt time.Time, version string) string {
	return fmt.Sprintf("VERSION#%s#%s", createdAt.UTC().Format(time.RFC3339Nano), version)
}

// GetCanvas retrieves the pointer record for a canvas
func (r *MetadataRepository) GetCanvas(ctx context.Context, canvasID string) (*ports.CanvasRecord, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: canvasPK(canvasID)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		ConsistentRead: aws.Bool(true),
	}

	result, err := r.client.GetItem(ctx, input)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get canvas", err)
	}
	if result.Item == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("canvas %s", canvasID))
	}

	var item canvasItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, apperrors.NewDatabaseError("unmarshal canvas", err)
	}

	return itemToRecord(item), nil
}

// SaveCanvas upserts the pointer record
func (r *MetadataRepository) SaveCanvas(ctx context.Context, record *ports.CanvasRecord) error {
	item := recordToItem(record)

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return apperrors.NewDatabaseError("marshal canvas", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	}

	if _, err := r.client.PutItem(ctx, input); err != nil {
		r.logger.Error("Failed to save canvas record",
			zap.Error(err),
			zap.String("canvasID", record.CanvasID),
		)
		return apperrors.NewDatabaseError("save canvas", err)
	}

	return nil
}

// UpdateUsedToolsets rewrites the toolset bookkeeping on an existing record
func (r *MetadataRepository) UpdateUsedToolsets(ctx context.Context, canvasID string, toolsets []string) error {
	values := map[string]types.AttributeValue{
		":updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	if len(toolsets) == 0 {
		values[":toolsets"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	} else {
		list, err := attributevalue.MarshalList(toolsets)
		if err != nil {
			return apperrors.NewDatabaseError("marshal toolsets", err)
		}
		values[":toolsets"] = &types.AttributeValueMemberL{Value: list}
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: canvasPK(canvasID)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression:          aws.String("SET UsedToolsets = :toolsets, UpdatedAt = :updatedAt"),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: values,
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return apperrors.NewNotFoundError(fmt.Sprintf("canvas %s", canvasID))
		}
		return apperrors.NewDatabaseError("update toolsets", err)
	}

	return nil
}

// AdvanceVersion moves the canvas pointer from expectedVersion to newVersion
// and appends the version index row in one transaction. When the pointer no
// longer matches, some other writer sealed a version first and the caller
// gets a typed conflict.
func (r *MetadataRepository) AdvanceVersion(ctx context.Context, canvasID, expectedVersion, newVersion, storageKey string, entry ports.VersionIndexEntry) error {
	now := time.Now().UTC().Format(time.RFC3339)

	values := map[string]types.AttributeValue{
		":new":       &types.AttributeValueMemberS{Value: newVersion},
		":key":       &types.AttributeValueMemberS{Value: storageKey},
		":updatedAt": &types.AttributeValueMemberS{Value: now},
		":cid":       &types.AttributeValueMemberS{Value: canvasID},
		":etype":     &types.AttributeValueMemberS{Value: "CANVAS"},
	}

	// A canvas sealing its first version has no pointer yet; the update
	// then creates the record.
	condition := "attribute_not_exists(PK) OR attribute_not_exists(CurrentVersion) OR CurrentVersion = :expected"
	values[":expected"] = &types.AttributeValueMemberS{Value: expectedVersion}
	if expectedVersion != "" {
		condition = "CurrentVersion = :expected"
	}

	pointerUpdate := types.Update{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: canvasPK(canvasID)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression: aws.String(
			"SET CurrentVersion = :new, StateStorageKey = :key, UpdatedAt = :updatedAt, " +
				"CanvasID = if_not_exists(CanvasID, :cid), EntityType = if_not_exists(EntityType, :etype), " +
				"CreatedAt = if_not_exists(CreatedAt, :updatedAt)"),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeValues: values,
	}

	versionRow := versionItem{
		PK:         canvasPK(canvasID),
		SK:         versionSK(entry.CreatedAt, newVersion),
		EntityType: "VERSION",
		CanvasID:   canvasID,
		Version:    newVersion,
		Hash:       entry.Hash,
		NodeCount:  entry.NodeCount,
		EdgeCount:  entry.EdgeCount,
		CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339),
	}

	av, err := attributevalue.MarshalMap(versionRow)
	if err != nil {
		return apperrors.NewDatabaseError("marshal version row", err)
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &pointerUpdate},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(SK)"),
			}},
		},
	}

	if _, err := r.client.TransactWriteItems(ctx, input); err != nil {
		if isTransactionConditionFailure(err) {
			r.logger.Warn("Version pointer moved under us",
				zap.String("canvasID", canvasID),
				zap.String("expectedVersion", expectedVersion),
				zap.String("newVersion", newVersion),
			)
			return apperrors.NewConflictError(fmt.Sprintf("canvas %s version advanced concurrently", canvasID))
		}
		return apperrors.NewDatabaseError("advance version", err)
	}

	r.logger.Debug("Version pointer advanced",
		zap.String("canvasID", canvasID),
		zap.String("fromVersion", expectedVersion),
		zap.String("toVersion", newVersion),
	)

	return nil
}

// ListVersions pages through the version index, newest first
func (r *MetadataRepository) ListVersions(ctx context.Context, canvasID string, limit int, cursor string) ([]ports.VersionIndexEntry, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	keyCond := expression.Key("PK").Equal(expression.Value(canvasPK(canvasID))).
		And(expression.Key("SK").BeginsWith("VERSION#"))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, "", apperrors.NewDatabaseError("build version query", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(limit)),
	}

	if cursor != "" {
		startKey, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", apperrors.NewValidationError("invalid pagination cursor")
		}
		input.ExclusiveStartKey = startKey
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, "", apperrors.NewDatabaseError("list versions", err)
	}

	entries := make([]ports.VersionIndexEntry, 0, len(result.Items))
	for _, raw := range result.Items {
		var item versionItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			r.logger.Warn("Skipping malformed version row", zap.Error(err))
			continue
		}

		createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)
		entries = append(entries, ports.VersionIndexEntry{
			CanvasID:  item.CanvasID,
			Version:   item.Version,
			Hash:      item.Hash,
			NodeCount: item.NodeCount,
			EdgeCount: item.EdgeCount,
			CreatedAt: createdAt,
		})
	}

	nextCursor := ""
	if result.LastEvaluatedKey != nil {
		nextCursor, err = encodeCursor(result.LastEvaluatedKey)
		if err != nil {
			return nil, "", apperrors.NewDatabaseError("encode cursor", err)
		}
	}

	return entries, nextCursor, nil
}

func recordToItem(record *ports.CanvasRecord) canvasItem {
	return canvasItem{
		PK:              canvasPK(record.CanvasID),
		SK:              "META",
		EntityType:      "CANVAS",
		CanvasID:        record.CanvasID,
		CurrentVersion:  record.CurrentVersion,
		StateStorageKey: record.StateStorageKey,
		UsedToolsets:    record.UsedToolsets,
		CreatedAt:       record.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       record.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func itemToRecord(item canvasItem) *ports.CanvasRecord {
	createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, item.UpdatedAt)

	return &ports.CanvasRecord{
		CanvasID:        item.CanvasID,
		CurrentVersion:  item.CurrentVersion,
		StateStorageKey: item.StateStorageKey,
		UsedToolsets:    item.UsedToolsets,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
}

// isTransactionConditionFailure reports whether a TransactWriteItems error
// was caused by a conditional check, as opposed to throttling or I/O.
func isTransactionConditionFailure(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		var conditionFailed *types.ConditionalCheckFailedException
		return errors.As(err, &conditionFailed)
	}

	for _, reason := range canceled.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	plain := make(map[string]string, len(key))
	for name, attr := range key {
		s, ok := attr.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("unsupported cursor attribute %s", name)
		}
		plain[name] = s.Value
	}

	data, err := json.Marshal(plain)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, err
	}

	var plain map[string]string
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, err
	}

	key := make(map[string]types.AttributeValue, len(plain))
	for name, value := range plain {
		key[name] = &types.AttributeValueMemberS{Value: value}
	}
	return key, nil
}
