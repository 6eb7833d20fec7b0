package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoLimiter counts requests per key in fixed windows shared across
// instances, so the limit holds globally rather than per Lambda container.
// Backend errors fail open: throttling must not take the API down with it.
type DynamoLimiter struct {
	client *awsdynamodb.Client
	table  string
	limit  int
	window time.Duration
}

// NewDynamoLimiter allows limit requests per key in each window. Counter
// rows live in the same table as the canvas metadata and expire via TTL.
func NewDynamoLimiter(client *awsdynamodb.Client, table string, limit int, window time.Duration) *DynamoLimiter {
	return &DynamoLimiter{
		client: client,
		table:  table,
		limit:  limit,
		window: window,
	}
}

// Allow atomically increments the key's counter for the current window.
// Once the counter reaches the limit the conditional expression rejects
// the update, which DynamoDB reports as a failed condition.
func (d *DynamoLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowStart := time.Now().Truncate(d.window)
	pk := fmt.Sprintf("RATELIMIT#%s#%d", key, windowStart.Unix())
	expiry := windowStart.Add(d.window + time.Hour).Unix()

	_, err := d.client.UpdateItem(ctx, &awsdynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: "RATELIMIT"},
		},
		UpdateExpression:    aws.String("SET #count = if_not_exists(#count, :zero) + :one, #ttl = :expiry"),
		ConditionExpression: aws.String("attribute_not_exists(#count) OR #count < :limit"),
		ExpressionAttributeNames: map[string]string{
			"#count": "Count",
			"#ttl":   "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero":   &types.AttributeValueMemberN{Value: "0"},
			":one":    &types.AttributeValueMemberN{Value: "1"},
			":limit":  &types.AttributeValueMemberN{Value: strconv.Itoa(d.limit)},
			":expiry": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry, 10)},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return false, nil
		}
		return true, fmt.Errorf("rate limit check failed open: %w", err)
	}

	return true, nil
}
