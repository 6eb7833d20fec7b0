package observability

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// CloudWatchEmitter pushes operation metrics to CloudWatch. Lambda
// deployments have no scrapeable endpoint, so the Prometheus collector is
// supplemented by pushing the same signals. A nil client disables emission.
type CloudWatchEmitter struct {
	namespace string
	client    *cloudwatch.Client
	logger    *zap.Logger
}

// NewCloudWatchEmitter creates a new CloudWatchEmitter
func NewCloudWatchEmitter(namespace string, client *cloudwatch.Client, logger *zap.Logger) *CloudWatchEmitter {
	return &CloudWatchEmitter{
		namespace: namespace,
		client:    client,
		logger:    logger,
	}
}

// RecordOperation records one engine operation's latency and outcome
func (e *CloudWatchEmitter) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	if e == nil || e.client == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
	}

	e.put(ctx, []types.MetricDatum{
		{
			MetricName: aws.String("OperationLatency"),
			Dimensions: []types.Dimension{
				{Name: aws.String("Operation"), Value: aws.String(operation)},
			},
			Value:     aws.Float64(float64(duration.Milliseconds())),
			Unit:      types.StandardUnitMilliseconds,
			Timestamp: aws.Time(time.Now()),
		},
		{
			MetricName: aws.String("OperationCount"),
			Dimensions: []types.Dimension{
				{Name: aws.String("Operation"), Value: aws.String(operation)},
				{Name: aws.String("Status"), Value: aws.String(status)},
			},
			Value:     aws.Float64(1),
			Unit:      types.StandardUnitCount,
			Timestamp: aws.Time(time.Now()),
		},
	})
}

// RecordConflict records a merge conflict surfaced to a client
func (e *CloudWatchEmitter) RecordConflict(ctx context.Context, reason string) {
	if e == nil || e.client == nil {
		return
	}

	e.put(ctx, []types.MetricDatum{
		{
			MetricName: aws.String("MergeConflicts"),
			Dimensions: []types.Dimension{
				{Name: aws.String("Reason"), Value: aws.String(reason)},
			},
			Value:     aws.Float64(1),
			Unit:      types.StandardUnitCount,
			Timestamp: aws.Time(time.Now()),
		},
	})
}

// put sends metric data. Emission is best-effort and never fails a caller.
func (e *CloudWatchEmitter) put(ctx context.Context, data []types.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(e.namespace),
		MetricData: data,
	}

	if _, err := e.client.PutMetricData(ctx, input); err != nil {
		e.logger.Warn("Failed to push CloudWatch metrics", zap.Error(err))
	}
}
