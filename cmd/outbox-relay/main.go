// Package main implements the scheduled Lambda that drains the canvas
// event outbox to EventBridge. Deployments running the API on Lambda have
// no long-lived process to host the relay loop, so a schedule invokes
// this drain instead.
package main

import (
	"context"
	"log"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"canvas-backend/infrastructure/config"
	"canvas-backend/infrastructure/di"
	"canvas-backend/infrastructure/persistence/dynamodb"
)

var (
	relay  *dynamodb.OutboxRelay
	logger *zap.Logger
)

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	container, err := di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize dependency container: %v", err)
	}
	if container.Relay == nil {
		log.Fatal("Outbox drain requires EVENT_PUBLISHER=outbox")
	}

	relay = container.Relay
	logger = container.Logger
}

// Handler drains pending outbox events until none make progress
func Handler(ctx context.Context, event awsevents.CloudWatchEvent) error {
	logger.Debug("Outbox drain triggered",
		zap.String("source", event.Source),
		zap.Time("time", event.Time),
	)

	if err := relay.Drain(ctx); err != nil {
		logger.Error("Outbox drain failed", zap.Error(err))
		return err
	}

	return nil
}

func main() {
	lambda.Start(Handler)
}
