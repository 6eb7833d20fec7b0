package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/wire"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"canvas-backend/application/ports"
	"canvas-backend/application/services"
	"canvas-backend/domain/events"
	"canvas-backend/domain/versioning"
	"canvas-backend/infrastructure/config"
	"canvas-backend/infrastructure/messaging/eventbridge"
	"canvas-backend/infrastructure/persistence/cache"
	"canvas-backend/infrastructure/persistence/dynamodb"
	"canvas-backend/infrastructure/persistence/redis"
	"canvas-backend/infrastructure/persistence/s3"
	"canvas-backend/infrastructure/persistence/statestore"
	"canvas-backend/interfaces/http/rest/handlers"
	apperrors "canvas-backend/pkg/errors"
	"canvas-backend/pkg/observability"
	"canvas-backend/pkg/ratelimit"
)

// ProvideLogger creates the application logger
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideS3Client creates an S3 client
func ProvideS3Client(awsCfg aws.Config) *awss3.Client {
	return awss3.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideRedisClient creates the shared Redis connection. Nil when neither
// the cache nor the lock provider selected Redis.
func ProvideRedisClient(cfg *config.Config) *goredis.Client {
	if cfg.CacheProvider != "redis" && cfg.LockProvider != "redis" {
		return nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// ProvideCollector creates the Prometheus metrics collector
func ProvideCollector(cfg *config.Config) *observability.Collector {
	return observability.NewCollector(cfg.MetricsNamespace)
}

// ProvideCloudWatchEmitter creates the CloudWatch metrics pusher. Only
// Lambda deployments get one; everything else exposes /metrics for
// scraping. The emitter's methods tolerate a nil receiver.
func ProvideCloudWatchEmitter(client *awscloudwatch.Client, cfg *config.Config, logger *zap.Logger) *observability.CloudWatchEmitter {
	if !cfg.IsLambda {
		return nil
	}
	namespace := fmt.Sprintf("Canvas/%s", cfg.Environment)
	return observability.NewCloudWatchEmitter(namespace, client, logger)
}

// ProvideTracing initializes OTLP trace export when tracing is enabled,
// nil otherwise.
func ProvideTracing(cfg *config.Config) (*observability.TracerProvider, error) {
	if !cfg.EnableTracing {
		return nil, nil
	}
	return observability.InitTracing("canvas-backend", cfg.Environment, cfg.OtelEndpoint)
}

// ProvideCache selects the cache backend. The Redis path is wrapped in a
// circuit breaker so a cache outage degrades state reads to the blob
// store instead of failing them.
func ProvideCache(cfg *config.Config, redisClient *goredis.Client, logger *zap.Logger) ports.Cache {
	if cfg.CacheProvider == "redis" {
		inner := redis.NewCache(redisClient, logger)
		return cache.NewBreakerCache(inner, cache.DefaultBreakerConfig("redis-cache"), logger)
	}
	return cache.NewMemoryCache()
}

// ProvideCanvasLocker selects the distributed lock backend
func ProvideCanvasLocker(cfg *config.Config, dynamoClient *awsdynamodb.Client, redisClient *goredis.Client, logger *zap.Logger) ports.CanvasLocker {
	if cfg.LockProvider == "redis" {
		return redis.NewLocker(redisClient, logger)
	}
	return dynamodb.NewDistributedLock(dynamoClient, cfg.DynamoDBTable, logger)
}

// ProvideBlobStore creates the S3 blob store holding canvas states
func ProvideBlobStore(client *awss3.Client, cfg *config.Config, logger *zap.Logger) ports.BlobStore {
	return s3.NewBlobStore(client, cfg.StateBucket, logger)
}

// ProvideStateStore assembles the cache-through state store, wrapped in
// tracing when enabled
func ProvideStateStore(
	blobs ports.BlobStore,
	stateCache ports.Cache,
	collector *observability.Collector,
	tracing *observability.TracerProvider,
	cfg *config.Config,
	logger *zap.Logger,
) ports.StateStore {
	store := statestore.New(blobs, stateCache, collector, logger,
		statestore.WithCacheTTL(cfg.CacheTTL()),
	)
	if tracing != nil {
		return observability.TraceStateStore(store, tracing.Tracer())
	}
	return store
}

// ProvideMetadataRepository creates the canvas metadata repository
func ProvideMetadataRepository(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.MetadataRepository {
	return dynamodb.NewMetadataRepository(client, cfg.DynamoDBTable, logger)
}

// ProvideDirectPublisher creates the EventBridge publisher. It serves both
// as the direct publishing path and as the outbox relay's drain target.
func ProvideDirectPublisher(client *awseventbridge.Client, cfg *config.Config, collector *observability.Collector, logger *zap.Logger) *eventbridge.Publisher {
	return eventbridge.NewPublisher(client, cfg.EventBusName, collector, logger)
}

// ProvideOutboxStore creates the outbox event store
func ProvideOutboxStore(client *awsdynamodb.Client, cfg *config.Config) *dynamodb.OutboxStore {
	return dynamodb.NewOutboxStore(client, cfg.DynamoDBTable)
}

// ProvideOutboxRelay creates the background drain for the outbox, nil
// unless the outbox publisher is selected. The relay is started by main,
// not here.
func ProvideOutboxRelay(cfg *config.Config, store *dynamodb.OutboxStore, direct *eventbridge.Publisher, logger *zap.Logger) *dynamodb.OutboxRelay {
	if cfg.EventPublisher != "outbox" {
		return nil
	}
	return dynamodb.NewOutboxRelay(store, direct, logger)
}

// ProvideEventPublisher selects the event publishing strategy
func ProvideEventPublisher(cfg *config.Config, direct *eventbridge.Publisher, store *dynamodb.OutboxStore, logger *zap.Logger) ports.EventPublisher {
	switch cfg.EventPublisher {
	case "outbox":
		return dynamodb.NewOutboxPublisher(store, logger)
	case "disabled":
		return noopPublisher{}
	default:
		return direct
	}
}

// noopPublisher drops events. Selected in local development when no event
// bus is available.
type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	return nil
}

// ProvideCanvasService assembles the sync engine and seeds it with the
// tuning knobs from the loaded configuration
func ProvideCanvasService(
	states ports.StateStore,
	metadata ports.MetadataRepository,
	locks ports.CanvasLocker,
	publisher ports.EventPublisher,
	collector *observability.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) *services.CanvasService {
	svc := services.NewCanvasService(states, metadata, locks, publisher, collector, logger)
	svc.ApplyTuning(lockOptionsFrom(cfg), versionPolicyFrom(cfg))
	return svc
}

// ProvideWatcher wires tuning hot reload into the running service
func ProvideWatcher(cfg *config.Config, svc *services.CanvasService, logger *zap.Logger) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(cfg, logger)
	if err != nil {
		return nil, err
	}
	watcher.OnChange(func(next *config.Config) {
		svc.ApplyTuning(lockOptionsFrom(next), versionPolicyFrom(next))
	})
	return watcher, nil
}

// ProvideRateLimiter selects the request throttle, nil when disabled.
// Lambda deployments share a DynamoDB counter because each container's
// memory is its own; everything else keeps token buckets in process.
func ProvideRateLimiter(cfg *config.Config, dynamoClient *awsdynamodb.Client) ratelimit.Limiter {
	if cfg.RateLimitPerMinute <= 0 {
		return nil
	}
	if cfg.IsLambda {
		return ratelimit.NewDynamoLimiter(dynamoClient, cfg.DynamoDBTable, cfg.RateLimitPerMinute, time.Minute)
	}
	return ratelimit.NewTokenBucket(cfg.RateLimitPerMinute)
}

// ProvideErrorHandler creates the HTTP error mapper. Error detail is only
// exposed outside production.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *apperrors.ErrorHandler {
	return apperrors.NewErrorHandler(logger, !cfg.IsProduction())
}

// ProvideCanvasHandler creates the REST handler
func ProvideCanvasHandler(service *services.CanvasService, errorHandler *apperrors.ErrorHandler, logger *zap.Logger) *handlers.CanvasHandler {
	return handlers.NewCanvasHandler(service, errorHandler, logger)
}

// lockOptionsFrom maps config tuning onto lock acquisition bounds.
func lockOptionsFrom(cfg *config.Config) ports.LockOptions {
	return ports.LockOptions{
		MaxRetries:   cfg.Tuning.Lock.MaxRetries,
		InitialDelay: cfg.LockInitialDelay(),
		TTL:          cfg.LockTTL(),
	}
}

// versionPolicyFrom maps config tuning onto the auto-collapse policy.
func versionPolicyFrom(cfg *config.Config) versioning.Policy {
	return versioning.Policy{
		MaxTransactions: cfg.Tuning.Versioning.MaxTransactions,
		MaxAge:          cfg.VersionMaxAge(),
	}
}

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideS3Client,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideRedisClient,
	ProvideCollector,
	ProvideCloudWatchEmitter,
	ProvideTracing,
	ProvideCache,
	ProvideCanvasLocker,
	ProvideBlobStore,
	ProvideStateStore,
	ProvideMetadataRepository,
	ProvideDirectPublisher,
	ProvideOutboxStore,
	ProvideOutboxRelay,
	ProvideEventPublisher,
	ProvideCanvasService,
	ProvideWatcher,
	ProvideRateLimiter,
	ProvideErrorHandler,
	ProvideCanvasHandler,
	wire.Struct(new(Container), "*"),
)
