// Package di wires the canvas backend together. Providers construct each
// component from configuration; the Container carries the wired graph and
// owns its shutdown order.
package di

import (
	"context"
	"io"

	"go.uber.org/zap"

	"canvas-backend/application/ports"
	"canvas-backend/application/services"
	"canvas-backend/infrastructure/config"
	"canvas-backend/infrastructure/persistence/dynamodb"
	"canvas-backend/interfaces/http/rest/handlers"
	apperrors "canvas-backend/pkg/errors"
	"canvas-backend/pkg/observability"
	"canvas-backend/pkg/ratelimit"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Collector    *observability.Collector
	Emitter      *observability.CloudWatchEmitter
	Tracing      *observability.TracerProvider
	Cache        ports.Cache
	StateStore   ports.StateStore
	Metadata     ports.MetadataRepository
	Locker       ports.CanvasLocker
	Publisher    ports.EventPublisher
	Relay        *dynamodb.OutboxRelay
	Service      *services.CanvasService
	Limiter      ratelimit.Limiter
	ErrorHandler *apperrors.ErrorHandler
	Handler      *handlers.CanvasHandler
	Watcher      *config.Watcher
}

// Shutdown releases everything the container holds. Background loops stop
// before the resources they use are closed.
func (c *Container) Shutdown(ctx context.Context) {
	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	if c.Relay != nil {
		c.Relay.Stop()
	}
	if c.Tracing != nil {
		if err := c.Tracing.Shutdown(ctx); err != nil {
			c.Logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}
	if closer, ok := c.Cache.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.Logger.Warn("Cache close failed", zap.Error(err))
		}
	}
	if closer, ok := c.Limiter.(io.Closer); ok {
		_ = closer.Close()
	}
	_ = c.Logger.Sync()
}
