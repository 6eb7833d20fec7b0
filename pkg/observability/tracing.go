package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"canvas-backend/application/ports"
	"canvas-backend/domain/canvas"
)

// TracerProvider wraps OpenTelemetry tracer provider
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes distributed tracing
func InitTracing(serviceName, environment, endpoint string) (*TracerProvider, error) {
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(), // Use TLS in production
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()), // Adjust sampling in production
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &TracerProvider{
		provider: tp,
		tracer:   tp.Tracer(serviceName),
	}, nil
}

// Tracer returns the tracer for manual span creation
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// StartSpan starts a new span
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, name, opts...)
}

// TraceStateStore wraps a state store with tracing
func TraceStateStore(store ports.StateStore, tracer trace.Tracer) ports.StateStore {
	return &tracedStateStore{
		inner:  store,
		tracer: tracer,
	}
}

type tracedStateStore struct {
	inner  ports.StateStore
	tracer trace.Tracer
}

func (s *tracedStateStore) Get(ctx context.Context, canvasID, version string) (*canvas.State, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.Get",
		trace.WithAttributes(
			attribute.String("canvas.id", canvasID),
			attribute.String("state.version", version),
		),
	)
	defer span.End()

	state, err := s.inner.Get(ctx, canvasID, version)
	if err != nil {
		span.RecordError(err)
	}

	return state, err
}

func (s *tracedStateStore) Put(ctx context.Context, canvasID string, state *canvas.State) (string, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.Put",
		trace.WithAttributes(
			attribute.String("canvas.id", canvasID),
		),
	)
	defer span.End()

	key, err := s.inner.Put(ctx, canvasID, state)
	if err != nil {
		span.RecordError(err)
	}

	return key, err
}
