package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Provider owns the process tracer and its shutdown hook
type Provider struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// Setup installs an OTLP/HTTP tracer provider when enabled. The exporter
// reads its endpoint from the standard OTEL_EXPORTER_OTLP_* variables.
// When disabled a no-op tracer is returned and nothing is exported.
func Setup(ctx context.Context, enabled bool, serviceName string, logger *zap.Logger) (*Provider, error) {
	if !enabled {
		return &Provider{
			tracer:   noop.NewTracerProvider().Tracer(serviceName),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	logger.Info("Tracing enabled", zap.String("service", serviceName))

	return &Provider{tracer: tp.Tracer(serviceName), shutdown: tp.Shutdown}, nil
}

// Tracer returns the tracer for run and node spans
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes pending spans
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}
