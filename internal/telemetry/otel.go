package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.uber.org/zap"
)

// ServiceVersion is reported on every span
const ServiceVersion = "1.0.0"

// InitTracer initializes the OpenTelemetry tracer provider
func InitTracer(ctx context.Context, serviceName, endpoint string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Setup initializes tracing when enabled and an endpoint is set. Failures are
// logged and leave tracing off. The returned func flushes and stops the
// provider; it is safe to call when tracing is off.
func Setup(ctx context.Context, enabled bool, serviceName, endpoint string, logger *zap.Logger) (func(context.Context) error, bool) {
	noop := func(context.Context) error { return nil }
	if logger == nil {
		logger = zap.NewNop()
	}
	if !enabled {
		return noop, false
	}
	if endpoint == "" {
		logger.Warn("otel_enabled_but_endpoint_not_configured")
		return noop, false
	}

	tp, err := InitTracer(ctx, serviceName, endpoint)
	if err != nil {
		logger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		return noop, false
	}
	logger.Info("otel_tracer_initialized",
		zap.String("service", serviceName),
		zap.String("endpoint", endpoint),
	)
	return func(ctx context.Context) error { return Shutdown(ctx, tp) }, true
}

// Shutdown gracefully shuts down the tracer provider
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
