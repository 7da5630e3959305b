// Package tracing wires OpenTelemetry. Without an OTLP endpoint the global
// no-op provider stays in place and spans cost nothing.
package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gokaycavdar/go-riskguard"

// Init installs a batching OTLP/gRPC tracer provider and returns its
// shutdown function.
func Init(ctx context.Context, endpoint, version string, logger zerolog.Logger) (func(context.Context) error, error) {
	if endpoint == "" {
		logger.Info().Msg("tracing disabled (no otlp endpoint)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("riskguard"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info().Str("endpoint", endpoint).Msg("tracing enabled")
	return tp.Shutdown, nil
}

// StartSpan starts a span under the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// Span attribute helpers.

func UserID(id string) attribute.KeyValue { return attribute.String("riskguard.user_id", id) }

func EventType(t string) attribute.KeyValue { return attribute.String("riskguard.event_type", t) }

func Level(l string) attribute.KeyValue { return attribute.String("riskguard.level", l) }

func Score(s float64) attribute.KeyValue { return attribute.Float64("riskguard.score", s) }
