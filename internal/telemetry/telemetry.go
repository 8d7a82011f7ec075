// Package telemetry wires optional OpenTelemetry tracing. Spans go to stdout
// and only when LERIM_TRACING=1; the default is a no-op provider so the hot
// path pays nothing.
package telemetry

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dotcommander/lerim"

// Enabled reports whether span export is switched on for this process.
func Enabled() bool {
	return os.Getenv("LERIM_TRACING") == "1"
}

// Setup installs the global tracer provider and returns its shutdown hook.
// When tracing is disabled the returned shutdown is a no-op.
func Setup(ctx context.Context, version string) (func(context.Context) error, error) {
	if !Enabled() {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("lerim"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Tracer returns the process tracer. A no-op tracer when Setup never ran or
// tracing is off.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
