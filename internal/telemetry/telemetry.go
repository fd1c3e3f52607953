// Package telemetry wires OpenTelemetry tracing and Prometheus metrics
// for the engine, adapted from this corpus's otel-SDK Init() pattern
// (trimmed to traces + metrics; the engine keeps log/slog as its
// logger rather than also routing logs through an OTLP exporter).
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/relaycrew/chatrelay"

// Instruments holds everything a caller needs to emit traces for job
// and send-level spans.
type Instruments struct {
	Tracer trace.Tracer
}

// Shutdown flushes and closes every exporter Init set up.
type Shutdown func(context.Context) error

// Init builds a TracerProvider exporting spans via OTLP/HTTP and
// registers it as the global provider. Tracing is enabled whenever
// OTEL_EXPORTER_OTLP_ENDPOINT (or the otlptracehttp default) resolves;
// callers that don't want tracing simply never call Init and use
// otel.Tracer(scopeName)'s no-op default instead.
func Init(ctx context.Context, serviceName string) (*Instruments, Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
		resource.WithFromEnv(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: new trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	inst := &Instruments{Tracer: tp.Tracer(scopeName)}
	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx))
	}
	return inst, shutdown, nil
}
