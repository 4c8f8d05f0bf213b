package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Tracing exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// InitTracer installs a global tracer provider for exporter and returns its
// shutdown function. With ExporterNone the global no-op provider stays.
func InitTracer(exporter, serviceName string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch exporter {
	case "", ExporterNone:
		return noop, nil
	case ExporterStdout:
	default:
		return noop, fmt.Errorf("unknown tracing exporter %q", exporter)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return noop, fmt.Errorf("tracing resource: %w", err)
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return noop, fmt.Errorf("stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
