// Package telemetry wires up OpenTelemetry tracing for the decision
// service: spans around policy.Decide (store lookup, policy
// compilation, condition matching) exported with the stdout exporter,
// since no collector endpoint is part of spec §6's configuration
// surface. Prometheus, wired separately in the HTTP transport, remains
// the scraped metrics path; this is tracing only.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Setup installs a global TracerProvider exporting spans via stdout,
// batched rather than emitted synchronously per-span. The returned
// func flushes and shuts the provider down; callers should defer it.
func Setup(ctx context.Context, serviceVersion string) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create stdout exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithAttributes(
			attribute.String("service.name", "zephir"),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
