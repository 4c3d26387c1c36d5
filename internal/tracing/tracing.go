// Package tracing installs the OpenTelemetry tracer provider. Finished spans are
// written to the application log.
package tracing

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "scrobblarr"

// LogExporter exports finished spans as debug log entries
type LogExporter struct {
	logger *logrus.Logger
}

// NewLogExporter creates a span exporter writing to logger
func NewLogExporter(logger *logrus.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

// ExportSpans logs each span with its duration and attributes
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := logrus.Fields{
			"span":        span.Name(),
			"trace_id":    span.SpanContext().TraceID().String(),
			"span_id":     span.SpanContext().SpanID().String(),
			"duration_ms": span.EndTime().Sub(span.StartTime()).Milliseconds(),
			"status":      span.Status().Code.String(),
		}
		for _, kv := range span.Attributes() {
			fields["attr."+string(kv.Key)] = kv.Value.Emit()
		}
		entry := e.logger.WithFields(fields)
		if desc := span.Status().Description; desc != "" {
			entry = entry.WithField("error", desc)
		}
		entry.Debug("Span finished")
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter
func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}

// Setup installs the global tracer provider when enabled and returns its shutdown function.
// When disabled the global no-op provider stays in place.
func Setup(enabled bool, logger *logrus.Logger) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	provider := NewProvider(NewLogExporter(logger), res)
	otel.SetTracerProvider(provider)
	logger.Info("Tracing enabled")
	return provider.Shutdown, nil
}

// NewProvider creates a batching tracer provider exporting to exporter
func NewProvider(exporter sdktrace.SpanExporter, res *resource.Resource) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
}
