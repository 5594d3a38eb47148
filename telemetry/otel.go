// Package telemetry provides an OpenTelemetry-backed implementation of
// the core.Telemetry interface.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/evolvai/evolv/core"
)

// OTelProvider implements core.Telemetry over the OpenTelemetry SDK with
// a stdout trace exporter.
type OTelProvider struct {
	tracer        trace.Tracer
	traceProvider *sdktrace.TracerProvider

	mu      sync.Mutex
	metrics map[string]float64
}

// NewOTelProvider creates a provider exporting spans to w (os.Stdout
// when nil).
func NewOTelProvider(serviceName string, w io.Writer) (*OTelProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(core.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if w != nil {
		opts = append(opts, stdouttrace.WithWriter(w))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &OTelProvider{
		tracer:        tp.Tracer("evolv-telemetry"),
		traceProvider: tp,
		metrics:       make(map[string]float64),
	}, nil
}

// StartSpan starts a new telemetry span.
func (o *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric keeps a last-value gauge per metric name. Labels become
// part of the key.
func (o *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	key := name
	for k, v := range labels {
		key += "," + k + "=" + v
	}
	o.mu.Lock()
	o.metrics[key] = value
	o.mu.Unlock()
}

// Shutdown flushes and stops the trace provider.
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	return o.traceProvider.Shutdown(ctx)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
