// Package emit provides audit-tracer backends for the Tasquencer engine.
package emit

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tiborkr/tasquencer/engine"
)

// OTelTracer adapts a real go.opentelemetry.io/otel/trace.Tracer into
// engine.Tracer. Spans nest naturally through ctx the same way any other
// OTel instrumentation does: a child Start call picks up the parent span
// already present in ctx.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer wraps tracer (e.g. otel.Tracer("tasquencer")) as an
// engine.Tracer.
func NewOTelTracer(tracer trace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

func (o *OTelTracer) Start(ctx context.Context, spanName string, attrs map[string]string) (context.Context, engine.Span) {
	ctx, span := o.tracer.Start(ctx, spanName)
	if len(attrs) > 0 {
		span.SetAttributes(toAttributes(attrs)...)
	}
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetStatus(code, description string) {
	switch code {
	case "error":
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Ok, description)
	}
}

func (s *otelSpan) SetAttributes(attrs map[string]string) {
	s.span.SetAttributes(toAttributes(attrs)...)
}

func (s *otelSpan) AddEvent(name string, attrs map[string]string) {
	s.span.AddEvent(name, trace.WithAttributes(toAttributes(attrs)...))
}

func toAttributes(attrs map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, attribute.String(k, v))
	}
	return out
}
