package engine

import "context"

// Span is the engine's view of one unit of traced work, modelled after
// go.opentelemetry.io/otel/trace.Span's Start/End/SetAttributes/AddEvent
// surface so a real OTel tracer can back it directly (spec §4.8).
type Span interface {
	End()
	SetStatus(code, description string)
	SetAttributes(attrs map[string]string)
	AddEvent(name string, attrs map[string]string)
}

// Tracer starts spans parented by whatever span (if any) is already
// present in ctx. Reference implementations — OTel-backed, in-memory
// buffered, structured-log, and no-op — ship in the sibling `emit`
// package (spec §4.8).
type Tracer interface {
	Start(ctx context.Context, spanName string, attrs map[string]string) (context.Context, Span)
}

// noopSpan discards everything; it backs noopTracer, which is used
// whenever an Engine has no tracer configured.
type noopSpan struct{}

func (noopSpan) End()                                    {}
func (noopSpan) SetStatus(string, string)                {}
func (noopSpan) SetAttributes(map[string]string)         {}
func (noopSpan) AddEvent(string, map[string]string)      {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string, _ map[string]string) (context.Context, Span) {
	return ctx, noopSpan{}
}

// span is a small convenience wrapper so call sites can write
// `ctx, span := e.span(ctx, "task.complete", attrs); defer span.End()`.
func (e *Engine) span(ctx context.Context, name string, attrs map[string]string) (context.Context, Span) {
	return e.tracer.Start(ctx, name, attrs)
}
