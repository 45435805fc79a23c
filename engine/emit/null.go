package emit

import (
	"context"

	"github.com/tiborkr/tasquencer/engine"
)

// NoopTracer discards every span. It is an exported counterpart of the
// engine's own unexported default tracer, useful where a caller wants to
// pass an explicit no-op, e.g. benchmarks where tracing overhead should be
// zero.
type NoopTracer struct{}

// NewNoopTracer creates a NoopTracer.
func NewNoopTracer() *NoopTracer { return &NoopTracer{} }

func (NoopTracer) Start(ctx context.Context, _ string, _ map[string]string) (context.Context, engine.Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End()                               {}
func (noopSpan) SetStatus(string, string)            {}
func (noopSpan) SetAttributes(map[string]string)     {}
func (noopSpan) AddEvent(string, map[string]string)  {}
