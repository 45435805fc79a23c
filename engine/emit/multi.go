package emit

import (
	"context"

	"github.com/tiborkr/tasquencer/engine"
)

// MultiTracer fans one Start call out to every wrapped Tracer, so a single
// Engine can both print spans for a human operator and persist them for
// later replay (e.g. LogTracer for stdout plus StoreTracer for
// BuildSnapshot, spec §4.8). The first tracer's context (and therefore its
// span/trace ids) wins; the others still see the same parent-span info
// already present in ctx, so their own ids are independent but their trace
// nesting lines up.
type MultiTracer struct {
	tracers []engine.Tracer
}

// NewMultiTracer wraps tracers, skipping any nil entries.
func NewMultiTracer(tracers ...engine.Tracer) *MultiTracer {
	filtered := make([]engine.Tracer, 0, len(tracers))
	for _, t := range tracers {
		if t != nil {
			filtered = append(filtered, t)
		}
	}
	return &MultiTracer{tracers: filtered}
}

func (m *MultiTracer) Start(ctx context.Context, spanName string, attrs map[string]string) (context.Context, engine.Span) {
	if len(m.tracers) == 0 {
		return ctx, noopSpan{}
	}
	spans := make([]engine.Span, len(m.tracers))
	next := ctx
	for i, t := range m.tracers {
		c, span := t.Start(ctx, spanName, attrs)
		spans[i] = span
		if i == 0 {
			next = c
		}
	}
	return next, &multiSpan{spans: spans}
}

type multiSpan struct {
	spans []engine.Span
}

func (s *multiSpan) End() {
	for _, span := range s.spans {
		span.End()
	}
}

func (s *multiSpan) SetStatus(code, description string) {
	for _, span := range s.spans {
		span.SetStatus(code, description)
	}
}

func (s *multiSpan) SetAttributes(attrs map[string]string) {
	for _, span := range s.spans {
		span.SetAttributes(attrs)
	}
}

func (s *multiSpan) AddEvent(name string, attrs map[string]string) {
	for _, span := range s.spans {
		span.AddEvent(name, attrs)
	}
}
