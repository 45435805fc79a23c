package emit

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOTelTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tr := NewOTelTracer(tp.Tracer("tasquencer-test"))

	ctx, root := tr.Start(context.Background(), "workflow.initialize", map[string]string{"workflowName": "onboarding"})
	_, child := tr.Start(ctx, "task.enable", nil)
	child.SetStatus("ok", "")
	child.End()
	root.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(spans))
	}
	names := map[string]bool{}
	for _, s := range spans {
		names[s.Name()] = true
	}
	if !names["workflow.initialize"] || !names["task.enable"] {
		t.Fatalf("unexpected span names: %+v", names)
	}
}
