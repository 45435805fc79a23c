package emit

import (
	"context"
	"testing"
)

func TestBufferTracerRecordsNestedSpans(t *testing.T) {
	tr := NewBufferTracer()
	ctx := context.Background()

	ctx, root := tr.Start(ctx, "workflow.initialize", map[string]string{"workflowName": "onboarding"})
	_, child := tr.Start(ctx, "task.enable", map[string]string{"taskName": "collectDocs"})
	child.End()
	root.End()

	var traceID string
	for id := range tr.byTrace {
		traceID = id
	}
	if traceID == "" {
		t.Fatalf("expected a trace to be recorded")
	}

	history := tr.GetHistory(traceID)
	if len(history) != 2 {
		t.Fatalf("GetHistory: got %d records, want 2", len(history))
	}
	if history[0].Depth != 0 || history[1].Depth != 1 {
		t.Fatalf("unexpected depths: %d, %d", history[0].Depth, history[1].Depth)
	}
	if history[1].ParentSpanID != history[0].SpanID {
		t.Fatalf("child span should parent to root span")
	}
	if history[0].SequenceNumber >= history[1].SequenceNumber {
		t.Fatalf("sequence numbers should be monotone: %d, %d", history[0].SequenceNumber, history[1].SequenceNumber)
	}
}

func TestBufferTracerClearPreservesSequence(t *testing.T) {
	tr := NewBufferTracer()
	ctx := context.Background()

	_, span := tr.Start(ctx, "a", nil)
	span.End()

	var traceID string
	for id := range tr.byTrace {
		traceID = id
	}
	seqBefore := tr.seq[traceID]
	tr.Clear(traceID)
	if len(tr.GetHistory(traceID)) != 0 {
		t.Fatalf("expected history to be cleared")
	}
	if tr.seq[traceID] != seqBefore {
		t.Fatalf("Clear must preserve the sequence counter: got %d, want %d", tr.seq[traceID], seqBefore)
	}

	ctx = withSpanInfo(context.Background(), spanInfo{traceID: traceID})
	_, span2 := tr.Start(ctx, "b", nil)
	span2.End()
	history := tr.GetHistory(traceID)
	if len(history) != 1 || history[0].SequenceNumber <= seqBefore {
		t.Fatalf("sequence numbering must continue past the cleared value")
	}
}

func TestBufferTracerGetHistoryWithFilter(t *testing.T) {
	tr := NewBufferTracer()
	ctx := context.Background()
	ctx, root := tr.Start(ctx, "root", nil)
	_, a := tr.Start(ctx, "a", nil)
	a.End()
	_, b := tr.Start(ctx, "b", nil)
	b.End()
	root.End()

	var traceID string
	for id := range tr.byTrace {
		traceID = id
	}
	filtered := tr.GetHistoryWithFilter(traceID, Filter{Name: "a"})
	if len(filtered) != 1 || filtered[0].Name != "a" {
		t.Fatalf("expected exactly one record named a, got %+v", filtered)
	}
}
