package emit

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLogTracerTextMode(t *testing.T) {
	var buf bytes.Buffer
	tr := NewLogTracer(&buf, false)

	_, span := tr.Start(context.Background(), "workflow.initialize", map[string]string{"workflowName": "onboarding"})
	span.SetStatus("ok", "")
	span.End()

	out := buf.String()
	if !strings.Contains(out, "[start] workflow.initialize") {
		t.Fatalf("expected a start line, got %q", out)
	}
	if !strings.Contains(out, "[end] workflow.initialize") {
		t.Fatalf("expected an end line, got %q", out)
	}
}

func TestLogTracerJSONMode(t *testing.T) {
	var buf bytes.Buffer
	tr := NewLogTracer(&buf, true)

	_, span := tr.Start(context.Background(), "task.enable", nil)
	span.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines (start, end), got %d: %q", len(lines), buf.String())
	}
	for _, l := range lines {
		if !strings.Contains(l, `"name":"task.enable"`) {
			t.Fatalf("expected span name in JSON line: %q", l)
		}
	}
}

func TestLogTracerDefaultsToStdoutOnNilWriter(t *testing.T) {
	tr := NewLogTracer(nil, false)
	if tr.writer == nil {
		t.Fatalf("expected a default writer")
	}
}
