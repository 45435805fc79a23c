package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/tiborkr/tasquencer/engine"
)

// LogTracer writes one line per span start/end to a writer, either as
// human-readable text or JSON lines, grounded on the teacher's
// LogEmitter. Unlike BufferTracer it keeps no history in memory: each
// line is written and forgotten.
type LogTracer struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogTracer creates a LogTracer. A nil writer defaults to os.Stdout.
func NewLogTracer(writer io.Writer, jsonMode bool) *LogTracer {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogTracer{writer: writer, jsonMode: jsonMode}
}

func (l *LogTracer) Start(ctx context.Context, spanName string, attrs map[string]string) (context.Context, engine.Span) {
	parent, hasParent := spanInfoFromContext(ctx)
	traceID := parent.traceID
	if !hasParent || traceID == "" {
		traceID = uuid.NewString()
	}
	depth := 0
	var path []string
	if hasParent {
		depth = parent.depth + 1
		path = append(append([]string{}, parent.path...), spanName)
	} else {
		path = []string{spanName}
	}
	spanID := uuid.NewString()

	l.write(spanEvent{Phase: "start", TraceID: traceID, SpanID: spanID, Name: spanName, Depth: depth, Path: path, Attrs: attrs})

	next := withSpanInfo(ctx, spanInfo{traceID: traceID, spanID: spanID, depth: depth, path: path})
	return next, &logSpan{tracer: l, traceID: traceID, spanID: spanID, name: spanName, depth: depth, path: path}
}

type spanEvent struct {
	Phase       string            `json:"phase"`
	TraceID     string            `json:"traceId"`
	SpanID      string            `json:"spanId"`
	Name        string            `json:"name"`
	Depth       int               `json:"depth"`
	Path        []string          `json:"path"`
	Attrs       map[string]string `json:"attrs,omitempty"`
	Status      string            `json:"status,omitempty"`
	StatusDetail string           `json:"statusDetail,omitempty"`
}

func (l *LogTracer) write(e spanEvent) {
	if l.jsonMode {
		data, err := json.Marshal(e)
		if err != nil {
			_, _ = fmt.Fprintf(l.writer, "{\"error\":%q}\n", err.Error())
			return
		}
		_, _ = fmt.Fprintf(l.writer, "%s\n", data)
		return
	}

	_, _ = fmt.Fprintf(l.writer, "[%s] %s traceId=%s spanId=%s depth=%d path=%s",
		e.Phase, e.Name, e.TraceID, e.SpanID, e.Depth, strings.Join(e.Path, ">"))
	if e.Status != "" {
		_, _ = fmt.Fprintf(l.writer, " status=%s", e.Status)
	}
	if len(e.Attrs) > 0 {
		if data, err := json.Marshal(e.Attrs); err == nil {
			_, _ = fmt.Fprintf(l.writer, " attrs=%s", data)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

type logSpan struct {
	tracer  *LogTracer
	traceID string
	spanID  string
	name    string
	depth   int
	path    []string
	status  string
	detail  string
}

func (s *logSpan) End() {
	s.tracer.write(spanEvent{Phase: "end", TraceID: s.traceID, SpanID: s.spanID, Name: s.name, Depth: s.depth, Path: s.path, Status: s.status, StatusDetail: s.detail})
}

func (s *logSpan) SetStatus(code, description string) {
	s.status = code
	s.detail = description
}

func (s *logSpan) SetAttributes(attrs map[string]string) {
	s.tracer.write(spanEvent{Phase: "attrs", TraceID: s.traceID, SpanID: s.spanID, Name: s.name, Depth: s.depth, Path: s.path, Attrs: attrs})
}

func (s *logSpan) AddEvent(name string, attrs map[string]string) {
	s.tracer.write(spanEvent{Phase: "event:" + name, TraceID: s.traceID, SpanID: s.spanID, Name: s.name, Depth: s.depth, Path: s.path, Attrs: attrs})
}
