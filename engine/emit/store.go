package emit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiborkr/tasquencer/engine"
)

// StoreTracer persists every span through an engine.Store, grounded on
// BufferTracer's context-propagation but durable across process restarts:
// spans land in tq_audit_spans as they start and are upserted again on
// End, so a crash mid-span still leaves the "active" row behind (spec
// §4.8, Buffer semantics — "a module-level map... flush persists once per
// step"). Resource defaults to the "workflowId" attribute, falling back to
// "task", then "workItemId", then the span name when absent.
//
// Every call into the engine is its own root span (ctx carries no parent
// info across host-facing calls), but a workflow's trace must still read
// as one continuous story across however many separate steps drive it.
// StoreTracer bridges this by loading the owning workflow's AuditContext
// before starting a root span: if one exists, the new span continues that
// trace (same TraceID, parented under the prior step's root span) instead
// of starting a fresh one, and the context is rewritten to point at this
// step's root span for the next one to pick up.
type StoreTracer struct {
	store engine.Store
	mu    sync.Mutex
	seq   map[string]int64
	clock func() time.Time
}

// NewStoreTracer creates a StoreTracer backed by store.
func NewStoreTracer(store engine.Store) *StoreTracer {
	return &StoreTracer{store: store, seq: make(map[string]int64)}
}

func (t *StoreTracer) now() time.Time {
	if t.clock != nil {
		return t.clock()
	}
	return time.Now().UTC()
}

func resourceFor(attrs map[string]string, spanName string) string {
	if v := attrs["workflowId"]; v != "" {
		return v
	}
	if v := attrs["task"]; v != "" {
		return v
	}
	if v := attrs["workItemId"]; v != "" {
		return v
	}
	return spanName
}

func splitOperation(spanName string) (operationType, operation string) {
	parts := strings.SplitN(spanName, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return spanName, spanName
}

// workflowKey resolves the owning workflow id for attrs, so a root span can
// be looked up against a persisted AuditContext even when the call only
// carries a workItemId (spec §4.8, Cross-boundary persistence — the context
// is keyed by workflow id regardless of which entity the step acts on).
func (t *StoreTracer) workflowKey(ctx context.Context, attrs map[string]string) string {
	if v := attrs["workflowId"]; v != "" {
		return v
	}
	if v := attrs["workItemId"]; v != "" {
		if wi, err := t.store.GetWorkItem(ctx, v); err == nil {
			return wi.Parent.WorkflowID
		}
	}
	return ""
}

func (t *StoreTracer) Start(ctx context.Context, spanName string, attrs map[string]string) (context.Context, engine.Span) {
	parent, hasParent := spanInfoFromContext(ctx)

	traceID := parent.traceID
	depth := 0
	var path []string
	var parentSpanID string
	var wfKey string
	continuing := false
	if hasParent {
		depth = parent.depth + 1
		path = append(append([]string{}, parent.path...), spanName)
		parentSpanID = parent.spanID
	} else {
		path = []string{spanName}
		wfKey = t.workflowKey(ctx, attrs)
		if wfKey != "" {
			if ac, err := t.store.GetAuditContext(ctx, wfKey); err == nil && ac.TraceID != "" {
				// Continue this workflow's trace as a new root span for this
				// step rather than starting a fresh trace per host call.
				traceID = ac.TraceID
				parentSpanID = ac.SpanID
				continuing = true
			}
		}
	}
	if traceID == "" {
		traceID = wfKey
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}

	t.mu.Lock()
	t.seq[traceID]++
	seq := t.seq[traceID]
	t.mu.Unlock()

	now := t.now()
	operationType, operation := splitOperation(spanName)
	span := &storeSpan{
		tracer: t,
		rec: &engine.AuditSpan{
			SpanID:         uuid.NewString(),
			ParentSpanID:   parentSpanID,
			TraceID:        traceID,
			Depth:          depth,
			Path:           path,
			Operation:      operation,
			OperationType:  operationType,
			Resource:       resourceFor(attrs, spanName),
			State:          "active",
			StartedAt:      now,
			SequenceNumber: seq,
			Attributes:     copyAttrs(attrs),
		},
	}

	if !hasParent {
		if !continuing {
			_ = t.store.CreateAuditTrace(ctx, &engine.AuditTrace{TraceID: traceID, RootWorkflowID: span.rec.Resource, StartedAt: now})
		}
		if wfKey != "" {
			_ = t.store.SaveAuditContext(ctx, &engine.AuditContext{
				WorkflowID: wfKey,
				TraceID:    traceID,
				SpanID:     span.rec.SpanID,
				Depth:      0,
				Path:       path,
				UpdatedAt:  now,
			})
		}
	}
	_ = t.store.SaveAuditSpan(ctx, span.rec)

	next := withSpanInfo(ctx, spanInfo{traceID: traceID, spanID: span.rec.SpanID, depth: depth, path: path})
	return next, span
}

type storeSpan struct {
	tracer *StoreTracer
	mu     sync.Mutex
	rec    *engine.AuditSpan
}

// End persists the span with context.Background() rather than whatever ctx
// it started with: the operation the span covers may have just canceled
// that ctx (e.g. on failure), and the audit record must still land.
func (s *storeSpan) End() {
	s.mu.Lock()
	now := s.tracer.now()
	s.rec.EndedAt = &now
	s.rec.DurationMs = now.Sub(s.rec.StartedAt).Milliseconds()
	if s.rec.State == "active" {
		s.rec.State = "completed"
	}
	rec := *s.rec
	s.mu.Unlock()
	_ = s.tracer.store.SaveAuditSpan(context.Background(), &rec)
}

func (s *storeSpan) SetStatus(code, description string) {
	s.mu.Lock()
	switch code {
	case "error":
		s.rec.State = "failed"
		s.rec.Error = description
	case "canceled":
		s.rec.State = "canceled"
	}
	rec := *s.rec
	s.mu.Unlock()
	_ = s.tracer.store.SaveAuditSpan(context.Background(), &rec)
}

func (s *storeSpan) SetAttributes(attrs map[string]string) {
	s.mu.Lock()
	for k, v := range attrs {
		s.rec.Attributes[k] = v
	}
	rec := *s.rec
	s.mu.Unlock()
	_ = s.tracer.store.SaveAuditSpan(context.Background(), &rec)
}

func (s *storeSpan) AddEvent(name string, attrs map[string]string) {
	s.mu.Lock()
	s.rec.Events = append(s.rec.Events, engine.AuditEvent{Name: name, Attributes: copyAttrs(attrs), At: s.tracer.now()})
	rec := *s.rec
	s.mu.Unlock()
	_ = s.tracer.store.SaveAuditSpan(context.Background(), &rec)
}
