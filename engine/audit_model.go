package engine

import "time"

// AuditTrace is one top-level traced operation (spec §4.8). Default
// TraceID equals the root workflow id when a workflow is initialised
// without a parent trace context.
type AuditTrace struct {
	TraceID        string
	RootWorkflowID string
	StartedAt      time.Time
	EndedAt        *time.Time
}

// AuditEvent is a point-in-time annotation recorded on a span via
// Span.AddEvent.
type AuditEvent struct {
	Name       string
	Attributes map[string]string
	At         time.Time
}

// AuditSpan is one persisted unit of traced work (spec §4.8). Depth and
// Path mirror the span's position in the operation tree; SequenceNumber is
// assigned per trace at insertion and never reused, even across flushes.
type AuditSpan struct {
	SpanID         string
	ParentSpanID   string
	TraceID        string
	Depth          int
	Path           []string
	Operation      string
	OperationType  string
	Resource       string
	State          string // "active" | "completed" | "failed" | "canceled"
	StartedAt      time.Time
	EndedAt        *time.Time
	DurationMs     int64
	SequenceNumber int64
	Attributes     map[string]string
	Events         []AuditEvent
	Error          string
	CausationID    string
}

// AuditContext is the cross-transactional-step trace handle persisted keyed
// by workflow id (spec §4.8, Cross-boundary). A new step loads it and
// resets Depth to 0 — each step is its own root — while TraceID and
// CorrelationID stay stable across the workflow's whole lifetime.
type AuditContext struct {
	WorkflowID    string
	TraceID       string
	CorrelationID string
	SpanID        string
	Depth         int
	Path          []string
	UpdatedAt     time.Time
}

// AuditSpanLink records a causal edge between two spans — for example, the
// span on a composite task's generation and the span that initialised its
// child workflow — keyed by AuditSpan.CausationID.
type AuditSpanLink struct {
	SpanID    string
	CausedBy  string
	CreatedAt time.Time
}

// AuditWorkflowSnapshot is a materialised {workflow, conditions, tasks,
// workItems} at a target timestamp, produced by replaying persisted spans
// (spec §4.8, Snapshot scheduling).
type AuditWorkflowSnapshot struct {
	WorkflowID string
	At         time.Time
	Snapshot   Snapshot
	CreatedAt  time.Time
}
