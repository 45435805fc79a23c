package engine

import (
	"context"
	"time"
)

// MigrationRecord pairs a predecessor workflow with the workflow it was
// fast-forwarded into, carrying whatever payload the migration needs
// (spec §6, table `migration`).
type MigrationRecord struct {
	FromWorkflowID string
	ToWorkflowID   string
	Payload        Payload
}

// Store is the typed read/write façade the engine demands of the
// persistence layer (spec §2 "Storage façade", §6 "Storage contract").
// It executes inside a single transactional step at a time: the engine
// never assumes two concurrent mutations interleave (spec §5). A real
// deployment's document store is out of scope; this interface is what
// the engine needs from it. Reference implementations ship in the
// sibling `store` package.
type Store interface {
	// Workflows — index by_parent, by_name_and_state.
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflowState(ctx context.Context, id string, state WorkflowState, startedAt, endedAt *time.Time) error
	ListWorkflowsByParent(ctx context.Context, parentWorkflowID, taskName string, generation int) ([]*Workflow, error)
	ListWorkflowsByNameAndState(ctx context.Context, name string, state WorkflowState) ([]*Workflow, error)

	// Conditions — index by_workflow_id_and_name.
	CreateCondition(ctx context.Context, c *Condition) error
	GetConditionByName(ctx context.Context, workflowID, name string) (*Condition, error)
	UpdateConditionMarking(ctx context.Context, id string, marking int) error
	ListConditions(ctx context.Context, workflowID string) ([]*Condition, error)

	// Tasks — index by_workflow_id_name_and_generation, by_workflow_id_and_state.
	CreateTask(ctx context.Context, t *Task) error
	GetTaskByName(ctx context.Context, workflowID, name string) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	ListTasks(ctx context.Context, workflowID string) ([]*Task, error)
	ListTasksByState(ctx context.Context, workflowID string, state TaskState) ([]*Task, error)

	// Task state log — index by_workflow_id_name_and_generation (descending).
	AppendTaskStateLog(ctx context.Context, entry TaskStateLogEntry) error
	LatestTaskStateLog(ctx context.Context, workflowID, taskName string) (*TaskStateLogEntry, error)
	ListTaskStateLog(ctx context.Context, workflowID, taskName string, generation int) ([]TaskStateLogEntry, error)

	// Work items — index by_parent_*_and_state.
	CreateWorkItem(ctx context.Context, wi *WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*WorkItem, error)
	UpdateWorkItemState(ctx context.Context, id string, state WorkItemState) error
	ListWorkItemsByParent(ctx context.Context, parent ParentRef) ([]*WorkItem, error)
	ListWorkItemsByParentAndState(ctx context.Context, parent ParentRef, state WorkItemState) ([]*WorkItem, error)

	// Stats shards — existence guaranteed before first transition (invariant 7).
	EnsureStatsShard(ctx context.Context, workflowID, taskName string, generation int) (*StatsShard, error)
	GetStatsShard(ctx context.Context, workflowID, taskName string, generation int) (*StatsShard, error)
	SaveStatsShard(ctx context.Context, s *StatsShard) error

	// Migration.
	GetMigrationRecord(ctx context.Context, fromWorkflowID string) (*MigrationRecord, error)

	// Audit — tables auditTraces, auditSpans, auditContexts,
	// auditWorkflowSnapshots, auditSpanLinks (spec §6, §4.8).
	CreateAuditTrace(ctx context.Context, t *AuditTrace) error
	GetAuditTrace(ctx context.Context, traceID string) (*AuditTrace, error)
	ListRecentAuditTraces(ctx context.Context, limit int) ([]*AuditTrace, error)

	SaveAuditSpan(ctx context.Context, s *AuditSpan) error
	GetAuditSpan(ctx context.Context, spanID string) (*AuditSpan, error)
	ListAuditSpansByTrace(ctx context.Context, traceID string) ([]*AuditSpan, error)
	ListAuditSpansByResource(ctx context.Context, resource string) ([]*AuditSpan, error)
	ListAuditSpansByTimeRange(ctx context.Context, start, end time.Time) ([]*AuditSpan, error)

	SaveAuditContext(ctx context.Context, c *AuditContext) error
	GetAuditContext(ctx context.Context, workflowID string) (*AuditContext, error)

	CreateAuditSpanLink(ctx context.Context, l *AuditSpanLink) error
	ListAuditSpanLinks(ctx context.Context, spanID string) ([]*AuditSpanLink, error)

	SaveAuditWorkflowSnapshot(ctx context.Context, s *AuditWorkflowSnapshot) error
	GetLatestAuditWorkflowSnapshot(ctx context.Context, workflowID string, at time.Time) (*AuditWorkflowSnapshot, error)
	ListAuditWorkflowSnapshots(ctx context.Context, workflowID string) ([]*AuditWorkflowSnapshot, error)
}

// ErrNotFoundSentinel-style helpers live in errors.go (ErrNotFound).
