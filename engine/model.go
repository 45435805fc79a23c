package engine

import "time"

// WorkflowState is the lifecycle state of a workflow instance.
type WorkflowState string

const (
	WorkflowInitialized WorkflowState = "initialized"
	WorkflowStarted     WorkflowState = "started"
	WorkflowCompleted   WorkflowState = "completed"
	WorkflowFailed      WorkflowState = "failed"
	WorkflowCanceled    WorkflowState = "canceled"
)

func (s WorkflowState) String() string { return string(s) }

// Terminal reports whether the state admits no further transitions.
func (s WorkflowState) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCanceled
}

// TaskState is the lifecycle state of a task, per spec table T.
type TaskState string

const (
	TaskDisabled  TaskState = "disabled"
	TaskEnabled   TaskState = "enabled"
	TaskStarted   TaskState = "started"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCanceled  TaskState = "canceled"
)

func (s TaskState) String() string { return string(s) }

func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCanceled
}

// validTaskTransitions is table T from spec §4.2.
var validTaskTransitions = map[TaskState][]TaskState{
	TaskDisabled:  {TaskEnabled},
	TaskEnabled:   {TaskStarted, TaskDisabled, TaskCanceled},
	TaskStarted:   {TaskCompleted, TaskFailed, TaskCanceled},
	TaskCompleted: {},
	TaskFailed:    {},
	TaskCanceled:  {},
}

func taskCanTransition(from, to TaskState) bool {
	for _, s := range validTaskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// WorkItemState is the lifecycle state of a work item, per spec table W.
type WorkItemState string

const (
	WorkItemInitialized WorkItemState = "initialized"
	WorkItemStarted     WorkItemState = "started"
	WorkItemCompleted   WorkItemState = "completed"
	WorkItemFailed      WorkItemState = "failed"
	WorkItemCanceled    WorkItemState = "canceled"
)

func (s WorkItemState) String() string { return string(s) }

func (s WorkItemState) Terminal() bool {
	return s == WorkItemCompleted || s == WorkItemFailed || s == WorkItemCanceled
}

// validWorkItemTransitions is table W from spec §4.5.
var validWorkItemTransitions = map[WorkItemState][]WorkItemState{
	WorkItemInitialized: {WorkItemStarted, WorkItemCanceled},
	WorkItemStarted:     {WorkItemCompleted, WorkItemFailed, WorkItemCanceled, WorkItemInitialized},
	WorkItemCompleted:   {},
	WorkItemFailed:      {},
	WorkItemCanceled:    {},
}

func workItemCanTransition(from, to WorkItemState) bool {
	for _, s := range validWorkItemTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JoinType is the incoming-flow combinator for a task.
type JoinType string

const (
	JoinAnd JoinType = "and"
	JoinXor JoinType = "xor"
	JoinOr  JoinType = "or"
)

// SplitType is the outgoing-flow combinator for a task.
type SplitType string

const (
	SplitAnd SplitType = "and"
	SplitXor SplitType = "xor"
	SplitOr  SplitType = "or"
)

// ExecutionMode selects whether a task runs its user-visible lifecycle or
// the silent fast-forward migration path (spec §4.2.5).
type ExecutionMode string

const (
	ModeNormal      ExecutionMode = "normal"
	ModeFastForward ExecutionMode = "fastForward"
)

// CancellationReason records why an entity is being canceled. It labels
// the cancel spans and is passed down from a workflow to its tasks and
// child workflows; no user-defined action is run or skipped because of it.
type CancellationReason string

const (
	CancelExplicit  CancellationReason = "explicit"
	CancelTeardown  CancellationReason = "teardown"
	CancelMigration CancellationReason = "migration"
)

// ParentRef identifies the task generation that owns a child entity
// (a work item, or a child workflow instance referenced by a composite
// task).
type ParentRef struct {
	WorkflowID string
	TaskName   string
	Generation int
}

// Resource names the entity an audit span or stats shard refers to.
type Resource struct {
	Type string // "workflow" | "task" | "condition" | "workItem" | "activity" | "custom"
	ID   string
	Name string
}

// CorrelationContext carries the caller-supplied trace/correlation
// identifiers through Workflow.Initialize so an external "business trace"
// can parent the workflow's own spans (spec §4.8, Cross-boundary).
type CorrelationContext struct {
	TraceID       string
	CorrelationID string
	Initiator     string
}

// Workflow is a running (or terminated) instance of a workflow definition.
type Workflow struct {
	ID            string
	Name          string
	VersionName   string
	Path          []string // ancestry of composite-task names
	RealizedPath  []string // ancestry of workflow-instance ids
	Parent        *ParentRef
	State         WorkflowState
	RootWorkflowID string
	CreatedAt     time.Time
	StartedAt     *time.Time
	EndedAt       *time.Time
}

// Condition is a place in the Petri-net sense: a non-negative token
// counter connected to tasks by flows in both directions.
type Condition struct {
	ID         string
	WorkflowID string
	Name       string
	Marking    int
	IsImplicit bool
	CreatedAt  time.Time
}

// Task is a transition: a state machine with join/split discipline,
// execution mode, and a monotone generation counter.
type Task struct {
	ID            string
	WorkflowID    string
	Name          string
	State         TaskState
	Generation    int
	Join          JoinType
	Split         SplitType
	ExecutionMode ExecutionMode
	CreatedAt     time.Time
}

// TaskStateLogEntry is an append-only history record used to reason about
// prior states across generations (spec §3).
type TaskStateLogEntry struct {
	WorkflowID string
	TaskName   string
	Generation int
	State      TaskState
	At         time.Time
}

// WorkItem is one parallel execution of a leaf task.
type WorkItem struct {
	ID        string
	Name      string
	State     WorkItemState
	Parent    ParentRef
	CreatedAt time.Time
}

// StatsShard is a sharded counter bucket for a (workflow, task, generation)
// triple: totals by work-item state and by child-workflow state.
type StatsShard struct {
	WorkflowID       string
	TaskName         string
	Generation       int
	ShardIndex       int
	WorkItemCounts     map[WorkItemState]int
	ChildWFCounts      map[WorkflowState]int
	AppliedTransitions map[string]bool // idempotency guard keyed by prev>next>entityID
}

// NewStatsShard constructs an empty stats shard for a (workflow, task,
// generation) triple, ready for use by a Store's EnsureStatsShard.
func NewStatsShard(workflowID, taskName string, generation, shardIndex int) *StatsShard {
	return newStatsShard(workflowID, taskName, generation, shardIndex)
}

func newStatsShard(workflowID, taskName string, generation, shardIndex int) *StatsShard {
	return &StatsShard{
		WorkflowID:     workflowID,
		TaskName:       taskName,
		Generation:     generation,
		ShardIndex:     shardIndex,
		WorkItemCounts:     make(map[WorkItemState]int),
		ChildWFCounts:      make(map[WorkflowState]int),
		AppliedTransitions: make(map[string]bool),
	}
}
