package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Payload is a validated, opaque action payload. Callers pass raw JSON;
// actions may unmarshal it into whatever shape they expect.
type Payload = json.RawMessage

// Validator parses and validates a Payload against an action's schema,
// per spec §4.6/§9 ("boundary actions validate payloads against a
// schema... schemas are reified at definition time"). A nil Validator
// accepts any payload unchanged.
type Validator func(p Payload) (Payload, error)

func validate(v Validator, p Payload) (Payload, error) {
	if v == nil {
		return p, nil
	}
	return v(p)
}

// WorkflowActions are the user-supplied lifecycle hooks for a workflow
// definition (spec §4.6).
type WorkflowActions struct {
	// InitializeSchema validates the payload passed to Initialize.
	InitializeSchema Validator

	// Initialize runs once, before the workflow row and its conditions/
	// tasks are created, and may reject the payload.
	Initialize func(ctx context.Context, payload Payload) error

	// OnInitialized runs after the workflow and its conditions/tasks have
	// been persisted in the initialized state, before tasks are enabled.
	OnInitialized func(ctx context.Context, wf *Workflow) error

	// OnCompleted runs after the workflow transitions to completed.
	OnCompleted func(ctx context.Context, wf *Workflow) error
}

// TaskActivities are the user-supplied lifecycle hooks for a task
// definition (spec §4.2).
type TaskActivities struct {
	// OnEnabled runs after a task enters enabled; for leaf tasks this
	// commonly initialises one or more work items via TaskHandle; for
	// composite tasks it commonly calls TaskHandle.InitChild.
	OnEnabled func(ctx context.Context, h *TaskHandle) error

	// OnCompleted, OnFailed, OnCanceled run after the matching
	// transition commits.
	OnCompleted func(ctx context.Context, h *TaskHandle) error
	OnFailed    func(ctx context.Context, h *TaskHandle) error
	OnCanceled  func(ctx context.Context, h *TaskHandle) error

	// OnWorkflowStateChanged fires for a composite/dynamic-composite task
	// whenever a child workflow transitions (spec §4.4).
	OnWorkflowStateChanged func(ctx context.Context, h *TaskHandle, child *Workflow, prev, next WorkflowState) error

	// OnFastForward is consulted only when the task's ExecutionMode is
	// fastForward; returning "fastForward" runs the silent migration
	// lifecycle instead of the normal one (spec §4.2.5).
	OnFastForward func(ctx context.Context, h *TaskHandle) (string, error)

	// Migrator runs in place of the normal user-visible hooks during the
	// fast-forward lifecycle.
	Migrator func(ctx context.Context, h *TaskHandle) error
}

// WorkItemActivities are the user-supplied lifecycle hooks for a work
// item. Each hook is handed a WorkItemHandle through which it may enqueue
// at most one chained transition (spec §4.5).
type WorkItemActivities struct {
	InitializedSchema Validator
	StartedSchema     Validator
	CompletedSchema   Validator
	FailedSchema      Validator
	CanceledSchema    Validator
	ResetSchema       Validator

	OnInitialized func(ctx context.Context, h *WorkItemHandle, payload Payload) error
	OnStarted     func(ctx context.Context, h *WorkItemHandle, payload Payload) error
	OnCompleted   func(ctx context.Context, h *WorkItemHandle, payload Payload) error
	OnFailed      func(ctx context.Context, h *WorkItemHandle, payload Payload) error
	OnCanceled    func(ctx context.Context, h *WorkItemHandle, payload Payload) error
	OnReset       func(ctx context.Context, h *WorkItemHandle, payload Payload) error
}

// AutoTriggerEntry is a single chained transition enqueued by a work-item
// activity (spec §4.5).
type AutoTriggerEntry struct {
	WorkItemID string
	Transition WorkItemState
	Payload    Payload
}

// autoTriggerQueue is the per-activity-invocation FIFO described in
// spec §4.5/§5. At most one entry may be enqueued per activity call.
type autoTriggerQueue struct {
	set   bool
	entry AutoTriggerEntry
}

func (q *autoTriggerQueue) enqueue(workItemID string, transition WorkItemState, payload Payload) error {
	if q.set {
		return errAutoTriggerAlreadySet(workItemID)
	}
	q.set = true
	q.entry = AutoTriggerEntry{WorkItemID: workItemID, Transition: transition, Payload: payload}
	return nil
}

// WorkItemHandle is exposed to a work-item activity. Its Start/Complete/
// Fail/Cancel methods do not perform the transition themselves; they
// enqueue a single AutoTriggerEntry that the enclosing driver applies
// after the activity returns, against freshly re-read storage.
type WorkItemHandle struct {
	WorkItem *WorkItem
	queue    *autoTriggerQueue
	eng      *Engine
}

func (h *WorkItemHandle) Start(payload Payload) error {
	return h.queue.enqueue(h.WorkItem.ID, WorkItemStarted, payload)
}

func (h *WorkItemHandle) Complete(payload Payload) error {
	return h.queue.enqueue(h.WorkItem.ID, WorkItemCompleted, payload)
}

func (h *WorkItemHandle) Fail(payload Payload) error {
	return h.queue.enqueue(h.WorkItem.ID, WorkItemFailed, payload)
}

func (h *WorkItemHandle) Cancel(payload Payload) error {
	return h.queue.enqueue(h.WorkItem.ID, WorkItemCanceled, payload)
}

// Reset returns a started work item to initialized, for retry-style
// activities (spec §4.5, table W: started -> initialized).
func (h *WorkItemHandle) Reset(payload Payload) error {
	return h.queue.enqueue(h.WorkItem.ID, WorkItemInitialized, payload)
}

// ScheduleAfter runs fn after d against this work item, canceled outright
// if the work item reaches a terminal state before it fires (spec §4.7).
func (h *WorkItemHandle) ScheduleAfter(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	return h.eng.scheduleFor(ctx, h.WorkItem.ID, d, fn)
}

// TaskHandle is exposed to a task activity. It lets OnEnabled synchronously
// initialise work items or child workflows, scoped to one task generation.
type TaskHandle struct {
	eng        *Engine
	WorkflowID string
	TaskName   string
	Generation int

	// triggered counts InitWorkItem/InitChild/InitNamedChild calls made
	// during the enclosing OnEnabled invocation, so the engine knows
	// whether to auto-advance enabled -> started once the hook returns.
	triggered *int
}

// InitWorkItem creates and immediately persists a new work item owned by
// this task generation, in state initialized.
func (h *TaskHandle) InitWorkItem(ctx context.Context, name string) (*WorkItem, error) {
	wi, err := h.eng.createWorkItem(ctx, h.WorkflowID, h.TaskName, h.Generation, name)
	if err == nil && h.triggered != nil {
		*h.triggered++
	}
	return wi, err
}

// InitChild instantiates the composite task's single child workflow.
func (h *TaskHandle) InitChild(ctx context.Context, payload Payload) (*Workflow, error) {
	wf, err := h.eng.initChildWorkflow(ctx, h.WorkflowID, h.TaskName, h.Generation, "", payload)
	if err == nil && h.triggered != nil {
		*h.triggered++
	}
	return wf, err
}

// InitNamedChild instantiates one of a dynamic composite task's named
// child workflows.
func (h *TaskHandle) InitNamedChild(ctx context.Context, name string, payload Payload) (*Workflow, error) {
	wf, err := h.eng.initChildWorkflow(ctx, h.WorkflowID, h.TaskName, h.Generation, name, payload)
	if err == nil && h.triggered != nil {
		*h.triggered++
	}
	return wf, err
}

// ScheduleAfter runs fn after d against this task generation, recorded in
// the engine's scheduler registry so it is canceled outright if the task
// reaches a terminal state (or is disabled) before it fires (spec §4.7).
func (h *TaskHandle) ScheduleAfter(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	owner := taskStartKey(h.WorkflowID, h.TaskName, h.Generation)
	return h.eng.scheduleFor(ctx, owner, d, fn)
}
