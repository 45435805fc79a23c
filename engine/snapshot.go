package engine

import (
	"context"
	"sort"
	"strconv"
	"time"
)

// Snapshot is a point-in-time reconstruction of one workflow instance (spec
// §4.8, Snapshot reconstruction; grounded on the teacher's
// graph/checkpoint.go notion of a recoverable run state, adapted from
// "replay the step log" to "replay the audit trail" since Tasquencer's
// mutable projection is overwritten in place and cannot itself answer "what
// did this look like an hour ago").
type Snapshot struct {
	Workflow   *Workflow
	Conditions []*Condition
	Tasks      []*Task
	WorkItems  []*WorkItem
	Children   []*Workflow
}

const (
	snapshotRetries    = 3
	snapshotRetryDelay = time.Millisecond
)

// BuildSnapshot reconstructs workflowID's state as of at by replaying its
// persisted audit spans rather than reading current store rows, so a caller
// can ask what a workflow looked like at an arbitrary past instant. Identity
// fields (ids, names, ancestry, creation time) come from the live rows,
// since those never change after a row is created; only the mutable
// projection — marking, task state and generation, work item existence and
// state, workflow state — is replayed. The replay is attempted up to
// snapshotRetries times in all, with a fixed delay between attempts, so
// transient audit-store errors are retried.
func (e *Engine) BuildSnapshot(ctx context.Context, workflowID string, at time.Time) (*Snapshot, error) {
	var snap *Snapshot
	var err error
	for attempt := 0; attempt < snapshotRetries; attempt++ {
		snap, err = e.replaySnapshot(ctx, workflowID, at)
		if err == nil {
			return snap, nil
		}
		if attempt < snapshotRetries-1 {
			time.Sleep(snapshotRetryDelay)
		}
	}
	return nil, err
}

func (e *Engine) replaySnapshot(ctx context.Context, workflowID string, at time.Time) (*Snapshot, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	liveConds, err := e.store.ListConditions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	liveTasks, err := e.store.ListTasks(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	conds := make(map[string]*Condition, len(liveConds))
	for _, c := range liveConds {
		cp := *c
		cp.Marking = 0
		conds[c.Name] = &cp
	}
	tasks := make(map[string]*Task, len(liveTasks))
	for _, t := range liveTasks {
		cp := *t
		cp.Generation = 0
		cp.State = TaskDisabled
		tasks[t.Name] = &cp
	}

	snapWF := &Workflow{
		ID:             wf.ID,
		Name:           wf.Name,
		VersionName:    wf.VersionName,
		Path:           wf.Path,
		RealizedPath:   wf.RealizedPath,
		Parent:         wf.Parent,
		RootWorkflowID: wf.RootWorkflowID,
		CreatedAt:      wf.CreatedAt,
		State:          WorkflowInitialized,
	}

	spans, err := e.store.ListAuditSpansByResource(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].SequenceNumber < spans[j].SequenceNumber })

	items := map[string]*WorkItem{}
	for _, sp := range spans {
		if sp.StartedAt.After(at) {
			continue
		}
		switch sp.OperationType {
		case "condition":
			applyConditionSpan(conds, sp)
		case "task":
			applyTaskSpan(tasks, sp)
		case "workflow":
			applyWorkflowSpan(snapWF, sp)
		case "workItem":
			if sp.Operation != "initialize" {
				continue
			}
			id := sp.Attributes["workItemId"]
			if id == "" {
				continue
			}
			wi, err := e.store.GetWorkItem(ctx, id)
			if err != nil {
				continue
			}
			cp := *wi
			cp.State = WorkItemInitialized
			cp.CreatedAt = sp.StartedAt
			items[id] = &cp
		}
	}

	for id, wi := range items {
		wiSpans, err := e.store.ListAuditSpansByResource(ctx, id)
		if err != nil {
			return nil, err
		}
		sort.Slice(wiSpans, func(i, j int) bool { return wiSpans[i].SequenceNumber < wiSpans[j].SequenceNumber })
		for _, sp := range wiSpans {
			if sp.OperationType != "workItem" || sp.StartedAt.After(at) {
				continue
			}
			switch sp.Operation {
			case "start":
				wi.State = WorkItemStarted
			case "complete":
				wi.State = WorkItemCompleted
			case "fail":
				wi.State = WorkItemFailed
			case "cancel":
				wi.State = WorkItemCanceled
			case "reset":
				wi.State = WorkItemInitialized
			}
		}
	}

	var children []*Workflow
	for _, t := range tasks {
		kids, err := e.store.ListWorkflowsByParent(ctx, workflowID, t.Name, t.Generation)
		if err != nil {
			return nil, err
		}
		for _, k := range kids {
			if !k.CreatedAt.After(at) {
				children = append(children, k)
			}
		}
	}

	condList := make([]*Condition, 0, len(conds))
	for _, c := range conds {
		condList = append(condList, c)
	}
	sort.Slice(condList, func(i, j int) bool { return condList[i].Name < condList[j].Name })

	taskList := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		taskList = append(taskList, t)
	}
	sort.Slice(taskList, func(i, j int) bool { return taskList[i].Name < taskList[j].Name })

	itemList := make([]*WorkItem, 0, len(items))
	for _, wi := range items {
		itemList = append(itemList, wi)
	}
	sort.Slice(itemList, func(i, j int) bool { return itemList[i].ID < itemList[j].ID })

	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })

	return &Snapshot{Workflow: snapWF, Conditions: condList, Tasks: taskList, WorkItems: itemList, Children: children}, nil
}

func applyConditionSpan(conds map[string]*Condition, sp *AuditSpan) {
	name := sp.Attributes["condition"]
	c, ok := conds[name]
	if !ok {
		return
	}
	if m, err := strconv.Atoi(sp.Attributes["marking"]); err == nil {
		c.Marking = m
	}
}

func applyTaskSpan(tasks map[string]*Task, sp *AuditSpan) {
	name := sp.Attributes["task"]
	t, ok := tasks[name]
	if !ok {
		return
	}
	switch sp.Operation {
	case "enable":
		t.State = TaskEnabled
	case "start":
		t.State = TaskStarted
	case "complete":
		t.State = TaskCompleted
	case "fail":
		t.State = TaskFailed
	case "cancel":
		t.State = TaskCanceled
	case "disable":
		t.State = TaskDisabled
	case "reenable":
		t.State = TaskDisabled
		t.Generation++
	}
}

func applyWorkflowSpan(wf *Workflow, sp *AuditSpan) {
	switch sp.Operation {
	case "initialize", "initializeChild":
		wf.State = WorkflowStarted
		started := sp.StartedAt
		wf.StartedAt = &started
	case "complete":
		wf.State = WorkflowCompleted
	case "fail":
		wf.State = WorkflowFailed
	case "cancel":
		wf.State = WorkflowCanceled
	}
	if wf.State.Terminal() && sp.EndedAt != nil {
		wf.EndedAt = sp.EndedAt
	}
}

// scheduleSnapshot builds and persists a snapshot of workflowID as of now,
// shortly after it reaches a terminal state, so later history queries don't
// have to replay the whole audit trail from scratch (spec §4.8, Snapshot
// scheduling). Run through the scheduler registry like any other deferred
// invocation, though a terminal workflow has nothing left to cancel it with.
func (e *Engine) scheduleSnapshot(ctx context.Context, workflowID string) {
	owner := "snapshot:" + workflowID
	_ = e.scheduleFor(ctx, owner, 0, func(bgCtx context.Context) error {
		at := e.now()
		snap, err := e.BuildSnapshot(bgCtx, workflowID, at)
		if err != nil {
			return err
		}
		return e.store.SaveAuditWorkflowSnapshot(bgCtx, &AuditWorkflowSnapshot{
			WorkflowID: workflowID,
			At:         at,
			Snapshot:   *snap,
			CreatedAt:  at,
		})
	})
}

// FastForward runs def's migration lifecycle on a root workflow instance
// in place of its normal task activities: every currently enabled or
// started task's Migrator hook runs instead of OnEnabled/OnCompleted, and
// the task is driven to completed (through started, if it was only enabled)
// without producing the tokens a normal firing would (spec §4.2.5). Fast-forward is only meaningful on a
// root workflow; composite sub-workflows migrate as part of their parent's
// own fast-forward pass via OnFastForward.
func (e *Engine) FastForward(ctx context.Context, workflowID string) error {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Parent != nil {
		return ErrMigration(CodeFastForwardNotRoot, "fast-forward must be invoked on a root workflow")
	}
	def, err := e.lookupDef(wf.Name)
	if err != nil {
		return err
	}

	tasks, err := e.store.ListTasks(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		tdef, ok := def.Tasks[t.Name]
		if !ok || t.State.Terminal() || t.State == TaskDisabled {
			continue
		}
		t.ExecutionMode = ModeFastForward
		if err := e.store.UpdateTask(ctx, t); err != nil {
			return err
		}
		h := &TaskHandle{eng: e, WorkflowID: wf.ID, TaskName: t.Name, Generation: t.Generation}
		if tdef.Activities.Migrator != nil {
			if err := tdef.Activities.Migrator(ctx, h); err != nil {
				return err
			}
		}
		if err := e.cancelWorkItemsAndChildren(ctx, wf.ID, t.Name, t.Generation, CancelMigration); err != nil {
			return err
		}
		if t.State == TaskEnabled {
			if err := e.setTaskState(ctx, wf, t, TaskStarted); err != nil {
				return err
			}
		}
		if err := e.setTaskState(ctx, wf, t, TaskCompleted); err != nil {
			return err
		}
	}
	if !wf.State.Terminal() {
		return e.setWorkflowState(ctx, wf, WorkflowCompleted)
	}
	return nil
}
