package engine

import (
	"context"

	"github.com/google/uuid"
)

// createWorkItem persists a new work item in state initialized, runs its
// OnInitialized hook, and drains any chained transition the hook enqueues
// (spec §4.5, Initialize).
func (e *Engine) createWorkItem(ctx context.Context, workflowID, taskName string, generation int, name string) (*WorkItem, error) {
	ctx, span := e.span(ctx, "workItem.initialize", map[string]string{"workflowId": workflowID, "task": taskName})
	defer span.End()

	wi := &WorkItem{
		ID:    uuid.NewString(),
		Name:  name,
		State: WorkItemInitialized,
		Parent: ParentRef{
			WorkflowID: workflowID,
			TaskName:   taskName,
			Generation: generation,
		},
		CreatedAt: e.now(),
	}
	span.SetAttributes(map[string]string{"workItemId": wi.ID})
	if err := e.store.CreateWorkItem(ctx, wi); err != nil {
		return nil, err
	}
	if _, err := e.store.EnsureStatsShard(ctx, workflowID, taskName, generation); err != nil {
		return nil, err
	}
	if err := e.applyStatsTransition(ctx, wi.Parent, "", WorkItemInitialized, wi.ID); err != nil {
		return nil, err
	}

	tdef, def, wf, err := e.resolveTaskContext(ctx, workflowID, taskName)
	if err != nil {
		return nil, err
	}

	if err := e.runWorkItemHook(ctx, wf, def, tdef, wi, tdef.WorkItemActivities.InitializedSchema, tdef.WorkItemActivities.OnInitialized, nil); err != nil {
		return nil, err
	}
	return wi, nil
}

// transitionWorkItem validates and applies one work-item state change,
// runs the matching lifecycle hook, drains at most one chained transition
// the hook enqueues, and re-evaluates the owning leaf task's policy.
func (e *Engine) transitionWorkItem(ctx context.Context, workItemID string, next WorkItemState, payload Payload) error {
	wi, err := e.store.GetWorkItem(ctx, workItemID)
	if err != nil {
		return err
	}
	tdef, def, wf, err := e.resolveTaskContext(ctx, wi.Parent.WorkflowID, wi.Parent.TaskName)
	if err != nil {
		return err
	}
	return e.applyWorkItemTransition(ctx, wf, def, tdef, wi, next, payload)
}

func (e *Engine) applyWorkItemTransition(ctx context.Context, wf *Workflow, def *WorkflowDef, tdef *TaskDef, wi *WorkItem, next WorkItemState, payload Payload) error {
	if !workItemCanTransition(wi.State, next) {
		return ErrInvalidStateTransition("workItem", wi.ID, wi.State, next)
	}
	prev := wi.State
	wi.State = next
	if err := e.store.UpdateWorkItemState(ctx, wi.ID, next); err != nil {
		wi.State = prev
		return err
	}
	if err := e.applyStatsTransition(ctx, wi.Parent, prev, next, wi.ID); err != nil {
		return err
	}
	e.metrics.WorkItemStateChanged(wf.Name, tdef.Name, prev, next)

	if next.Terminal() {
		e.cancelScheduledFor(wi.ID)
	}

	if next == WorkItemStarted {
		t, err := e.resolveTask(ctx, wf, tdef)
		if err != nil {
			return err
		}
		if t.Generation == wi.Parent.Generation {
			if err := e.ensureTaskStarted(ctx, wf, def, tdef, t); err != nil {
				return err
			}
		}
	}

	var schema Validator
	var hook func(context.Context, *WorkItemHandle, Payload) error
	switch next {
	case WorkItemInitialized:
		schema, hook = tdef.WorkItemActivities.ResetSchema, tdef.WorkItemActivities.OnReset
	case WorkItemStarted:
		schema, hook = tdef.WorkItemActivities.StartedSchema, tdef.WorkItemActivities.OnStarted
	case WorkItemCompleted:
		schema, hook = tdef.WorkItemActivities.CompletedSchema, tdef.WorkItemActivities.OnCompleted
	case WorkItemFailed:
		schema, hook = tdef.WorkItemActivities.FailedSchema, tdef.WorkItemActivities.OnFailed
	case WorkItemCanceled:
		schema, hook = tdef.WorkItemActivities.CanceledSchema, tdef.WorkItemActivities.OnCanceled
	}
	if err := e.runWorkItemHook(ctx, wf, def, tdef, wi, schema, hook, payload); err != nil {
		return err
	}

	return e.evaluateLeafPolicy(ctx, wf, def, tdef, wi.Parent.Generation)
}

// runWorkItemHook validates payload, invokes hook with a fresh
// autoTriggerQueue, and drains the single chained transition the hook may
// have enqueued against freshly re-read storage (spec §4.5, Auto-trigger).
func (e *Engine) runWorkItemHook(ctx context.Context, wf *Workflow, def *WorkflowDef, tdef *TaskDef, wi *WorkItem, schema Validator, hook func(context.Context, *WorkItemHandle, Payload) error, payload Payload) error {
	if hook == nil {
		return nil
	}
	validated, err := validate(schema, payload)
	if err != nil {
		return ErrValidation("work item "+wi.ID+" payload rejected", err)
	}
	q := &autoTriggerQueue{}
	h := &WorkItemHandle{WorkItem: wi, queue: q, eng: e}
	if err := hook(ctx, h, validated); err != nil {
		return err
	}
	if !q.set {
		return nil
	}
	fresh, err := e.store.GetWorkItem(ctx, q.entry.WorkItemID)
	if err != nil {
		return err
	}
	return e.applyWorkItemTransition(ctx, wf, def, tdef, fresh, q.entry.Transition, q.entry.Payload)
}

// cancelWorkItemsAndChildren force-cancels every non-terminal work item
// and child workflow owned by one task generation, used during
// cancellation-region sweeps and explicit task cancellation.
func (e *Engine) cancelWorkItemsAndChildren(ctx context.Context, workflowID, taskName string, generation int, reason CancellationReason) error {
	parent := ParentRef{WorkflowID: workflowID, TaskName: taskName, Generation: generation}
	items, err := e.store.ListWorkItemsByParent(ctx, parent)
	if err != nil {
		return err
	}
	tdef, def, wf, err := e.resolveTaskContext(ctx, workflowID, taskName)
	if err != nil {
		return err
	}
	for _, wi := range items {
		if wi.State.Terminal() {
			continue
		}
		if err := e.applyWorkItemTransition(ctx, wf, def, tdef, wi, WorkItemCanceled, nil); err != nil {
			return err
		}
	}

	children, err := e.store.ListWorkflowsByParent(ctx, workflowID, taskName, generation)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.State.Terminal() {
			continue
		}
		if err := e.cancelWorkflow(ctx, child, reason); err != nil {
			return err
		}
	}
	return nil
}

// evaluateLeafPolicy checks a leaf task's policy against its current work
// items and completes or fails the task when the policy says to (spec
// §4.3).
func (e *Engine) evaluateLeafPolicy(ctx context.Context, wf *Workflow, def *WorkflowDef, tdef *TaskDef, generation int) error {
	if tdef.Kind != KindLeaf {
		return nil
	}
	t, err := e.store.GetTaskByName(ctx, wf.ID, tdef.Name)
	if err != nil {
		return err
	}
	if t.State != TaskStarted || t.Generation != generation {
		return nil
	}

	items, err := e.store.ListWorkItemsByParent(ctx, ParentRef{WorkflowID: wf.ID, TaskName: tdef.Name, Generation: generation})
	if err != nil {
		return err
	}
	summary := WorkItemSummary{Total: len(items), ByState: map[WorkItemState]int{}}
	for _, wi := range items {
		summary.ByState[wi.State]++
	}

	policy := tdef.Policy
	if policy == nil {
		policy = DefaultPolicy
	}
	switch policy.Evaluate(ctx, summary) {
	case PolicyComplete:
		return e.completeTask(ctx, wf, def, tdef)
	case PolicyFail:
		return e.failTask(ctx, wf, def, tdef)
	default:
		return nil
	}
}

// applyStatsTransition updates the (workflow, task, generation) stats
// shard for one work-item transition, guarding against double-application
// of the same transition for the same entity (spec §3, invariant 7).
func (e *Engine) applyStatsTransition(ctx context.Context, parent ParentRef, prev, next WorkItemState, entityID string) error {
	shard, err := e.store.EnsureStatsShard(ctx, parent.WorkflowID, parent.TaskName, parent.Generation)
	if err != nil {
		return err
	}
	key := string(prev) + ">" + string(next) + ">" + entityID
	if shard.AppliedTransitions[key] {
		return nil
	}
	shard.AppliedTransitions[key] = true
	if prev != "" {
		shard.WorkItemCounts[prev]--
	}
	shard.WorkItemCounts[next]++
	return e.store.SaveStatsShard(ctx, shard)
}

// resolveTaskContext looks up a task's static definition alongside its
// workflow instance and workflow definition.
func (e *Engine) resolveTaskContext(ctx context.Context, workflowID, taskName string) (*TaskDef, *WorkflowDef, *Workflow, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, nil, err
	}
	def, err := e.lookupDef(wf.Name)
	if err != nil {
		return nil, nil, nil, err
	}
	tdef, ok := def.Tasks[taskName]
	if !ok {
		return nil, nil, nil, ErrStructural("task " + taskName + " not declared in workflow " + wf.Name)
	}
	return tdef, def, wf, nil
}
