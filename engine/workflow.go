package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// validWorkflowTransitions mirrors table T's shape for the workflow
// lifecycle (spec §3): initialized admits started or an early cancel;
// started admits any terminal state.
var validWorkflowTransitions = map[WorkflowState][]WorkflowState{
	WorkflowInitialized: {WorkflowStarted, WorkflowCanceled},
	WorkflowStarted:     {WorkflowCompleted, WorkflowFailed, WorkflowCanceled},
	WorkflowCompleted:   {},
	WorkflowFailed:      {},
	WorkflowCanceled:    {},
}

func workflowCanTransition(from, to WorkflowState) bool {
	for _, s := range validWorkflowTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (e *Engine) setWorkflowState(ctx context.Context, wf *Workflow, next WorkflowState) error {
	if !workflowCanTransition(wf.State, next) {
		return ErrInvalidStateTransition("workflow", wf.ID, wf.State, next)
	}
	prev := wf.State
	now := e.now()
	var startedAt, endedAt *time.Time
	if next == WorkflowStarted {
		startedAt = &now
		wf.StartedAt = &now
	}
	if next.Terminal() {
		endedAt = &now
		wf.EndedAt = &now
	}
	wf.State = next
	if err := e.store.UpdateWorkflowState(ctx, wf.ID, next, startedAt, endedAt); err != nil {
		wf.State = prev
		return err
	}
	e.metrics.WorkflowStateChanged(wf.Name, prev, next)
	return nil
}

// InitializeRootWorkflow creates a new root workflow instance from a
// registered definition (spec §4.6, Initialize). The instance id is
// generated up front so the root span carries "workflowId" from the
// moment it starts, not only after the instance is persisted — that
// attribute is what lets StoreTracer key this call's AuditContext by the
// workflow it is creating (spec §4.8, Cross-boundary persistence).
func (e *Engine) InitializeRootWorkflow(ctx context.Context, name string, payload Payload, corr *CorrelationContext) (*Workflow, error) {
	id := uuid.NewString()
	attrs := map[string]string{"workflowName": name, "workflowId": id}
	if corr != nil {
		attrs["correlationId"] = corr.CorrelationID
	}
	ctx, span := e.span(ctx, "workflow.initialize", attrs)
	defer span.End()

	def, err := e.lookupDef(name)
	if err != nil {
		span.SetStatus("error", err.Error())
		return nil, err
	}
	wf, err := e.createWorkflowInstance(ctx, def, nil, nil, payload, corr, id)
	if err != nil {
		span.SetStatus("error", err.Error())
		return wf, err
	}
	return wf, err
}

// initChildWorkflow instantiates the (possibly named) child workflow owned
// by a composite or dynamic-composite task generation (spec §4.4).
func (e *Engine) initChildWorkflow(ctx context.Context, parentWorkflowID, parentTaskName string, generation int, childName string, payload Payload) (*Workflow, error) {
	id := uuid.NewString()
	ctx, span := e.span(ctx, "workflow.initializeChild", map[string]string{"parentWorkflowId": parentWorkflowID, "parentTask": parentTaskName, "child": childName, "workflowId": id})
	defer span.End()

	_, parentDef, parentWF, err := e.resolveTaskContext(ctx, parentWorkflowID, parentTaskName)
	if err != nil {
		return nil, err
	}
	tdef := parentDef.Tasks[parentTaskName]

	var childDef *WorkflowDef
	switch tdef.Kind {
	case KindComposite:
		if childName != "" {
			return nil, ErrStructural("task " + parentTaskName + " is not a dynamic composite task")
		}
		childDef = tdef.Child
	case KindDynamicComposite:
		d, ok := tdef.Children[childName]
		if !ok {
			return nil, ErrStructural("task " + parentTaskName + " has no child workflow named " + childName)
		}
		childDef = d
	default:
		return nil, ErrStructural("task " + parentTaskName + " does not instantiate child workflows")
	}
	if childDef == nil {
		return nil, ErrStructural("task " + parentTaskName + ": no child workflow definition configured")
	}

	parentRef := &ParentRef{WorkflowID: parentWorkflowID, TaskName: parentTaskName, Generation: generation}
	child, err := e.createWorkflowInstance(ctx, childDef, parentRef, parentWF, payload, nil, id)
	if err != nil {
		return nil, err
	}

	parentTask, err := e.resolveTask(ctx, parentWF, tdef)
	if err != nil {
		return nil, err
	}
	if parentTask.Generation == generation {
		if err := e.ensureTaskStarted(ctx, parentWF, parentDef, tdef, parentTask); err != nil {
			return nil, err
		}
	}
	return child, nil
}

func (e *Engine) createWorkflowInstance(ctx context.Context, def *WorkflowDef, parent *ParentRef, parentWF *Workflow, payload Payload, corr *CorrelationContext, id string) (*Workflow, error) {
	validated, err := validate(def.Actions.InitializeSchema, payload)
	if err != nil {
		return nil, ErrValidation("workflow "+def.Name+" initialize payload rejected", err)
	}
	if def.Actions.Initialize != nil {
		if err := def.Actions.Initialize(ctx, validated); err != nil {
			return nil, err
		}
	}

	wf := &Workflow{
		ID:          id,
		Name:        def.Name,
		VersionName: def.VersionName,
		Parent:      parent,
		State:       WorkflowInitialized,
		CreatedAt:   e.now(),
	}
	if parentWF != nil {
		wf.Path = append(append([]string{}, parentWF.Path...), parent.TaskName)
		wf.RealizedPath = append(append([]string{}, parentWF.RealizedPath...), parentWF.ID)
		wf.RootWorkflowID = parentWF.RootWorkflowID
		if wf.RootWorkflowID == "" {
			wf.RootWorkflowID = parentWF.ID
		}
	} else {
		wf.RootWorkflowID = wf.ID
	}

	if err := e.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	conds := make(map[string]*Condition, len(def.Conditions))
	for name, cdef := range def.Conditions {
		marking := 0
		if name == def.StartCondition {
			marking = 1
		}
		c, err := e.initializeCondition(ctx, wf, cdef, marking)
		if err != nil {
			return nil, err
		}
		conds[name] = c
	}

	for _, tdef := range def.orderedTasks() {
		if _, err := e.resolveTask(ctx, wf, tdef); err != nil {
			return nil, err
		}
	}

	if def.Actions.OnInitialized != nil {
		if err := def.Actions.OnInitialized(ctx, wf); err != nil {
			return nil, err
		}
	}

	if err := e.setWorkflowState(ctx, wf, WorkflowStarted); err != nil {
		return nil, err
	}

	start := conds[def.StartCondition]
	if start == nil {
		return nil, ErrStructural("workflow " + def.Name + ": start condition " + def.StartCondition + " not declared")
	}
	if err := e.enableDownstreamTasks(ctx, wf, def, start); err != nil {
		return nil, err
	}

	return wf, nil
}

// checkWorkflowCompletion completes the workflow once its end condition
// carries a token (spec §4.6, Completion).
func (e *Engine) checkWorkflowCompletion(ctx context.Context, wf *Workflow, def *WorkflowDef) error {
	if wf.State != WorkflowStarted {
		return nil
	}
	end, err := e.store.GetConditionByName(ctx, wf.ID, def.EndCondition)
	if err != nil {
		return err
	}
	if end.Marking == 0 {
		return nil
	}
	ctx, span := e.span(ctx, "workflow.complete", map[string]string{"workflowId": wf.ID})
	defer span.End()
	if err := e.setWorkflowState(ctx, wf, WorkflowCompleted); err != nil {
		return err
	}
	if def.Actions.OnCompleted != nil {
		if err := def.Actions.OnCompleted(ctx, wf); err != nil {
			return err
		}
	}
	if wf.Parent != nil {
		if err := e.notifyParentOfChildTransition(ctx, wf, WorkflowStarted, WorkflowCompleted); err != nil {
			return err
		}
	}
	e.scheduleSnapshot(ctx, wf.ID)
	return nil
}

// failWorkflow fails the enclosing workflow when one of its tasks fails:
// failTask calls it on every task failure, after the failed task's
// cancellation region has been applied. It marks the workflow failed,
// notifies a parent workflow and schedules a snapshot.
func (e *Engine) failWorkflow(ctx context.Context, wf *Workflow, def *WorkflowDef) error {
	if wf.State.Terminal() {
		return nil
	}
	ctx, span := e.span(ctx, "workflow.fail", map[string]string{"workflowId": wf.ID})
	defer span.End()
	if err := e.setWorkflowState(ctx, wf, WorkflowFailed); err != nil {
		return err
	}
	if wf.Parent != nil {
		if err := e.notifyParentOfChildTransition(ctx, wf, WorkflowStarted, WorkflowFailed); err != nil {
			return err
		}
	}
	e.scheduleSnapshot(ctx, wf.ID)
	return nil
}

// cancelWorkflow force-terminates a workflow instance: every enabled or
// started task is canceled (cascading into its work items and any child
// workflows). reason is recorded on the cancel spans and passed down to
// each cancelTask; no workflow-level cancel action exists, and each
// task's OnCanceled hook runs whatever the reason.
func (e *Engine) cancelWorkflow(ctx context.Context, wf *Workflow, reason CancellationReason) error {
	if wf.State.Terminal() {
		return nil
	}
	ctx, span := e.span(ctx, "workflow.cancel", map[string]string{"workflowId": wf.ID, "reason": string(reason)})
	defer span.End()

	def, err := e.lookupDef(wf.Name)
	if err != nil {
		return err
	}

	tasks, err := e.store.ListTasks(ctx, wf.ID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		tdef, ok := def.Tasks[t.Name]
		if !ok || t.State.Terminal() || t.State == TaskDisabled {
			continue
		}
		if err := e.cancelTask(ctx, wf, def, tdef, reason); err != nil {
			return err
		}
	}

	from := wf.State
	if err := e.setWorkflowState(ctx, wf, WorkflowCanceled); err != nil {
		return err
	}
	if wf.Parent != nil {
		if err := e.notifyParentOfChildTransition(ctx, wf, from, WorkflowCanceled); err != nil {
			return err
		}
	}
	e.scheduleSnapshot(ctx, wf.ID)
	return nil
}

// notifyParentOfChildTransition updates the owning composite task's
// per-generation child-workflow stats shard and invokes
// OnWorkflowStateChanged, then evaluates the composite policy (spec §4.4).
func (e *Engine) notifyParentOfChildTransition(ctx context.Context, child *Workflow, prev, next WorkflowState) error {
	p := *child.Parent
	shard, err := e.store.EnsureStatsShard(ctx, p.WorkflowID, p.TaskName, p.Generation)
	if err != nil {
		return err
	}
	key := string(prev) + ">" + string(next) + ">" + child.ID
	if !shard.AppliedTransitions[key] {
		shard.AppliedTransitions[key] = true
		if prev != "" {
			shard.ChildWFCounts[prev]--
		}
		shard.ChildWFCounts[next]++
		if err := e.store.SaveStatsShard(ctx, shard); err != nil {
			return err
		}
	}

	parentTDef, parentDef, parentWF, err := e.resolveTaskContext(ctx, p.WorkflowID, p.TaskName)
	if err != nil {
		return err
	}
	if parentTDef.Activities.OnWorkflowStateChanged != nil {
		h := &TaskHandle{eng: e, WorkflowID: p.WorkflowID, TaskName: p.TaskName, Generation: p.Generation}
		if err := parentTDef.Activities.OnWorkflowStateChanged(ctx, h, child, prev, next); err != nil {
			return err
		}
	}
	if !next.Terminal() {
		return nil
	}

	children, err := e.store.ListWorkflowsByParent(ctx, p.WorkflowID, p.TaskName, p.Generation)
	if err != nil {
		return err
	}
	summaries := make([]ChildWorkflowSummary, len(children))
	allTerminal := true
	for i, c := range children {
		summaries[i] = ChildWorkflowSummary{WorkflowID: c.ID, Name: c.Name, State: c.State}
		if !c.State.Terminal() {
			allTerminal = false
		}
	}
	if !allTerminal {
		return nil
	}

	policy := parentTDef.CompositePolicy
	if policy == nil {
		policy = CompositePolicyFunc(defaultCompositePolicy)
	}
	switch policy.Evaluate(ctx, summaries) {
	case PolicyComplete:
		return e.completeTask(ctx, parentWF, parentDef, parentTDef)
	case PolicyFail:
		return e.failTask(ctx, parentWF, parentDef, parentTDef)
	default:
		return nil
	}
}

// defaultCompositePolicy completes the composite task once every child
// workflow is terminal and none failed or was canceled.
func defaultCompositePolicy(_ context.Context, children []ChildWorkflowSummary) PolicyDecision {
	for _, c := range children {
		if c.State == WorkflowFailed || c.State == WorkflowCanceled {
			return PolicyFail
		}
	}
	return PolicyComplete
}
