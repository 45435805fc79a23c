package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// resolveTask fetches the current row for a declared task, creating the
// generation-0 row the first time it is seen (spec §4.2, Initialize).
func (e *Engine) resolveTask(ctx context.Context, wf *Workflow, tdef *TaskDef) (*Task, error) {
	t, err := e.store.GetTaskByName(ctx, wf.ID, tdef.Name)
	if err == nil {
		return t, nil
	}
	var nf *Error
	if !asError(err, &nf) || nf.Code != CodeNotFound {
		return nil, err
	}
	t = &Task{
		ID:            uuid.NewString(),
		WorkflowID:    wf.ID,
		Name:          tdef.Name,
		State:         TaskDisabled,
		Generation:    0,
		Join:          tdef.Join,
		Split:         tdef.Split,
		ExecutionMode: ModeNormal,
		CreatedAt:     e.now(),
	}
	if err := e.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}
	if err := e.appendTaskLog(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) appendTaskLog(ctx context.Context, t *Task) error {
	return e.store.AppendTaskStateLog(ctx, TaskStateLogEntry{
		WorkflowID: t.WorkflowID,
		TaskName:   t.Name,
		Generation: t.Generation,
		State:      t.State,
		At:         e.now(),
	})
}

func (e *Engine) setTaskState(ctx context.Context, wf *Workflow, t *Task, next TaskState) error {
	if !taskCanTransition(t.State, next) {
		return ErrInvalidStateTransition("task", t.ID, t.State, next)
	}
	prev := t.State
	t.State = next
	if err := e.store.UpdateTask(ctx, t); err != nil {
		t.State = prev
		return err
	}
	if err := e.appendTaskLog(ctx, t); err != nil {
		return err
	}

	key := taskStartKey(t.WorkflowID, t.Name, t.Generation)
	switch next {
	case TaskEnabled:
		e.metrics.TaskEnabled(wf.Name, t.Name)
	case TaskStarted:
		e.taskStarts.Store(key, e.now())
	case TaskCompleted, TaskFailed, TaskCanceled:
		if v, ok := e.taskStarts.LoadAndDelete(key); ok {
			e.metrics.StepLatency(wf.Name, t.Name, e.now().Sub(v.(time.Time)))
		}
		e.cancelScheduledFor(key)
	case TaskDisabled:
		e.cancelScheduledFor(key)
	}
	e.metrics.TaskStateChanged(wf.Name, t.Name, prev, next)
	return nil
}

// tryEnableTask evaluates tdef's join discipline against the current
// marking of its incoming conditions and, if satisfied, enables the task
// and runs OnEnabled (spec §4.2, Enablement algorithm). Enablement never
// consumes tokens — two tasks sharing one input condition (a deferred
// choice) can both reach enabled; tokens are only committed when the task
// actually starts (see ensureTaskStarted, the Firing algorithm).
func (e *Engine) tryEnableTask(ctx context.Context, wf *Workflow, def *WorkflowDef, tdef *TaskDef) error {
	t, err := e.resolveTask(ctx, wf, tdef)
	if err != nil {
		return err
	}
	if t.State != TaskDisabled {
		return nil
	}

	incoming, err := e.loadConditions(ctx, wf.ID, tdef.Incoming)
	if err != nil {
		return err
	}

	satisfied := false
	switch tdef.Join {
	case JoinAnd:
		satisfied = true
		for _, c := range incoming {
			if c.Marking == 0 {
				satisfied = false
				break
			}
		}
	case JoinXor:
		for _, c := range incoming {
			if c.Marking > 0 {
				satisfied = true
				break
			}
		}
	case JoinOr:
		ok, _, err := e.orJoinSatisfied(ctx, wf, def, tdef, incoming)
		if err != nil {
			return err
		}
		satisfied = ok
	default:
		return errInvalidJoinType(tdef.Name, tdef.Join)
	}
	if !satisfied {
		return nil
	}

	ctx, span := e.span(ctx, "task.enable", map[string]string{"workflowId": wf.ID, "task": tdef.Name})
	defer span.End()

	if err := e.setTaskState(ctx, wf, t, TaskEnabled); err != nil {
		return err
	}

	triggered := 0
	h := &TaskHandle{eng: e, WorkflowID: wf.ID, TaskName: tdef.Name, Generation: t.Generation, triggered: &triggered}
	if tdef.Activities.OnEnabled != nil {
		if err := tdef.Activities.OnEnabled(ctx, h); err != nil {
			return err
		}
	}
	if triggered > 0 {
		return e.ensureTaskStarted(ctx, wf, def, tdef, t)
	}
	return nil
}

// ensureTaskStarted transitions a task from enabled to started at most once
// per generation, committing the tokens that satisfied its join: every
// incoming condition is decremented by 1, clamped at zero (spec §4.2,
// Firing algorithm — a clamp, never an error, even for XOR/OR joins where
// only one incoming condition actually held a token). Called lazily the
// first time a work item (or child workflow) belonging to this generation
// starts.
func (e *Engine) ensureTaskStarted(ctx context.Context, wf *Workflow, def *WorkflowDef, tdef *TaskDef, t *Task) error {
	if t.State != TaskEnabled {
		return nil
	}
	ctx, span := e.span(ctx, "task.start", map[string]string{"workflowId": wf.ID, "task": tdef.Name})
	defer span.End()

	// Move to started before draining incoming conditions: disableTasks
	// (invoked by decrementMarking when a condition hits zero) only touches
	// tasks still in enabled, so this task's own join condition(s) can be
	// safely decremented without disabling the task currently starting.
	if err := e.setTaskState(ctx, wf, t, TaskStarted); err != nil {
		return err
	}

	incoming, err := e.loadConditions(ctx, wf.ID, tdef.Incoming)
	if err != nil {
		return err
	}
	for _, c := range incoming {
		if err := e.decrementMarking(ctx, wf, def, c, 1); err != nil {
			return err
		}
	}
	return nil
}

// orJoinSatisfied implements the classical "no more tokens can arrive"
// reachability oracle: an OR-join is satisfied once at least one incoming
// condition is marked and no currently active (enabled or started) task
// can still reach an unmarked incoming condition through the static net.
func (e *Engine) orJoinSatisfied(ctx context.Context, wf *Workflow, def *WorkflowDef, tdef *TaskDef, incoming []*Condition) (bool, []*Condition, error) {
	var marked []*Condition
	unmarked := map[string]bool{}
	for _, c := range incoming {
		if c.Marking > 0 {
			marked = append(marked, c)
		} else {
			unmarked[c.Name] = true
		}
	}
	if len(marked) == 0 {
		return false, nil, nil
	}
	if len(unmarked) == 0 {
		return true, marked, nil
	}

	allTasks, err := e.store.ListTasks(ctx, wf.ID)
	if err != nil {
		return false, nil, err
	}
	active := map[string]bool{}
	for _, t := range allTasks {
		if t.State == TaskEnabled || t.State == TaskStarted {
			active[t.Name] = true
		}
	}

	reachable := reachableConditions(def, active)
	for name := range unmarked {
		if reachable[name] {
			return false, nil, nil // a live branch might still deliver here
		}
	}
	return true, marked, nil
}

// reachableConditions returns the set of condition names that some task in
// activeTasks could eventually deposit a token on, by following outgoing
// flows forward through the static net graph.
func reachableConditions(def *WorkflowDef, activeTasks map[string]bool) map[string]bool {
	visitedTasks := map[string]bool{}
	visitedConds := map[string]bool{}
	var walkTask func(name string)
	var walkCond func(name string)

	walkTask = func(name string) {
		if visitedTasks[name] {
			return
		}
		visitedTasks[name] = true
		tdef, ok := def.Tasks[name]
		if !ok {
			return
		}
		for _, cname := range tdef.Outgoing {
			walkCond(cname)
		}
	}
	walkCond = func(name string) {
		if visitedConds[name] {
			return
		}
		visitedConds[name] = true
		for _, tdef := range def.orderedTasks() {
			for _, in := range tdef.Incoming {
				if in == name {
					walkTask(tdef.Name)
				}
			}
		}
	}

	for name := range activeTasks {
		walkTask(name)
	}
	return visitedConds
}

func (e *Engine) loadConditions(ctx context.Context, workflowID string, names []string) ([]*Condition, error) {
	out := make([]*Condition, 0, len(names))
	for _, name := range names {
		c, err := e.store.GetConditionByName(ctx, workflowID, name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// completeTask fires the task's split discipline, producing tokens on the
// conditions resolved by router (for xor/or) or every outgoing condition
// (for and), then applies the task's cancellation region, then checks
// whether the enclosing workflow has reached its end condition (spec §4.2,
// Firing algorithm / §4.7 Cancellation regions).
func (e *Engine) completeTask(ctx context.Context, wf *Workflow, def *WorkflowDef, tdef *TaskDef) error {
	ctx, span := e.span(ctx, "task.complete", map[string]string{"workflowId": wf.ID, "task": tdef.Name})
	defer span.End()

	t, err := e.resolveTask(ctx, wf, tdef)
	if err != nil {
		return err
	}
	if err := e.setTaskState(ctx, wf, t, TaskCompleted); err != nil {
		return err
	}

	routings, err := e.resolveSplit(ctx, tdef)
	if err != nil {
		return err
	}
	for _, r := range routings {
		condName := r.ConditionName
		if r.TaskName != "" {
			target, ok := def.Tasks[r.TaskName]
			if !ok || len(target.Incoming) == 0 {
				return errInvalidRoute(tdef.Name, "target task "+r.TaskName+" has no incoming condition")
			}
			condName = target.Incoming[0]
		}
		cond, err := e.store.GetConditionByName(ctx, wf.ID, condName)
		if err != nil {
			return err
		}
		if err := e.incrementMarking(ctx, wf, def, cond, 1); err != nil {
			return err
		}
	}

	if err := e.applyCancellationRegion(ctx, wf, def, tdef); err != nil {
		return err
	}
	if tdef.Activities.OnCompleted != nil {
		h := &TaskHandle{eng: e, WorkflowID: wf.ID, TaskName: tdef.Name, Generation: t.Generation}
		if err := tdef.Activities.OnCompleted(ctx, h); err != nil {
			return err
		}
	}
	return e.checkWorkflowCompletion(ctx, wf, def)
}

func (e *Engine) resolveSplit(ctx context.Context, tdef *TaskDef) ([]Routing, error) {
	switch tdef.Split {
	case SplitAnd:
		routings := make([]Routing, len(tdef.Outgoing))
		for i, name := range tdef.Outgoing {
			routings[i] = ToCondition(name)
		}
		return routings, nil
	case SplitXor:
		if tdef.Router == nil {
			return nil, errMissingRouter(tdef.Name)
		}
		rs, err := tdef.Router.Route(ctx, newRouteCtx())
		if err != nil {
			return nil, err
		}
		if len(rs) != 1 {
			return nil, errInvalidRoute(tdef.Name, "xor split must resolve exactly one route")
		}
		return rs, nil
	case SplitOr:
		if tdef.Router == nil {
			return nil, errMissingRouter(tdef.Name)
		}
		rs, err := tdef.Router.Route(ctx, newRouteCtx())
		if err != nil {
			return nil, err
		}
		if len(rs) == 0 {
			return nil, errInvalidRoute(tdef.Name, "or split must resolve at least one route")
		}
		return dedupeRoutings(rs), nil
	default:
		return nil, errInvalidJoinType(tdef.Name, JoinType(tdef.Split))
	}
}

func dedupeRoutings(rs []Routing) []Routing {
	seen := map[Routing]bool{}
	out := make([]Routing, 0, len(rs))
	for _, r := range rs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// applyCancellationRegion force-cancels every task and drains every
// condition named in tdef's cancellation region (spec §4.7).
func (e *Engine) applyCancellationRegion(ctx context.Context, wf *Workflow, def *WorkflowDef, tdef *TaskDef) error {
	for _, name := range tdef.CancellationRegionTasks {
		target, ok := def.Tasks[name]
		if !ok {
			continue
		}
		if err := e.cancelTask(ctx, wf, def, target, CancelExplicit); err != nil {
			return err
		}
	}
	for _, name := range tdef.CancellationRegionConditions {
		cond, err := e.store.GetConditionByName(ctx, wf.ID, name)
		if err != nil {
			return err
		}
		if err := e.cancelCondition(ctx, wf, def, cond); err != nil {
			return err
		}
	}
	return nil
}

// failTask transitions a started task to failed; it does not touch
// downstream conditions (a failed task produced no tokens) but does apply
// its cancellation region, mirroring completeTask's teardown shape.
func (e *Engine) failTask(ctx context.Context, wf *Workflow, def *WorkflowDef, tdef *TaskDef) error {
	ctx, span := e.span(ctx, "task.fail", map[string]string{"workflowId": wf.ID, "task": tdef.Name})
	defer span.End()

	t, err := e.resolveTask(ctx, wf, tdef)
	if err != nil {
		return err
	}
	if err := e.setTaskState(ctx, wf, t, TaskFailed); err != nil {
		return err
	}
	if tdef.Activities.OnFailed != nil {
		h := &TaskHandle{eng: e, WorkflowID: wf.ID, TaskName: tdef.Name, Generation: t.Generation}
		if err := tdef.Activities.OnFailed(ctx, h); err != nil {
			return err
		}
	}
	if err := e.applyCancellationRegion(ctx, wf, def, tdef); err != nil {
		return err
	}
	return e.failWorkflow(ctx, wf, def)
}

// cancelTask force-terminates a task that is enabled or started (disabled
// and terminal tasks are left as they are), used by cancellation regions
// and workflow-level teardown.
func (e *Engine) cancelTask(ctx context.Context, wf *Workflow, def *WorkflowDef, tdef *TaskDef, reason CancellationReason) error {
	t, err := e.resolveTask(ctx, wf, tdef)
	if err != nil {
		return err
	}
	if t.State.Terminal() || t.State == TaskDisabled {
		return nil
	}
	ctx, span := e.span(ctx, "task.cancel", map[string]string{"workflowId": wf.ID, "task": tdef.Name, "reason": string(reason)})
	defer span.End()

	if err := e.setTaskState(ctx, wf, t, TaskCanceled); err != nil {
		return err
	}
	if err := e.cancelWorkItemsAndChildren(ctx, wf.ID, tdef.Name, t.Generation, reason); err != nil {
		return err
	}
	if tdef.Activities.OnCanceled != nil {
		h := &TaskHandle{eng: e, WorkflowID: wf.ID, TaskName: tdef.Name, Generation: t.Generation}
		if err := tdef.Activities.OnCanceled(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// reenableTask resets a canceled/completed-by-external-means task back to
// disabled with a bumped generation, so it can be enabled again by a later
// token (used by OR-join loop-back patterns and migrations).
func (e *Engine) reenableTask(ctx context.Context, wf *Workflow, tdef *TaskDef) error {
	_, span := e.span(ctx, "task.reenable", map[string]string{"workflowId": wf.ID, "task": tdef.Name})
	defer span.End()

	t, err := e.resolveTask(ctx, wf, tdef)
	if err != nil {
		return err
	}
	t.Generation++
	t.State = TaskDisabled
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return err
	}
	return e.appendTaskLog(ctx, t)
}

func asError(err error, target **Error) bool {
	return errors.As(err, target)
}
