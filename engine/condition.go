package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// initializeCondition creates the place row for a declared condition,
// seeding its marking (1 for the workflow's start condition, 0 otherwise;
// spec §4.1, Initialize).
func (e *Engine) initializeCondition(ctx context.Context, wf *Workflow, cdef *ConditionDef, marking int) (*Condition, error) {
	_, span := e.span(ctx, "condition.initialize", map[string]string{"workflowId": wf.ID, "condition": cdef.Name, "marking": strconv.Itoa(marking)})
	defer span.End()

	cond := &Condition{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Name:       cdef.Name,
		Marking:    marking,
		IsImplicit: cdef.IsImplicit,
		CreatedAt:  e.now(),
	}
	if err := e.store.CreateCondition(ctx, cond); err != nil {
		return nil, err
	}
	return cond, nil
}

// incrementMarking adds delta tokens to a condition and then tries to
// enable every downstream task whose join discipline is now satisfied
// (spec §4.1, IncrementMarking).
func (e *Engine) incrementMarking(ctx context.Context, wf *Workflow, def *WorkflowDef, cond *Condition, delta int) error {
	if delta <= 0 {
		return nil
	}
	ctx, span := e.span(ctx, "condition.mark", map[string]string{"workflowId": wf.ID, "condition": cond.Name})
	defer span.End()

	cond.Marking += delta
	if err := e.store.UpdateConditionMarking(ctx, cond.ID, cond.Marking); err != nil {
		return err
	}
	span.SetAttributes(map[string]string{"marking": strconv.Itoa(cond.Marking)})
	return e.enableDownstreamTasks(ctx, wf, def, cond)
}

// decrementMarking removes delta tokens from a condition, clamped at zero
// (spec §4.1, DecrementMarking — a task consuming from a condition whose
// marking has already been drained by a sibling firing is not an error).
// If the condition is drained to zero, every downstream task still waiting
// on it (state enabled, not yet started) is disabled — this is what makes a
// deferred choice resolve: starting one sibling drains the shared condition
// and disables the other before it can also start.
func (e *Engine) decrementMarking(ctx context.Context, wf *Workflow, def *WorkflowDef, cond *Condition, delta int) error {
	if delta <= 0 {
		return nil
	}
	ctx, span := e.span(ctx, "condition.mark", map[string]string{"workflowId": wf.ID, "condition": cond.Name})
	defer span.End()

	cond.Marking -= delta
	if cond.Marking < 0 {
		cond.Marking = 0
	}
	if err := e.store.UpdateConditionMarking(ctx, cond.ID, cond.Marking); err != nil {
		return err
	}
	span.SetAttributes(map[string]string{"marking": strconv.Itoa(cond.Marking)})
	if cond.Marking == 0 {
		return e.disableTasks(ctx, wf, def, cond)
	}
	return nil
}

// disableTasks transitions every downstream task still in enabled (not yet
// started) back to disabled, now that cond no longer holds a token it could
// have fired on (spec §4.2 table T, enabled -> disabled).
func (e *Engine) disableTasks(ctx context.Context, wf *Workflow, def *WorkflowDef, cond *Condition) error {
	for _, tdef := range def.orderedTasks() {
		incoming := false
		for _, name := range tdef.Incoming {
			if name == cond.Name {
				incoming = true
				break
			}
		}
		if !incoming {
			continue
		}
		t, err := e.resolveTask(ctx, wf, tdef)
		if err != nil {
			return err
		}
		if t.State != TaskEnabled {
			continue
		}
		taskCtx, span := e.span(ctx, "task.disable", map[string]string{"workflowId": wf.ID, "task": t.Name})
		if err := e.setTaskState(taskCtx, wf, t, TaskDisabled); err != nil {
			span.End()
			return err
		}
		span.End()
	}
	return nil
}

// enableDownstreamTasks walks every task that declares cond.Name as an
// incoming flow and asks it to evaluate its join discipline (spec §4.1,
// EnableTasks / spec §4.2, Enablement).
func (e *Engine) enableDownstreamTasks(ctx context.Context, wf *Workflow, def *WorkflowDef, cond *Condition) error {
	for _, tdef := range def.orderedTasks() {
		incoming := false
		for _, name := range tdef.Incoming {
			if name == cond.Name {
				incoming = true
				break
			}
		}
		if !incoming {
			continue
		}
		if err := e.tryEnableTask(ctx, wf, def, tdef); err != nil {
			return err
		}
	}
	return nil
}

// cancelCondition forcibly drains a condition's marking to zero as part of
// a cancellation region sweep, then disables any downstream task still
// waiting on it (spec §4.1, Cancel).
func (e *Engine) cancelCondition(ctx context.Context, wf *Workflow, def *WorkflowDef, cond *Condition) error {
	ctx, span := e.span(ctx, "condition.cancel", map[string]string{"workflowId": wf.ID, "condition": cond.Name})
	defer span.End()

	if cond.Marking != 0 {
		cond.Marking = 0
		if err := e.store.UpdateConditionMarking(ctx, cond.ID, 0); err != nil {
			return err
		}
	}
	span.SetAttributes(map[string]string{"marking": "0"})
	return e.disableTasks(ctx, wf, def, cond)
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now().UTC()
}
