package engine

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Engine is the runtime for a set of registered workflow definitions. It
// holds no workflow state itself — everything lives in Store — so an
// Engine value is safe to reconstruct from the same Store across process
// restarts (spec §2, System overview).
type Engine struct {
	store     Store
	defs      map[string]*WorkflowDef
	tracer    Tracer
	metrics   Metrics
	scheduler Scheduler
	clock     func() time.Time

	// taskStarts tracks the time each (workflow, task, generation) entered
	// started, so StepLatency can be reported when it reaches a terminal
	// state. Keyed by taskStartKey.
	taskStarts sync.Map

	// schedules tracks outstanding scheduler keys per owning task
	// generation or work item, so a terminal transition can cancel them.
	schedules *schedulerRegistry
}

func taskStartKey(workflowID, taskName string, generation int) string {
	return workflowID + "|" + taskName + "|" + strconv.Itoa(generation)
}

// New builds an Engine over store, configured by opts; it registers no
// definitions. Register, at definition-load time, checks that every
// condition/task name referenced by a flow is declared; it does not check
// definitions for cycles.
func New(store Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:     store,
		defs:      make(map[string]*WorkflowDef),
		tracer:    noopTracer{},
		metrics:   noopMetrics{},
		scheduler: newInlineScheduler(),
		schedules: newSchedulerRegistry(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register adds a workflow definition to the engine, validating that every
// flow target and cancellation-region member names a declared condition or
// task (spec §3, Structural invariants).
func (e *Engine) Register(def *WorkflowDef) error {
	if def.Name == "" {
		return ErrStructural("workflow definition has no name")
	}
	if _, ok := def.Conditions[def.StartCondition]; !ok {
		return ErrStructural("workflow " + def.Name + ": start condition " + def.StartCondition + " not declared")
	}
	if _, ok := def.Conditions[def.EndCondition]; !ok {
		return ErrStructural("workflow " + def.Name + ": end condition " + def.EndCondition + " not declared")
	}
	if len(def.TaskOrder) != len(def.Tasks) {
		def.TaskOrder = make([]string, 0, len(def.Tasks))
		for name := range def.Tasks {
			def.TaskOrder = append(def.TaskOrder, name)
		}
		sort.Strings(def.TaskOrder)
	}
	for _, tdef := range def.orderedTasks() {
		for _, cname := range tdef.Incoming {
			if _, ok := def.Conditions[cname]; !ok {
				return ErrStructural("task " + tdef.Name + ": incoming condition " + cname + " not declared")
			}
		}
		for _, cname := range tdef.Outgoing {
			if _, ok := def.Conditions[cname]; !ok {
				return ErrStructural("task " + tdef.Name + ": outgoing condition " + cname + " not declared")
			}
		}
		for _, name := range tdef.CancellationRegionTasks {
			if _, ok := def.Tasks[name]; !ok {
				return ErrStructural("task " + tdef.Name + ": cancellation region task " + name + " not declared")
			}
		}
		for _, name := range tdef.CancellationRegionConditions {
			if _, ok := def.Conditions[name]; !ok {
				return ErrStructural("task " + tdef.Name + ": cancellation region condition " + name + " not declared")
			}
		}
		if (tdef.Split == SplitXor || tdef.Split == SplitOr) && tdef.Router == nil {
			return errMissingRouter(tdef.Name)
		}
		if tdef.Kind == KindComposite && tdef.Child == nil {
			return ErrStructural("task " + tdef.Name + ": composite task has no child workflow definition")
		}
		if tdef.Kind == KindDynamicComposite && len(tdef.Children) == 0 {
			return ErrStructural("task " + tdef.Name + ": dynamic composite task has no child workflow definitions")
		}
	}
	e.defs[def.Name] = def
	return nil
}

func (e *Engine) lookupDef(name string) (*WorkflowDef, error) {
	def, ok := e.defs[name]
	if !ok {
		return nil, ErrNotFound("workflowDefinition", name)
	}
	return def, nil
}

// GetWorkflow returns a single workflow instance by id.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	return e.store.GetWorkflow(ctx, id)
}

// GetTask returns a task's current row by workflow id and name.
func (e *Engine) GetTask(ctx context.Context, workflowID, name string) (*Task, error) {
	return e.store.GetTaskByName(ctx, workflowID, name)
}

// GetWorkItem returns a work item by id.
func (e *Engine) GetWorkItem(ctx context.Context, id string) (*WorkItem, error) {
	return e.store.GetWorkItem(ctx, id)
}

// StartWorkItem, CompleteWorkItem, FailWorkItem, CancelWorkItem and
// ResetWorkItem are the host-facing entry points a caller uses to drive a
// work item, each validating the transition against table W before
// running the matching activity (spec §4.5).
func (e *Engine) StartWorkItem(ctx context.Context, workItemID string, payload Payload) error {
	ctx, span := e.span(ctx, "workItem.start", map[string]string{"workItemId": workItemID})
	defer span.End()
	return e.transitionWorkItem(ctx, workItemID, WorkItemStarted, payload)
}

func (e *Engine) CompleteWorkItem(ctx context.Context, workItemID string, payload Payload) error {
	ctx, span := e.span(ctx, "workItem.complete", map[string]string{"workItemId": workItemID})
	defer span.End()
	return e.transitionWorkItem(ctx, workItemID, WorkItemCompleted, payload)
}

func (e *Engine) FailWorkItem(ctx context.Context, workItemID string, payload Payload) error {
	ctx, span := e.span(ctx, "workItem.fail", map[string]string{"workItemId": workItemID})
	defer span.End()
	return e.transitionWorkItem(ctx, workItemID, WorkItemFailed, payload)
}

func (e *Engine) CancelWorkItem(ctx context.Context, workItemID string, payload Payload) error {
	ctx, span := e.span(ctx, "workItem.cancel", map[string]string{"workItemId": workItemID})
	defer span.End()
	return e.transitionWorkItem(ctx, workItemID, WorkItemCanceled, payload)
}

func (e *Engine) ResetWorkItem(ctx context.Context, workItemID string, payload Payload) error {
	ctx, span := e.span(ctx, "workItem.reset", map[string]string{"workItemId": workItemID})
	defer span.End()
	return e.transitionWorkItem(ctx, workItemID, WorkItemInitialized, payload)
}

// CancelWorkflow force-terminates a running workflow instance from the
// outside (spec §4.6, Cancel — CancelExplicit).
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID string) error {
	ctx, span := e.span(ctx, "workflow.cancel", map[string]string{"workflowId": workflowID})
	defer span.End()
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	return e.cancelWorkflow(ctx, wf, CancelExplicit)
}
