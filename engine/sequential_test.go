package engine_test

import (
	"context"
	"testing"

	"github.com/tiborkr/tasquencer/engine"
	"github.com/tiborkr/tasquencer/engine/emit"
	"github.com/tiborkr/tasquencer/engine/store"
)

// sequentialWorkflow is a two-task AND/AND chain: start -> step1 -> mid ->
// step2 -> end. Every task has exactly one incoming and one outgoing
// condition, so enablement, firing and completion all happen in lockstep
// with each work item.
func sequentialWorkflow(items map[string]*engine.WorkItem) *engine.WorkflowDef {
	onEnabled := func(name string) func(context.Context, *engine.TaskHandle) error {
		return func(ctx context.Context, h *engine.TaskHandle) error {
			wi, err := h.InitWorkItem(ctx, name+"-item")
			if err != nil {
				return err
			}
			items[name] = wi
			return nil
		}
	}
	return &engine.WorkflowDef{
		Name:           "sequential",
		VersionName:    "v1",
		StartCondition: "start",
		EndCondition:   "end",
		Conditions: map[string]*engine.ConditionDef{
			"start": {Name: "start"},
			"mid":   {Name: "mid"},
			"end":   {Name: "end"},
		},
		Tasks: map[string]*engine.TaskDef{
			"step1": {
				Name: "step1", Kind: engine.KindLeaf,
				Join: engine.JoinAnd, Split: engine.SplitAnd,
				Incoming: []string{"start"}, Outgoing: []string{"mid"},
				Activities: engine.TaskActivities{OnEnabled: onEnabled("step1")},
			},
			"step2": {
				Name: "step2", Kind: engine.KindLeaf,
				Join: engine.JoinAnd, Split: engine.SplitAnd,
				Incoming: []string{"mid"}, Outgoing: []string{"end"},
				Activities: engine.TaskActivities{OnEnabled: onEnabled("step2")},
			},
		},
	}
}

func TestSequentialFiring(t *testing.T) {
	ctx := context.Background()
	items := map[string]*engine.WorkItem{}
	st := store.New()
	eng, err := engine.New(st, engine.WithTracer(emit.NewBufferTracer()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Register(sequentialWorkflow(items)); err != nil {
		t.Fatalf("register: %v", err)
	}

	wf, err := eng.InitializeRootWorkflow(ctx, "sequential", nil, nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	step1, err := eng.GetTask(ctx, wf.ID, "step1")
	if err != nil {
		t.Fatalf("get task step1: %v", err)
	}
	if step1.State != engine.TaskStarted {
		t.Fatalf("step1 state = %s, want started (ensureTaskStarted fires as soon as OnEnabled creates a work item)", step1.State)
	}
	step2, err := eng.GetTask(ctx, wf.ID, "step2")
	if err != nil {
		t.Fatalf("get task step2: %v", err)
	}
	if step2.State != engine.TaskDisabled {
		t.Fatalf("step2 state = %s, want disabled (mid has no token yet)", step2.State)
	}

	wi1, ok := items["step1"]
	if !ok {
		t.Fatal("step1 never created a work item")
	}
	if err := eng.StartWorkItem(ctx, wi1.ID, nil); err != nil {
		t.Fatalf("start step1 work item: %v", err)
	}
	if err := eng.CompleteWorkItem(ctx, wi1.ID, nil); err != nil {
		t.Fatalf("complete step1 work item: %v", err)
	}

	mid, err := st.GetConditionByName(ctx, wf.ID, "mid")
	if err != nil {
		t.Fatalf("get condition mid: %v", err)
	}
	if mid.Marking != 0 {
		t.Fatalf("mid marking = %d, want 0 (step2 should have already consumed it on start)", mid.Marking)
	}

	step2, err = eng.GetTask(ctx, wf.ID, "step2")
	if err != nil {
		t.Fatalf("get task step2: %v", err)
	}
	if step2.State != engine.TaskStarted {
		t.Fatalf("step2 state = %s, want started", step2.State)
	}

	wi2, ok := items["step2"]
	if !ok {
		t.Fatal("step2 never created a work item")
	}
	if err := eng.StartWorkItem(ctx, wi2.ID, nil); err != nil {
		t.Fatalf("start step2 work item: %v", err)
	}
	if err := eng.CompleteWorkItem(ctx, wi2.ID, nil); err != nil {
		t.Fatalf("complete step2 work item: %v", err)
	}

	final, err := eng.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if final.State != engine.WorkflowCompleted {
		t.Fatalf("workflow state = %s, want completed", final.State)
	}
}
