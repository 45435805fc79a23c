package engine_test

import (
	"context"
	"testing"

	"github.com/tiborkr/tasquencer/engine"
	"github.com/tiborkr/tasquencer/engine/emit"
	"github.com/tiborkr/tasquencer/engine/store"
)

// failureWorkflow is a single-task flow whose work item the test fails
// directly, exercising the failTask -> failWorkflow cascade (spec §4.2/§4.6:
// DefaultPolicy fails a task as soon as any of its work items fails,
// regardless of how many others are still outstanding).
func failureWorkflow(items map[string]*engine.WorkItem) *engine.WorkflowDef {
	return &engine.WorkflowDef{
		Name:           "failurePropagation",
		VersionName:    "v1",
		StartCondition: "start",
		EndCondition:   "end",
		Conditions: map[string]*engine.ConditionDef{
			"start": {Name: "start"},
			"end":   {Name: "end"},
		},
		Tasks: map[string]*engine.TaskDef{
			"risky": {
				Name: "risky", Kind: engine.KindLeaf,
				Join: engine.JoinAnd, Split: engine.SplitAnd,
				Incoming: []string{"start"}, Outgoing: []string{"end"},
				Activities: engine.TaskActivities{
					OnEnabled: func(ctx context.Context, h *engine.TaskHandle) error {
						wi, err := h.InitWorkItem(ctx, "risky-item")
						if err != nil {
							return err
						}
						items["risky"] = wi
						return nil
					},
				},
			},
		},
	}
}

func TestFailurePropagation(t *testing.T) {
	ctx := context.Background()
	items := map[string]*engine.WorkItem{}
	st := store.New()
	eng, err := engine.New(st, engine.WithTracer(emit.NewBufferTracer()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Register(failureWorkflow(items)); err != nil {
		t.Fatalf("register: %v", err)
	}

	wf, err := eng.InitializeRootWorkflow(ctx, "failurePropagation", nil, nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	wi, ok := items["risky"]
	if !ok {
		t.Fatal("risky never created a work item")
	}
	if err := eng.StartWorkItem(ctx, wi.ID, nil); err != nil {
		t.Fatalf("start work item: %v", err)
	}
	if err := eng.FailWorkItem(ctx, wi.ID, nil); err != nil {
		t.Fatalf("fail work item: %v", err)
	}

	task, err := eng.GetTask(ctx, wf.ID, "risky")
	if err != nil {
		t.Fatalf("get task risky: %v", err)
	}
	if task.State != engine.TaskFailed {
		t.Fatalf("task risky state = %s, want failed", task.State)
	}

	final, err := eng.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if final.State != engine.WorkflowFailed {
		t.Fatalf("workflow state = %s, want failed", final.State)
	}
	if final.EndedAt == nil {
		t.Fatal("failed workflow should have an EndedAt timestamp")
	}

	end, err := st.GetConditionByName(ctx, wf.ID, "end")
	if err != nil {
		t.Fatalf("get condition end: %v", err)
	}
	if end.Marking != 0 {
		t.Fatalf("end marking = %d, want 0 (a failed task produces no tokens)", end.Marking)
	}
}
