package engine_test

import (
	"context"
	"testing"

	"github.com/tiborkr/tasquencer/engine"
	"github.com/tiborkr/tasquencer/engine/emit"
	"github.com/tiborkr/tasquencer/engine/store"
)

// autoTriggerWorkflow's work item auto-completes itself from OnStarted via
// WorkItemHandle.Complete, so a single StartWorkItem call drives the work
// item straight from initialized through started to completed, and the
// owning task and workflow complete with it (spec §4.5, Auto-trigger: "at
// most one chained transition per activity invocation").
func autoTriggerWorkflow(items map[string]*engine.WorkItem) *engine.WorkflowDef {
	return &engine.WorkflowDef{
		Name:           "autoTrigger",
		VersionName:    "v1",
		StartCondition: "start",
		EndCondition:   "end",
		Conditions: map[string]*engine.ConditionDef{
			"start": {Name: "start"},
			"end":   {Name: "end"},
		},
		Tasks: map[string]*engine.TaskDef{
			"auto": {
				Name: "auto", Kind: engine.KindLeaf,
				Join: engine.JoinAnd, Split: engine.SplitAnd,
				Incoming: []string{"start"}, Outgoing: []string{"end"},
				Activities: engine.TaskActivities{
					OnEnabled: func(ctx context.Context, h *engine.TaskHandle) error {
						wi, err := h.InitWorkItem(ctx, "auto-item")
						if err != nil {
							return err
						}
						items["auto"] = wi
						return nil
					},
				},
				WorkItemActivities: engine.WorkItemActivities{
					OnStarted: func(ctx context.Context, h *engine.WorkItemHandle, payload engine.Payload) error {
						return h.Complete(payload)
					},
				},
			},
		},
	}
}

func TestAutoTriggerChain(t *testing.T) {
	ctx := context.Background()
	items := map[string]*engine.WorkItem{}
	st := store.New()
	eng, err := engine.New(st, engine.WithTracer(emit.NewBufferTracer()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Register(autoTriggerWorkflow(items)); err != nil {
		t.Fatalf("register: %v", err)
	}

	wf, err := eng.InitializeRootWorkflow(ctx, "autoTrigger", nil, nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	wi, ok := items["auto"]
	if !ok {
		t.Fatal("auto never created a work item")
	}
	if err := eng.StartWorkItem(ctx, wi.ID, nil); err != nil {
		t.Fatalf("start work item: %v", err)
	}

	got, err := eng.GetWorkItem(ctx, wi.ID)
	if err != nil {
		t.Fatalf("get work item: %v", err)
	}
	if got.State != engine.WorkItemCompleted {
		t.Fatalf("work item state = %s, want completed (OnStarted should have chained straight to complete)", got.State)
	}

	final, err := eng.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if final.State != engine.WorkflowCompleted {
		t.Fatalf("workflow state = %s, want completed", final.State)
	}
}
