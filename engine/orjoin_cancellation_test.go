package engine_test

import (
	"context"
	"testing"

	"github.com/tiborkr/tasquencer/engine"
	"github.com/tiborkr/tasquencer/engine/emit"
	"github.com/tiborkr/tasquencer/engine/store"
)

// orJoinWorkflow fans a single split task out to three parallel branches
// (branchP, branchQ, taskY), all AND-split from "splitter". branchP and
// branchQ feed an OR-join ("join"), while taskY sits idle behind "cY" and
// is never meant to fire on its own: the join task's cancellation region
// names taskY and cY, so once the OR-join fires it tidies up the still-idle
// sibling (spec §4.2 JoinOr / §4.7 Cancellation regions).
func orJoinWorkflow(items map[string]*engine.WorkItem) *engine.WorkflowDef {
	autoFire := func(name string) func(context.Context, *engine.TaskHandle) error {
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
		Name:           "orJoinCancel",
		VersionName:    "v1",
		StartCondition: "start",
		EndCondition:   "end",
		Conditions: map[string]*engine.ConditionDef{
			"start":    {Name: "start"},
			"c1":       {Name: "c1"},
			"c2":       {Name: "c2"},
			"cY":       {Name: "cY"},
			"joined_p": {Name: "joined_p"},
			"joined_q": {Name: "joined_q"},
			"end":      {Name: "end"},
		},
		Tasks: map[string]*engine.TaskDef{
			"splitter": {
				Name: "splitter", Kind: engine.KindLeaf,
				Join: engine.JoinAnd, Split: engine.SplitAnd,
				Incoming: []string{"start"}, Outgoing: []string{"c1", "c2", "cY"},
				Activities: engine.TaskActivities{OnEnabled: autoFire("splitter")},
			},
			"branchP": {
				Name: "branchP", Kind: engine.KindLeaf,
				Join: engine.JoinAnd, Split: engine.SplitAnd,
				Incoming: []string{"c1"}, Outgoing: []string{"joined_p"},
				Activities: engine.TaskActivities{OnEnabled: autoFire("branchP")},
			},
			"branchQ": {
				Name: "branchQ", Kind: engine.KindLeaf,
				Join: engine.JoinAnd, Split: engine.SplitAnd,
				Incoming: []string{"c2"}, Outgoing: []string{"joined_q"},
				Activities: engine.TaskActivities{OnEnabled: autoFire("branchQ")},
			},
			"taskY": {
				Name: "taskY", Kind: engine.KindLeaf,
				Join: engine.JoinAnd, Split: engine.SplitAnd,
				Incoming: []string{"cY"}, Outgoing: []string{"end"},
				// No OnEnabled hook: taskY reaches enabled and then just
				// waits, simulating a sibling branch still "in flight" when
				// the OR-join fires.
			},
			"join": {
				Name: "join", Kind: engine.KindLeaf,
				Join: engine.JoinOr, Split: engine.SplitAnd,
				Incoming: []string{"joined_p", "joined_q"}, Outgoing: []string{"end"},
				CancellationRegionTasks:      []string{"taskY"},
				CancellationRegionConditions: []string{"cY"},
				Activities:                   engine.TaskActivities{OnEnabled: autoFire("join")},
			},
		},
	}
}

func TestOrJoinWithCancellationRegion(t *testing.T) {
	ctx := context.Background()
	items := map[string]*engine.WorkItem{}
	st := store.New()
	eng, err := engine.New(st, engine.WithTracer(emit.NewBufferTracer()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Register(orJoinWorkflow(items)); err != nil {
		t.Fatalf("register: %v", err)
	}

	wf, err := eng.InitializeRootWorkflow(ctx, "orJoinCancel", nil, nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	splitterWI, ok := items["splitter"]
	if !ok {
		t.Fatal("splitter never created a work item")
	}
	if err := eng.StartWorkItem(ctx, splitterWI.ID, nil); err != nil {
		t.Fatalf("start splitter: %v", err)
	}
	if err := eng.CompleteWorkItem(ctx, splitterWI.ID, nil); err != nil {
		t.Fatalf("complete splitter: %v", err)
	}

	taskY, err := eng.GetTask(ctx, wf.ID, "taskY")
	if err != nil {
		t.Fatalf("get task taskY: %v", err)
	}
	if taskY.State != engine.TaskEnabled {
		t.Fatalf("taskY state = %s, want enabled (still idle, waiting on its own branch)", taskY.State)
	}

	branchPWI, ok := items["branchP"]
	if !ok {
		t.Fatal("branchP never created a work item")
	}
	if err := eng.StartWorkItem(ctx, branchPWI.ID, nil); err != nil {
		t.Fatalf("start branchP: %v", err)
	}
	if err := eng.CompleteWorkItem(ctx, branchPWI.ID, nil); err != nil {
		t.Fatalf("complete branchP: %v", err)
	}

	joinTask, err := eng.GetTask(ctx, wf.ID, "join")
	if err != nil {
		t.Fatalf("get task join: %v", err)
	}
	if joinTask.State != engine.TaskDisabled {
		t.Fatalf("join state = %s, want disabled — branchQ is still active and could still deliver joined_q", joinTask.State)
	}

	branchQWI, ok := items["branchQ"]
	if !ok {
		t.Fatal("branchQ never created a work item")
	}
	if err := eng.StartWorkItem(ctx, branchQWI.ID, nil); err != nil {
		t.Fatalf("start branchQ: %v", err)
	}
	if err := eng.CompleteWorkItem(ctx, branchQWI.ID, nil); err != nil {
		t.Fatalf("complete branchQ: %v", err)
	}

	joinWI, ok := items["join"]
	if !ok {
		t.Fatal("join never reached enabled with both branches delivered")
	}
	if err := eng.StartWorkItem(ctx, joinWI.ID, nil); err != nil {
		t.Fatalf("start join: %v", err)
	}
	if err := eng.CompleteWorkItem(ctx, joinWI.ID, nil); err != nil {
		t.Fatalf("complete join: %v", err)
	}

	taskY, err = eng.GetTask(ctx, wf.ID, "taskY")
	if err != nil {
		t.Fatalf("get task taskY: %v", err)
	}
	if taskY.State != engine.TaskCanceled {
		t.Fatalf("taskY state = %s, want canceled (join's cancellation region should have swept it)", taskY.State)
	}

	cY, err := st.GetConditionByName(ctx, wf.ID, "cY")
	if err != nil {
		t.Fatalf("get condition cY: %v", err)
	}
	if cY.Marking != 0 {
		t.Fatalf("cY marking = %d, want 0 (drained by the cancellation region)", cY.Marking)
	}

	final, err := eng.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if final.State != engine.WorkflowCompleted {
		t.Fatalf("workflow state = %s, want completed", final.State)
	}
}
