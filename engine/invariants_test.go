package engine_test

import (
	"context"
	"testing"

	"github.com/tiborkr/tasquencer/engine"
	"github.com/tiborkr/tasquencer/engine/emit"
	"github.com/tiborkr/tasquencer/engine/store"
)

// raceWorkflow has two tasks, winner and loser, both AND-joined on the
// shared "start" condition and both initialising a work item eagerly (so
// both auto-fire the moment they are enabled). Since enablement never
// consumes tokens and only one of them can actually drain "start" by
// starting first, this exercises the marking-never-negative clamp: loser,
// evaluated first in alphabetical order, is enabled, starts at once and
// drains start to zero, after which winner's AND-join is no longer
// satisfied and winner stays disabled; marking must never go below zero.
func raceWorkflow(items map[string]*engine.WorkItem) *engine.WorkflowDef {
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
		Name:           "race",
		VersionName:    "v1",
		StartCondition: "start",
		EndCondition:   "end",
		Conditions: map[string]*engine.ConditionDef{
			"start": {Name: "start"},
			"end":   {Name: "end"},
		},
		Tasks: map[string]*engine.TaskDef{
			"winner": {
				Name: "winner", Kind: engine.KindLeaf,
				Join: engine.JoinAnd, Split: engine.SplitAnd,
				Incoming: []string{"start"}, Outgoing: []string{"end"},
				Activities: engine.TaskActivities{OnEnabled: autoFire("winner")},
			},
			"loser": {
				Name: "loser", Kind: engine.KindLeaf,
				Join: engine.JoinAnd, Split: engine.SplitAnd,
				Incoming: []string{"start"}, Outgoing: []string{"end"},
				Activities: engine.TaskActivities{OnEnabled: autoFire("loser")},
			},
		},
	}
}

// TestMarkingNeverNegative exercises the clamp in decrementMarking: two
// AND-joined tasks race for the same single token on "start"; only the
// first one evaluated by Register's deterministic TaskOrder (alphabetical:
// loser before winner) can actually consume it, and the marking must settle
// at exactly zero, never negative, regardless of how many siblings also
// tried (spec §4.1, DecrementMarking).
func TestMarkingNeverNegative(t *testing.T) {
	ctx := context.Background()
	items := map[string]*engine.WorkItem{}
	st := store.New()
	eng, err := engine.New(st, engine.WithTracer(emit.NewBufferTracer()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Register(raceWorkflow(items)); err != nil {
		t.Fatalf("register: %v", err)
	}

	wf, err := eng.InitializeRootWorkflow(ctx, "race", nil, nil)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	start, err := st.GetConditionByName(ctx, wf.ID, "start")
	if err != nil {
		t.Fatalf("get condition start: %v", err)
	}
	if start.Marking != 0 {
		t.Fatalf("start marking = %d, want 0", start.Marking)
	}
	if start.Marking < 0 {
		t.Fatal("marking clamp failed: went negative")
	}

	// Exactly one of the two tasks should have won the race to started;
	// the other never got a chance to auto-enable past disableTasks.
	loser, err := eng.GetTask(ctx, wf.ID, "loser")
	if err != nil {
		t.Fatalf("get task loser: %v", err)
	}
	winner, err := eng.GetTask(ctx, wf.ID, "winner")
	if err != nil {
		t.Fatalf("get task winner: %v", err)
	}
	startedCount := 0
	if loser.State == engine.TaskStarted {
		startedCount++
	}
	if winner.State == engine.TaskStarted {
		startedCount++
	}
	if startedCount != 1 {
		t.Fatalf("expected exactly one of loser/winner to have started, got loser=%s winner=%s", loser.State, winner.State)
	}
}

// TestStatsShardMovesOneUnitPerTransition confirms that one work-item
// transition moves exactly one unit between the owning task's stats shard
// counters: starting step1's item once leaves started at 1 and initialized
// at 0. The shard's AppliedTransitions guard, keyed by previous state, next
// state and work item id, keeps a transition from being counted twice
// (spec §3, invariant 7).
func TestStatsShardMovesOneUnitPerTransition(t *testing.T) {
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

	wi1 := items["step1"]
	if err := eng.StartWorkItem(ctx, wi1.ID, nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	shard, err := st.GetStatsShard(ctx, wf.ID, "step1", 0)
	if err != nil {
		t.Fatalf("get stats shard: %v", err)
	}
	if shard.WorkItemCounts[engine.WorkItemStarted] != 1 {
		t.Fatalf("started count = %d, want 1", shard.WorkItemCounts[engine.WorkItemStarted])
	}
	if shard.WorkItemCounts[engine.WorkItemInitialized] != 0 {
		t.Fatalf("initialized count = %d, want 0 (decremented when the item left initialized)", shard.WorkItemCounts[engine.WorkItemInitialized])
	}
}

// TestAuditSpanSequenceMonotone confirms that every span recorded against
// one trace gets a strictly increasing SequenceNumber, the ordering
// BuildSnapshot's replay depends on (spec §4.8: "SequenceNumber is assigned
// per trace at insertion and never reused").
func TestAuditSpanSequenceMonotone(t *testing.T) {
	ctx := context.Background()
	items := map[string]*engine.WorkItem{}
	st := store.New()
	tracer := emit.NewBufferTracer()
	eng, err := engine.New(st, engine.WithTracer(tracer))
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
	wi1 := items["step1"]
	if err := eng.StartWorkItem(ctx, wi1.ID, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := eng.CompleteWorkItem(ctx, wi1.ID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	history := tracer.GetHistory(historyTraceID(tracer, wf.ID))
	if len(history) < 2 {
		t.Fatalf("expected multiple spans recorded, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].SequenceNumber <= history[i-1].SequenceNumber {
			t.Fatalf("sequence numbers not monotone at index %d: %d <= %d", i, history[i].SequenceNumber, history[i-1].SequenceNumber)
		}
	}
}

// historyTraceID recovers the trace id the root InitializeRootWorkflow span
// landed on, since BufferTracer's own API is keyed by trace id rather than
// workflow id and the engine's public surface does not expose trace ids
// directly.
func historyTraceID(tracer *emit.BufferTracer, workflowID string) string {
	// BufferTracer starts a fresh random trace id per root call; since this
	// test issues all of its calls from the same (unparented) context in
	// sequence, each call gets its own trace. An empty trace id walks the
	// records of every trace, and the workflow.initialize span carrying this
	// workflow's id names the trace the initialization landed on.
	for _, rec := range tracer.GetHistoryWithFilter("", emit.Filter{Name: "workflow.initialize"}) {
		if rec.Attributes["workflowId"] == workflowID {
			return rec.TraceID
		}
	}
	return ""
}
