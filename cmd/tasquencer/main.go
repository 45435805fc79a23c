// Command tasquencer runs a small two-task approval workflow end to end
// against a SQLite-backed engine, printing every lifecycle transition to
// stdout. It exists to exercise the engine package the way a caller would,
// not as a production workflow host.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tiborkr/tasquencer/engine"
	"github.com/tiborkr/tasquencer/engine/emit"
	"github.com/tiborkr/tasquencer/engine/metrics"
	"github.com/tiborkr/tasquencer/engine/sched"
	"github.com/tiborkr/tasquencer/engine/store"
)

func main() {
	dbPath := flag.String("db", "./tasquencer.db", "path to the SQLite database file")
	jsonLog := flag.Bool("json", false, "emit audit spans as JSON lines instead of text")
	flag.Parse()

	if err := run(*dbPath, *jsonLog); err != nil {
		log.Fatal(err)
	}
}

func run(dbPath string, jsonLog bool) error {
	ctx := context.Background()

	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	sc := sched.New()
	defer sc.Close()

	// Fan spans out to both stdout, for a human watching the run, and the
	// SQLite store, so eng.BuildSnapshot can replay this run's audit trail
	// after the process exits.
	tracer := emit.NewMultiTracer(emit.NewLogTracer(os.Stdout, jsonLog), emit.NewStoreTracer(st))

	eng, err := engine.New(st,
		engine.WithTracer(tracer),
		engine.WithMetrics(metrics.New(nil)),
		engine.WithScheduler(sc),
	)
	if err != nil {
		return fmt.Errorf("new engine: %w", err)
	}
	if err := eng.Register(approvalWorkflow()); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	wf, err := eng.InitializeRootWorkflow(ctx, "documentApproval", nil, &engine.CorrelationContext{
		Initiator: "cli",
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	fmt.Printf("started workflow %s (%s)\n", wf.ID, wf.Name)

	reviewTask, err := eng.GetTask(ctx, wf.ID, "review")
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	fmt.Printf("task %q is %s\n", reviewTask.Name, reviewTask.State)

	wi, err := eng.GetWorkItem(ctx, reviewWorkItemID)
	if err != nil {
		return fmt.Errorf("get work item: %w", err)
	}

	approval, _ := json.Marshal(map[string]bool{"approved": true})
	if err := eng.StartWorkItem(ctx, wi.ID, nil); err != nil {
		return fmt.Errorf("start work item: %w", err)
	}
	if err := eng.CompleteWorkItem(ctx, wi.ID, approval); err != nil {
		return fmt.Errorf("complete work item: %w", err)
	}

	final, err := eng.GetWorkflow(ctx, wf.ID)
	if err != nil {
		return err
	}
	fmt.Printf("workflow %s finished in state %s\n", final.ID, final.State)

	snap, err := eng.BuildSnapshot(ctx, wf.ID, final.EndedAt.Add(time.Millisecond))
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	fmt.Printf("replayed snapshot: %d condition(s), %d task(s), %d work item(s)\n", len(snap.Conditions), len(snap.Tasks), len(snap.WorkItems))
	return nil
}

// reviewWorkItemID is stashed by the review task's OnEnabled hook below so
// this demo can look it up without a ListWorkItemsByParent round trip.
var reviewWorkItemID string

// approvalWorkflow is a minimal sequential flow: start -> review -> end,
// with a single leaf task whose one work item must complete for the task
// (and then the workflow) to complete.
func approvalWorkflow() *engine.WorkflowDef {
	return &engine.WorkflowDef{
		Name:           "documentApproval",
		VersionName:    "v1",
		StartCondition: "start",
		EndCondition:   "end",
		Conditions: map[string]*engine.ConditionDef{
			"start": {Name: "start"},
			"end":   {Name: "end"},
		},
		Tasks: map[string]*engine.TaskDef{
			"review": {
				Name:     "review",
				Kind:     engine.KindLeaf,
				Join:     engine.JoinAnd,
				Split:    engine.SplitAnd,
				Incoming: []string{"start"},
				Outgoing: []string{"end"},
				Activities: engine.TaskActivities{
					OnEnabled: func(ctx context.Context, h *engine.TaskHandle) error {
						wi, err := h.InitWorkItem(ctx, "approve-document")
						if err != nil {
							return err
						}
						reviewWorkItemID = wi.ID
						return nil
					},
				},
			},
		},
	}
}
