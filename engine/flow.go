package engine

import (
	"context"
	"sort"
)

// WorkflowDef is the immutable static topology of a workflow: its
// conditions, tasks, and the flows between them. It is produced by an
// external builder DSL (out of scope here, per spec §1); the engine only
// consumes the resulting graph.
type WorkflowDef struct {
	Name        string
	VersionName string

	StartCondition string
	EndCondition   string

	Conditions map[string]*ConditionDef
	Tasks      map[string]*TaskDef

	// TaskOrder fixes the iteration order over Tasks that token cascades
	// and other multi-task walks use (spec §5, ordering guarantees: Go map
	// iteration is randomized and must never drive engine behavior).
	// Register populates it from sorted task names when left nil, so a
	// definition built with a plain map literal still gets a stable,
	// repeatable order; callers that need a specific declaration order
	// (e.g. to pick which sibling of a deferred choice is considered
	// first) set it explicitly.
	TaskOrder []string

	// Actions carries the workflow-level lifecycle hooks: Initialize
	// validates/consumes the initialize() payload, OnInitialized and
	// OnCompleted are invoked after the corresponding transitions.
	Actions WorkflowActions
}

// ConditionDef declares one place in the net.
type ConditionDef struct {
	Name       string
	IsImplicit bool
}

// TaskKind discriminates the tagged union described in spec §9:
// BaseTask -> {Task, CompositeTask, DynamicCompositeTask}.
type TaskKind int

const (
	KindLeaf TaskKind = iota
	KindComposite
	KindDynamicComposite
)

// TaskDef declares one transition and its static configuration. Incoming
// and outgoing flows are expressed as condition names; CancellationRegion
// names tasks and conditions that are force-terminated when this task
// completes.
type TaskDef struct {
	Name  string
	Kind  TaskKind
	Join  JoinType
	Split SplitType

	Incoming []string // condition names feeding this task
	Outgoing []string // condition names this task can produce tokens on

	CancellationRegionTasks      []string
	CancellationRegionConditions []string

	// Router resolves an XOR/OR split into one or more Routings. Required
	// when Split is SplitXor or SplitOr.
	Router Router

	// Policy governs leaf-task completion; if nil, DefaultPolicy is used.
	Policy Policy

	// Activities are the task-level lifecycle callbacks.
	Activities TaskActivities

	// WorkItemActivities are the lifecycle callbacks for every work item
	// this (leaf) task initialises.
	WorkItemActivities WorkItemActivities

	// Child is the workflow definition instantiated by a CompositeTask.
	Child *WorkflowDef

	// Children names the workflow definitions a DynamicCompositeTask may
	// instantiate, keyed by the name passed to workflow.initialize(name).
	Children map[string]*WorkflowDef

	// CompositePolicy governs when a composite task completes/fails based
	// on its child workflow(s) state, consulted on terminal child states.
	CompositePolicy CompositePolicy
}

// orderedTasks returns the definition's tasks in TaskOrder. Register always
// populates TaskOrder before a definition is usable, but definitions
// constructed ad hoc (tests, unregistered child defs) fall back to a
// sorted-by-name walk rather than raw map iteration, so behavior never
// varies between runs even if Register was skipped.
func (d *WorkflowDef) orderedTasks() []*TaskDef {
	order := d.TaskOrder
	if len(order) != len(d.Tasks) {
		order = make([]string, 0, len(d.Tasks))
		for name := range d.Tasks {
			order = append(order, name)
		}
		sort.Strings(order)
	}
	tasks := make([]*TaskDef, 0, len(order))
	for _, name := range order {
		if t, ok := d.Tasks[name]; ok {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// Routing names a single outgoing target produced by a split router. Task
// targets are converted to the implicit input condition of that task by
// the firing algorithm (spec §4.2, Firing algorithm, step 4).
type Routing struct {
	ConditionName string
	TaskName      string
}

// ToCondition builds a Routing that targets a condition directly.
func ToCondition(name string) Routing { return Routing{ConditionName: name} }

// ToTask builds a Routing that targets a task's implicit input condition.
func ToTask(name string) Routing { return Routing{TaskName: name} }

// RouteCtx is passed to a Router so it can build Routings without
// hand-rolling ToTask/ToCondition calls inline.
type RouteCtx struct {
	ToTask      func(name string) Routing
	ToCondition func(name string) Routing
}

func newRouteCtx() RouteCtx {
	return RouteCtx{ToTask: ToTask, ToCondition: ToCondition}
}

// Router resolves an XOR/OR split. XOR must return exactly one Routing;
// OR returns an ordered, deduplicated set.
type Router interface {
	Route(ctx context.Context, route RouteCtx) ([]Routing, error)
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, route RouteCtx) ([]Routing, error)

func (f RouterFunc) Route(ctx context.Context, route RouteCtx) ([]Routing, error) {
	return f(ctx, route)
}

// PolicyDecision is the verdict a Policy returns for a leaf task given its
// current work items.
type PolicyDecision int

const (
	PolicyContinue PolicyDecision = iota
	PolicyComplete
	PolicyFail
)

// Policy decides whether a leaf task should continue waiting, complete, or
// fail, given a summary of its work items' states.
type Policy interface {
	Evaluate(ctx context.Context, summary WorkItemSummary) PolicyDecision
}

// WorkItemSummary is the input to Policy.Evaluate.
type WorkItemSummary struct {
	Total     int
	ByState   map[WorkItemState]int
}

// DefaultPolicy implements spec §4.3's default: complete when all work
// items are finalised and at least one completed; fail when any failed.
type defaultPolicy struct{}

// DefaultPolicy is the engine's built-in leaf-task policy.
var DefaultPolicy Policy = defaultPolicy{}

func (defaultPolicy) Evaluate(_ context.Context, s WorkItemSummary) PolicyDecision {
	if s.ByState[WorkItemFailed] > 0 {
		return PolicyFail
	}
	finalized := s.ByState[WorkItemCompleted] + s.ByState[WorkItemFailed] + s.ByState[WorkItemCanceled]
	if finalized == s.Total && s.ByState[WorkItemCompleted] > 0 {
		return PolicyComplete
	}
	return PolicyContinue
}

// CompositePolicy decides whether a composite task should complete or fail
// based on its child workflow(s) terminal state(s) (spec §4.4).
type CompositePolicy interface {
	Evaluate(ctx context.Context, children []ChildWorkflowSummary) PolicyDecision
}

// ChildWorkflowSummary summarises one child workflow instance owned by a
// composite/dynamic-composite task.
type ChildWorkflowSummary struct {
	WorkflowID string
	Name       string
	State      WorkflowState
}

// CompositePolicyFunc adapts a function to CompositePolicy.
type CompositePolicyFunc func(ctx context.Context, children []ChildWorkflowSummary) PolicyDecision

func (f CompositePolicyFunc) Evaluate(ctx context.Context, c []ChildWorkflowSummary) PolicyDecision {
	return f(ctx, c)
}
