package engine

import "time"

// Metrics is the telemetry sink the engine reports lifecycle counters and
// latencies to (spec §2, observability). A reference Prometheus-backed
// implementation ships in the sibling `metrics` package, grounded on the
// teacher's graph/metrics.go gauge/histogram set.
type Metrics interface {
	TaskEnabled(workflowName, taskName string)
	TaskStateChanged(workflowName, taskName string, from, to TaskState)
	WorkItemStateChanged(workflowName, taskName string, from, to WorkItemState)
	WorkflowStateChanged(workflowName string, from, to WorkflowState)
	StepLatency(workflowName, taskName string, d time.Duration)
	SchedulerBacklog(n int)
}

// noopMetrics discards everything; it is the engine's default.
type noopMetrics struct{}

func (noopMetrics) TaskEnabled(string, string)                               {}
func (noopMetrics) TaskStateChanged(string, string, TaskState, TaskState)     {}
func (noopMetrics) WorkItemStateChanged(string, string, WorkItemState, WorkItemState) {}
func (noopMetrics) WorkflowStateChanged(string, WorkflowState, WorkflowState) {}
func (noopMetrics) StepLatency(string, string, time.Duration)                {}
func (noopMetrics) SchedulerBacklog(int)                                     {}
