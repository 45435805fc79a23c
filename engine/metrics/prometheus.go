// Package metrics provides a Prometheus-backed engine.Metrics, grounded on
// the teacher's graph.PrometheusMetrics gauge/counter/histogram set,
// relabeled from node-execution terms (run_id, node_id) to Tasquencer's
// workflow/task vocabulary.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tiborkr/tasquencer/engine"
)

// Prometheus is a reference engine.Metrics implementation that exposes
// Tasquencer lifecycle counters and latencies under the "tasquencer_"
// namespace.
//
// Metrics exposed:
//
//  1. tasks_enabled_total (counter): tasks transitioned disabled→enabled.
//     Labels: workflow, task.
//  2. task_state_total (counter): task state transitions.
//     Labels: workflow, task, from, to.
//  3. work_item_state_total (counter): work item state transitions.
//     Labels: workflow, task, from, to.
//  4. workflow_state_total (counter): workflow state transitions.
//     Labels: workflow, from, to.
//  5. step_latency_ms (histogram): task step duration in milliseconds.
//     Labels: workflow, task. Buckets tuned for sub-second to
//     multi-minute human/activity steps.
//  6. scheduler_backlog (gauge): pending deferred-callback count reported
//     by a sched.Scheduler.
type Prometheus struct {
	tasksEnabled     *prometheus.CounterVec
	taskState        *prometheus.CounterVec
	workItemState    *prometheus.CounterVec
	workflowState    *prometheus.CounterVec
	stepLatency      *prometheus.HistogramVec
	schedulerBacklog prometheus.Gauge
}

// New creates and registers the Tasquencer metric set with registry. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation.
func New(registry prometheus.Registerer) *Prometheus {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Prometheus{
		tasksEnabled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasquencer",
			Name:      "tasks_enabled_total",
			Help:      "Cumulative count of task enablements",
		}, []string{"workflow", "task"}),

		taskState: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasquencer",
			Name:      "task_state_total",
			Help:      "Cumulative count of task state transitions",
		}, []string{"workflow", "task", "from", "to"}),

		workItemState: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasquencer",
			Name:      "work_item_state_total",
			Help:      "Cumulative count of work item state transitions",
		}, []string{"workflow", "task", "from", "to"}),

		workflowState: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tasquencer",
			Name:      "workflow_state_total",
			Help:      "Cumulative count of workflow state transitions",
		}, []string{"workflow", "from", "to"}),

		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tasquencer",
			Name:      "step_latency_ms",
			Help:      "Task step duration in milliseconds, from start to completed, failed or canceled",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000, 300000},
		}, []string{"workflow", "task"}),

		schedulerBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tasquencer",
			Name:      "scheduler_backlog",
			Help:      "Number of deferred callbacks currently pending in the scheduler",
		}),
	}
}

func (p *Prometheus) TaskEnabled(workflowName, taskName string) {
	p.tasksEnabled.WithLabelValues(workflowName, taskName).Inc()
}

func (p *Prometheus) TaskStateChanged(workflowName, taskName string, from, to engine.TaskState) {
	p.taskState.WithLabelValues(workflowName, taskName, from.String(), to.String()).Inc()
}

func (p *Prometheus) WorkItemStateChanged(workflowName, taskName string, from, to engine.WorkItemState) {
	p.workItemState.WithLabelValues(workflowName, taskName, from.String(), to.String()).Inc()
}

func (p *Prometheus) WorkflowStateChanged(workflowName string, from, to engine.WorkflowState) {
	p.workflowState.WithLabelValues(workflowName, from.String(), to.String()).Inc()
}

func (p *Prometheus) StepLatency(workflowName, taskName string, d time.Duration) {
	p.stepLatency.WithLabelValues(workflowName, taskName).Observe(float64(d.Milliseconds()))
}

func (p *Prometheus) SchedulerBacklog(n int) {
	p.schedulerBacklog.Set(float64(n))
}
