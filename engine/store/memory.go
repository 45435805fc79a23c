// Package store provides reference engine.Store implementations: an
// in-memory map-backed store for tests and single-process deployments,
// and SQLite/MySQL-backed stores for durable single-node and
// networked deployments respectively.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tiborkr/tasquencer/engine"
)

// MemStore is an in-memory engine.Store. It is thread-safe and, like the
// teacher's MemStore, is designed for tests, development, and short-lived
// processes rather than durable production use.
type MemStore struct {
	mu sync.RWMutex

	workflows map[string]*engine.Workflow

	conditions       map[string]*engine.Condition // by id
	conditionsByName map[string]string            // "workflowID:name" -> condition id

	tasks       map[string]*engine.Task // by id
	tasksByName map[string]string       // "workflowID:name" -> task id
	taskLog     map[string][]engine.TaskStateLogEntry

	workItems map[string]*engine.WorkItem // by id

	shards map[string]*engine.StatsShard // "workflowID:taskName:generation"

	migrations map[string]*engine.MigrationRecord // fromWorkflowID -> record

	auditTraces    map[string]*engine.AuditTrace
	auditSpans     map[string]*engine.AuditSpan   // by spanID
	auditByTrace   map[string][]string            // traceID -> spanIDs in insertion order
	auditContexts  map[string]*engine.AuditContext // workflowID -> context
	auditSpanLinks map[string][]*engine.AuditSpanLink // spanID -> links
	auditSnapshots map[string][]*engine.AuditWorkflowSnapshot // workflowID -> snapshots
}

// New creates an empty MemStore.
func New() *MemStore {
	return &MemStore{
		workflows:        make(map[string]*engine.Workflow),
		conditions:       make(map[string]*engine.Condition),
		conditionsByName: make(map[string]string),
		tasks:            make(map[string]*engine.Task),
		tasksByName:      make(map[string]string),
		taskLog:          make(map[string][]engine.TaskStateLogEntry),
		workItems:        make(map[string]*engine.WorkItem),
		shards:           make(map[string]*engine.StatsShard),
		migrations:       make(map[string]*engine.MigrationRecord),

		auditTraces:    make(map[string]*engine.AuditTrace),
		auditSpans:     make(map[string]*engine.AuditSpan),
		auditByTrace:   make(map[string][]string),
		auditContexts:  make(map[string]*engine.AuditContext),
		auditSpanLinks: make(map[string][]*engine.AuditSpanLink),
		auditSnapshots: make(map[string][]*engine.AuditWorkflowSnapshot),
	}
}

func condKey(workflowID, name string) string { return workflowID + ":" + name }
func taskKey(workflowID, name string) string { return workflowID + ":" + name }
func shardKey(workflowID, taskName string, generation int) string {
	return workflowID + ":" + taskName + ":" + itoa(generation)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// --- Workflows ---

func (m *MemStore) CreateWorkflow(_ context.Context, wf *engine.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *MemStore) GetWorkflow(_ context.Context, id string) (*engine.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, engine.ErrNotFound("workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (m *MemStore) UpdateWorkflowState(_ context.Context, id string, state engine.WorkflowState, startedAt, endedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return engine.ErrNotFound("workflow", id)
	}
	wf.State = state
	if startedAt != nil {
		wf.StartedAt = startedAt
	}
	if endedAt != nil {
		wf.EndedAt = endedAt
	}
	return nil
}

func (m *MemStore) ListWorkflowsByParent(_ context.Context, parentWorkflowID, taskName string, generation int) ([]*engine.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.Workflow
	for _, wf := range m.workflows {
		if wf.Parent == nil {
			continue
		}
		if wf.Parent.WorkflowID == parentWorkflowID && wf.Parent.TaskName == taskName && wf.Parent.Generation == generation {
			cp := *wf
			out = append(out, &cp)
		}
	}
	sortWorkflowsByCreatedAt(out)
	return out, nil
}

func (m *MemStore) ListWorkflowsByNameAndState(_ context.Context, name string, state engine.WorkflowState) ([]*engine.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.Workflow
	for _, wf := range m.workflows {
		if wf.Name == name && wf.State == state {
			cp := *wf
			out = append(out, &cp)
		}
	}
	sortWorkflowsByCreatedAt(out)
	return out, nil
}

func sortWorkflowsByCreatedAt(wfs []*engine.Workflow) {
	sort.Slice(wfs, func(i, j int) bool { return wfs[i].CreatedAt.Before(wfs[j].CreatedAt) })
}

// --- Conditions ---

func (m *MemStore) CreateCondition(_ context.Context, c *engine.Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.conditions[c.ID] = &cp
	m.conditionsByName[condKey(c.WorkflowID, c.Name)] = c.ID
	return nil
}

func (m *MemStore) GetConditionByName(_ context.Context, workflowID, name string) (*engine.Condition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.conditionsByName[condKey(workflowID, name)]
	if !ok {
		return nil, engine.ErrNotFound("condition", name)
	}
	cp := *m.conditions[id]
	return &cp, nil
}

func (m *MemStore) UpdateConditionMarking(_ context.Context, id string, marking int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conditions[id]
	if !ok {
		return engine.ErrNotFound("condition", id)
	}
	c.Marking = marking
	return nil
}

func (m *MemStore) ListConditions(_ context.Context, workflowID string) ([]*engine.Condition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.Condition
	for _, c := range m.conditions {
		if c.WorkflowID == workflowID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Tasks ---

func (m *MemStore) CreateTask(_ context.Context, t *engine.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	m.tasksByName[taskKey(t.WorkflowID, t.Name)] = t.ID
	return nil
}

func (m *MemStore) GetTaskByName(_ context.Context, workflowID, name string) (*engine.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tasksByName[taskKey(workflowID, name)]
	if !ok {
		return nil, engine.ErrNotFound("task", name)
	}
	cp := *m.tasks[id]
	return &cp, nil
}

func (m *MemStore) UpdateTask(_ context.Context, t *engine.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return engine.ErrNotFound("task", t.ID)
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MemStore) ListTasks(_ context.Context, workflowID string) ([]*engine.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.Task
	for _, t := range m.tasks {
		if t.WorkflowID == workflowID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) ListTasksByState(_ context.Context, workflowID string, state engine.TaskState) ([]*engine.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.Task
	for _, t := range m.tasks {
		if t.WorkflowID == workflowID && t.State == state {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Task state log ---

func (m *MemStore) AppendTaskStateLog(_ context.Context, entry engine.TaskStateLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := taskKey(entry.WorkflowID, entry.TaskName)
	m.taskLog[k] = append(m.taskLog[k], entry)
	return nil
}

func (m *MemStore) LatestTaskStateLog(_ context.Context, workflowID, taskName string) (*engine.TaskStateLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.taskLog[taskKey(workflowID, taskName)]
	if len(entries) == 0 {
		return nil, engine.ErrNotFound("taskStateLog", taskName)
	}
	e := entries[len(entries)-1]
	return &e, nil
}

func (m *MemStore) ListTaskStateLog(_ context.Context, workflowID, taskName string, generation int) ([]engine.TaskStateLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.TaskStateLogEntry
	for _, e := range m.taskLog[taskKey(workflowID, taskName)] {
		if e.Generation == generation {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- Work items ---

func (m *MemStore) CreateWorkItem(_ context.Context, wi *engine.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wi
	m.workItems[wi.ID] = &cp
	return nil
}

func (m *MemStore) GetWorkItem(_ context.Context, id string) (*engine.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wi, ok := m.workItems[id]
	if !ok {
		return nil, engine.ErrNotFound("workItem", id)
	}
	cp := *wi
	return &cp, nil
}

func (m *MemStore) UpdateWorkItemState(_ context.Context, id string, state engine.WorkItemState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wi, ok := m.workItems[id]
	if !ok {
		return engine.ErrNotFound("workItem", id)
	}
	wi.State = state
	return nil
}

func (m *MemStore) ListWorkItemsByParent(_ context.Context, parent engine.ParentRef) ([]*engine.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.WorkItem
	for _, wi := range m.workItems {
		if wi.Parent == parent {
			cp := *wi
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) ListWorkItemsByParentAndState(_ context.Context, parent engine.ParentRef, state engine.WorkItemState) ([]*engine.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.WorkItem
	for _, wi := range m.workItems {
		if wi.Parent == parent && wi.State == state {
			cp := *wi
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Stats shards ---

func (m *MemStore) EnsureStatsShard(_ context.Context, workflowID, taskName string, generation int) (*engine.StatsShard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := shardKey(workflowID, taskName, generation)
	if s, ok := m.shards[k]; ok {
		return s, nil
	}
	s := engine.NewStatsShard(workflowID, taskName, generation, 0)
	m.shards[k] = s
	return s, nil
}

func (m *MemStore) GetStatsShard(_ context.Context, workflowID, taskName string, generation int) (*engine.StatsShard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shards[shardKey(workflowID, taskName, generation)]
	if !ok {
		return nil, engine.ErrNotFound("statsShard", shardKey(workflowID, taskName, generation))
	}
	return s, nil
}

func (m *MemStore) SaveStatsShard(_ context.Context, s *engine.StatsShard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shards[shardKey(s.WorkflowID, s.TaskName, s.Generation)] = s
	return nil
}

// --- Migration ---

func (m *MemStore) GetMigrationRecord(_ context.Context, fromWorkflowID string) (*engine.MigrationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.migrations[fromWorkflowID]
	if !ok {
		return nil, engine.ErrNotFound("migrationRecord", fromWorkflowID)
	}
	cp := *rec
	return &cp, nil
}

// SaveMigrationRecord is a MemStore-only convenience for tests and
// migration tooling to seed a predecessor/successor pairing.
func (m *MemStore) SaveMigrationRecord(rec *engine.MigrationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.migrations[rec.FromWorkflowID] = &cp
}

// --- Audit traces ---

func (m *MemStore) CreateAuditTrace(_ context.Context, t *engine.AuditTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.auditTraces[t.TraceID]; ok {
		return nil // idempotent: traceId == workflowId may be re-created on retry
	}
	cp := *t
	m.auditTraces[t.TraceID] = &cp
	return nil
}

func (m *MemStore) GetAuditTrace(_ context.Context, traceID string) (*engine.AuditTrace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.auditTraces[traceID]
	if !ok {
		return nil, engine.ErrNotFound("auditTrace", traceID)
	}
	cp := *t
	return &cp, nil
}

func (m *MemStore) ListRecentAuditTraces(_ context.Context, limit int) ([]*engine.AuditTrace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*engine.AuditTrace, 0, len(m.auditTraces))
	for _, t := range m.auditTraces {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Audit spans ---

func (m *MemStore) SaveAuditSpan(_ context.Context, s *engine.AuditSpan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.auditSpans[s.SpanID]; !ok {
		m.auditByTrace[s.TraceID] = append(m.auditByTrace[s.TraceID], s.SpanID)
	}
	cp := *s
	m.auditSpans[s.SpanID] = &cp
	return nil
}

func (m *MemStore) GetAuditSpan(_ context.Context, spanID string) (*engine.AuditSpan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.auditSpans[spanID]
	if !ok {
		return nil, engine.ErrNotFound("auditSpan", spanID)
	}
	cp := *s
	return &cp, nil
}

func (m *MemStore) ListAuditSpansByTrace(_ context.Context, traceID string) ([]*engine.AuditSpan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.auditByTrace[traceID]
	out := make([]*engine.AuditSpan, 0, len(ids))
	for _, id := range ids {
		cp := *m.auditSpans[id]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *MemStore) ListAuditSpansByResource(_ context.Context, resource string) ([]*engine.AuditSpan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.AuditSpan
	for _, s := range m.auditSpans {
		if s.Resource == resource {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *MemStore) ListAuditSpansByTimeRange(_ context.Context, start, end time.Time) ([]*engine.AuditSpan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*engine.AuditSpan
	for _, s := range m.auditSpans {
		if s.StartedAt.Before(start) || s.StartedAt.After(end) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// --- Audit cross-step context ---

func (m *MemStore) SaveAuditContext(_ context.Context, c *engine.AuditContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.auditContexts[c.WorkflowID] = &cp
	return nil
}

func (m *MemStore) GetAuditContext(_ context.Context, workflowID string) (*engine.AuditContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.auditContexts[workflowID]
	if !ok {
		return nil, engine.ErrNotFound("auditContext", workflowID)
	}
	cp := *c
	return &cp, nil
}

// --- Audit span links ---

func (m *MemStore) CreateAuditSpanLink(_ context.Context, l *engine.AuditSpanLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.auditSpanLinks[l.SpanID] = append(m.auditSpanLinks[l.SpanID], &cp)
	return nil
}

func (m *MemStore) ListAuditSpanLinks(_ context.Context, spanID string) ([]*engine.AuditSpanLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	links := m.auditSpanLinks[spanID]
	out := make([]*engine.AuditSpanLink, len(links))
	for i, l := range links {
		cp := *l
		out[i] = &cp
	}
	return out, nil
}

// --- Audit workflow snapshots ---

func (m *MemStore) SaveAuditWorkflowSnapshot(_ context.Context, s *engine.AuditWorkflowSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.auditSnapshots[s.WorkflowID] = append(m.auditSnapshots[s.WorkflowID], &cp)
	return nil
}

func (m *MemStore) GetLatestAuditWorkflowSnapshot(_ context.Context, workflowID string, at time.Time) (*engine.AuditWorkflowSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *engine.AuditWorkflowSnapshot
	for _, s := range m.auditSnapshots[workflowID] {
		if s.At.After(at) {
			continue
		}
		if best == nil || s.At.After(best.At) {
			best = s
		}
	}
	if best == nil {
		return nil, engine.ErrNotFound("auditWorkflowSnapshot", workflowID)
	}
	cp := *best
	return &cp, nil
}

func (m *MemStore) ListAuditWorkflowSnapshots(_ context.Context, workflowID string) ([]*engine.AuditWorkflowSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := m.auditSnapshots[workflowID]
	out := make([]*engine.AuditWorkflowSnapshot, len(snaps))
	for i, s := range snaps {
		cp := *s
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}
