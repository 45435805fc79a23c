package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tiborkr/tasquencer/engine"
)

// sqlStore implements engine.Store over a *sql.DB using ?-placeholder
// SQL, shared by SQLiteStore and MySQLStore since both drivers speak the
// same placeholder dialect. Timestamps are stored as RFC3339Nano text so
// the same schema and queries work unmodified against SQLite and MySQL;
// only DDL key-column types and the upsert statements differ enough
// between the two to need a dialect switch.
type sqlStore struct {
	db      *sql.DB
	dialect string // "sqlite" | "mysql"
}

func (s *sqlStore) upsertStatsShard() string {
	if s.dialect == "mysql" {
		return `
			INSERT INTO tq_stats_shards (workflow_id, task_name, generation, shard_index, work_item_counts_json, child_wf_counts_json, applied_transitions_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				work_item_counts_json = VALUES(work_item_counts_json),
				child_wf_counts_json = VALUES(child_wf_counts_json),
				applied_transitions_json = VALUES(applied_transitions_json)
		`
	}
	return `
		INSERT INTO tq_stats_shards (workflow_id, task_name, generation, shard_index, work_item_counts_json, child_wf_counts_json, applied_transitions_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, task_name, generation, shard_index) DO UPDATE SET
			work_item_counts_json = excluded.work_item_counts_json,
			child_wf_counts_json = excluded.child_wf_counts_json,
			applied_transitions_json = excluded.applied_transitions_json
	`
}

func (s *sqlStore) upsertAuditContext() string {
	if s.dialect == "mysql" {
		return `
			INSERT INTO tq_audit_contexts (workflow_id, trace_id, correlation_id, span_id, depth, path_json, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				trace_id = VALUES(trace_id), correlation_id = VALUES(correlation_id), span_id = VALUES(span_id),
				depth = VALUES(depth), path_json = VALUES(path_json), updated_at = VALUES(updated_at)
		`
	}
	return `
		INSERT INTO tq_audit_contexts (workflow_id, trace_id, correlation_id, span_id, depth, path_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			trace_id = excluded.trace_id, correlation_id = excluded.correlation_id, span_id = excluded.span_id,
			depth = excluded.depth, path_json = excluded.path_json, updated_at = excluded.updated_at
	`
}

func (s *sqlStore) upsertAuditSpan() string {
	if s.dialect == "mysql" {
		return `
			INSERT INTO tq_audit_spans
			(span_id, parent_span_id, trace_id, depth, path_json, operation, operation_type, resource, state, started_at, ended_at, duration_ms, sequence_number, attributes_json, events_json, error, causation_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				parent_span_id = VALUES(parent_span_id), depth = VALUES(depth), path_json = VALUES(path_json),
				operation = VALUES(operation), operation_type = VALUES(operation_type), resource = VALUES(resource),
				state = VALUES(state), started_at = VALUES(started_at), ended_at = VALUES(ended_at),
				duration_ms = VALUES(duration_ms), sequence_number = VALUES(sequence_number),
				attributes_json = VALUES(attributes_json), events_json = VALUES(events_json),
				error = VALUES(error), causation_id = VALUES(causation_id)
		`
	}
	return `
		INSERT INTO tq_audit_spans
		(span_id, parent_span_id, trace_id, depth, path_json, operation, operation_type, resource, state, started_at, ended_at, duration_ms, sequence_number, attributes_json, events_json, error, causation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(span_id) DO UPDATE SET
			parent_span_id = excluded.parent_span_id, depth = excluded.depth, path_json = excluded.path_json,
			operation = excluded.operation, operation_type = excluded.operation_type, resource = excluded.resource,
			state = excluded.state, started_at = excluded.started_at, ended_at = excluded.ended_at,
			duration_ms = excluded.duration_ms, sequence_number = excluded.sequence_number,
			attributes_json = excluded.attributes_json, events_json = excluded.events_json,
			error = excluded.error, causation_id = excluded.causation_id
	`
}

func (s *sqlStore) upsertMigrationRecord() string {
	if s.dialect == "mysql" {
		return `
			INSERT INTO tq_migrations (from_workflow_id, to_workflow_id, payload)
			VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE to_workflow_id = VALUES(to_workflow_id), payload = VALUES(payload)
		`
	}
	return `
		INSERT INTO tq_migrations (from_workflow_id, to_workflow_id, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(from_workflow_id) DO UPDATE SET to_workflow_id = excluded.to_workflow_id, payload = excluded.payload
	`
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// idType is the SQL type used for id/name columns that participate in a
// primary key or unique index: MySQL's InnoDB requires a bounded key
// length, so those columns are VARCHAR(191) under mysql and plain TEXT
// (unbounded, indexable) under sqlite.
func schemaDDL(dialect string) string {
	idType := "TEXT"
	if dialect == "mysql" {
		idType = "VARCHAR(191)"
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS tq_workflows (
	id %[1]s PRIMARY KEY,
	name %[1]s NOT NULL,
	version_name TEXT NOT NULL,
	path_json TEXT NOT NULL,
	realized_path_json TEXT NOT NULL,
	parent_workflow_id %[1]s,
	parent_task_name %[1]s,
	parent_generation INTEGER,
	state %[1]s NOT NULL,
	root_workflow_id %[1]s NOT NULL,
	created_at TEXT NOT NULL,
	started_at TEXT,
	ended_at TEXT
);
CREATE INDEX idx_tq_workflows_parent ON tq_workflows(parent_workflow_id, parent_task_name, parent_generation);
CREATE INDEX idx_tq_workflows_name_state ON tq_workflows(name, state);

CREATE TABLE IF NOT EXISTS tq_conditions (
	id %[1]s PRIMARY KEY,
	workflow_id %[1]s NOT NULL,
	name %[1]s NOT NULL,
	marking INTEGER NOT NULL,
	is_implicit INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(workflow_id, name)
);

CREATE TABLE IF NOT EXISTS tq_tasks (
	id %[1]s PRIMARY KEY,
	workflow_id %[1]s NOT NULL,
	name %[1]s NOT NULL,
	state %[1]s NOT NULL,
	generation INTEGER NOT NULL,
	join_type %[1]s NOT NULL,
	split_type %[1]s NOT NULL,
	execution_mode %[1]s NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(workflow_id, name)
);
CREATE INDEX idx_tq_tasks_state ON tq_tasks(workflow_id, state);

CREATE TABLE IF NOT EXISTS tq_task_state_log (
	workflow_id %[1]s NOT NULL,
	task_name %[1]s NOT NULL,
	generation INTEGER NOT NULL,
	state %[1]s NOT NULL,
	at TEXT NOT NULL
);
CREATE INDEX idx_tq_task_log_lookup ON tq_task_state_log(workflow_id, task_name, generation);

CREATE TABLE IF NOT EXISTS tq_work_items (
	id %[1]s PRIMARY KEY,
	name TEXT NOT NULL,
	state %[1]s NOT NULL,
	workflow_id %[1]s NOT NULL,
	task_name %[1]s NOT NULL,
	generation INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX idx_tq_work_items_parent ON tq_work_items(workflow_id, task_name, generation);

CREATE TABLE IF NOT EXISTS tq_stats_shards (
	workflow_id %[1]s NOT NULL,
	task_name %[1]s NOT NULL,
	generation INTEGER NOT NULL,
	shard_index INTEGER NOT NULL,
	work_item_counts_json TEXT NOT NULL,
	child_wf_counts_json TEXT NOT NULL,
	applied_transitions_json TEXT NOT NULL,
	PRIMARY KEY (workflow_id, task_name, generation, shard_index)
);

CREATE TABLE IF NOT EXISTS tq_migrations (
	from_workflow_id %[1]s PRIMARY KEY,
	to_workflow_id %[1]s NOT NULL,
	payload TEXT
);

CREATE TABLE IF NOT EXISTS tq_audit_traces (
	trace_id %[1]s PRIMARY KEY,
	root_workflow_id %[1]s NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT
);

CREATE TABLE IF NOT EXISTS tq_audit_spans (
	span_id %[1]s PRIMARY KEY,
	parent_span_id %[1]s,
	trace_id %[1]s NOT NULL,
	depth INTEGER NOT NULL,
	path_json TEXT NOT NULL,
	operation %[1]s NOT NULL,
	operation_type %[1]s NOT NULL,
	resource %[1]s NOT NULL,
	state %[1]s NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	duration_ms INTEGER NOT NULL,
	sequence_number INTEGER NOT NULL,
	attributes_json TEXT NOT NULL,
	events_json TEXT NOT NULL,
	error TEXT,
	causation_id %[1]s
);
CREATE INDEX idx_tq_audit_spans_trace ON tq_audit_spans(trace_id, sequence_number);
CREATE INDEX idx_tq_audit_spans_resource ON tq_audit_spans(resource);
CREATE INDEX idx_tq_audit_spans_started ON tq_audit_spans(started_at);

CREATE TABLE IF NOT EXISTS tq_audit_contexts (
	workflow_id %[1]s PRIMARY KEY,
	trace_id %[1]s NOT NULL,
	correlation_id %[1]s,
	span_id %[1]s,
	depth INTEGER NOT NULL,
	path_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tq_audit_span_links (
	span_id %[1]s NOT NULL,
	caused_by %[1]s NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX idx_tq_audit_span_links_span ON tq_audit_span_links(span_id);

CREATE TABLE IF NOT EXISTS tq_audit_workflow_snapshots (
	workflow_id %[1]s NOT NULL,
	at TEXT NOT NULL,
	snapshot_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX idx_tq_audit_workflow_snapshots_wf ON tq_audit_workflow_snapshots(workflow_id, at);
`, idType)
}

// createTables applies the schema. Index creation uses a plain CREATE
// INDEX (no IF NOT EXISTS: MySQL lacks that clause for indexes), so a
// second call against an already-migrated database hits duplicate
// table/index errors; createTables skips those (isDuplicateSchemaErr) and
// so treats the schema as already migrated.
func (s *sqlStore) createTables(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaDDL(s.dialect)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateSchemaErr(err) {
				continue
			}
			return fmt.Errorf("tasquencer: create schema: %w", err)
		}
	}
	return nil
}

// isDuplicateSchemaErr reports whether err is a "table/index already
// exists" error from a prior createTables call against the same
// database, which is expected and not a real failure.
func isDuplicateSchemaErr(err error) bool {
	msg := err.Error()
	return contains(msg, "already exists") || contains(msg, "Duplicate key name") || contains(msg, "duplicate column name")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func splitStatements(ddl string) []string {
	var out []string
	start := 0
	for i := 0; i < len(ddl); i++ {
		if ddl[i] == ';' {
			stmt := ddl[start:i]
			start = i + 1
			trimmed := trimSpace(stmt)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && isSpace(s[i]) {
		i++
	}
	for j > i && isSpace(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isSpace(b byte) bool { return b == ' ' || b == '\n' || b == '\t' || b == '\r' }

// --- Workflows ---

func (s *sqlStore) CreateWorkflow(ctx context.Context, wf *engine.Workflow) error {
	pathJSON, err := json.Marshal(wf.Path)
	if err != nil {
		return err
	}
	realizedJSON, err := json.Marshal(wf.RealizedPath)
	if err != nil {
		return err
	}
	var parentWFID, parentTask sql.NullString
	var parentGen sql.NullInt64
	if wf.Parent != nil {
		parentWFID = sql.NullString{String: wf.Parent.WorkflowID, Valid: true}
		parentTask = sql.NullString{String: wf.Parent.TaskName, Valid: true}
		parentGen = sql.NullInt64{Int64: int64(wf.Parent.Generation), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tq_workflows
		(id, name, version_name, path_json, realized_path_json, parent_workflow_id, parent_task_name, parent_generation, state, root_workflow_id, created_at, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, wf.ID, wf.Name, wf.VersionName, string(pathJSON), string(realizedJSON), parentWFID, parentTask, parentGen,
		string(wf.State), wf.RootWorkflowID, formatTime(wf.CreatedAt), formatTimePtr(wf.StartedAt), formatTimePtr(wf.EndedAt))
	if err != nil {
		return fmt.Errorf("tasquencer: create workflow: %w", err)
	}
	return nil
}

func (s *sqlStore) scanWorkflow(row *sql.Row) (*engine.Workflow, error) {
	var wf engine.Workflow
	var pathJSON, realizedJSON string
	var parentWFID, parentTask sql.NullString
	var parentGen sql.NullInt64
	var createdAt string
	var startedAt, endedAt sql.NullString
	err := row.Scan(&wf.ID, &wf.Name, &wf.VersionName, &pathJSON, &realizedJSON, &parentWFID, &parentTask, &parentGen,
		&wf.State, &wf.RootWorkflowID, &createdAt, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("workflow", "")
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: scan workflow: %w", err)
	}
	if err := json.Unmarshal([]byte(pathJSON), &wf.Path); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(realizedJSON), &wf.RealizedPath); err != nil {
		return nil, err
	}
	if parentWFID.Valid {
		wf.Parent = &engine.ParentRef{WorkflowID: parentWFID.String, TaskName: parentTask.String, Generation: int(parentGen.Int64)}
	}
	if wf.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if wf.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if wf.EndedAt, err = parseTimePtr(endedAt); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *sqlStore) GetWorkflow(ctx context.Context, id string) (*engine.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, version_name, path_json, realized_path_json, parent_workflow_id, parent_task_name, parent_generation, state, root_workflow_id, created_at, started_at, ended_at
		FROM tq_workflows WHERE id = ?
	`, id)
	wf, err := s.scanWorkflow(row)
	if err != nil {
		var e *engine.Error
		if errors.As(err, &e) && e.Kind == engine.KindNotFound {
			return nil, engine.ErrNotFound("workflow", id)
		}
		return nil, err
	}
	return wf, nil
}

func (s *sqlStore) UpdateWorkflowState(ctx context.Context, id string, state engine.WorkflowState, startedAt, endedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tq_workflows SET state = ?,
			started_at = COALESCE(?, started_at),
			ended_at = COALESCE(?, ended_at)
		WHERE id = ?
	`, string(state), formatTimePtr(startedAt), formatTimePtr(endedAt), id)
	if err != nil {
		return fmt.Errorf("tasquencer: update workflow state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrNotFound("workflow", id)
	}
	return nil
}

func (s *sqlStore) ListWorkflowsByParent(ctx context.Context, parentWorkflowID, taskName string, generation int) ([]*engine.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version_name, path_json, realized_path_json, parent_workflow_id, parent_task_name, parent_generation, state, root_workflow_id, created_at, started_at, ended_at
		FROM tq_workflows WHERE parent_workflow_id = ? AND parent_task_name = ? AND parent_generation = ?
		ORDER BY created_at ASC
	`, parentWorkflowID, taskName, generation)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list workflows by parent: %w", err)
	}
	return s.collectWorkflows(rows)
}

func (s *sqlStore) ListWorkflowsByNameAndState(ctx context.Context, name string, state engine.WorkflowState) ([]*engine.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version_name, path_json, realized_path_json, parent_workflow_id, parent_task_name, parent_generation, state, root_workflow_id, created_at, started_at, ended_at
		FROM tq_workflows WHERE name = ? AND state = ?
		ORDER BY created_at ASC
	`, name, string(state))
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list workflows by name and state: %w", err)
	}
	return s.collectWorkflows(rows)
}

func (s *sqlStore) collectWorkflows(rows *sql.Rows) ([]*engine.Workflow, error) {
	defer func() { _ = rows.Close() }()
	var out []*engine.Workflow
	for rows.Next() {
		var wf engine.Workflow
		var pathJSON, realizedJSON string
		var parentWFID, parentTask sql.NullString
		var parentGen sql.NullInt64
		var createdAt string
		var startedAt, endedAt sql.NullString
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.VersionName, &pathJSON, &realizedJSON, &parentWFID, &parentTask, &parentGen,
			&wf.State, &wf.RootWorkflowID, &createdAt, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(pathJSON), &wf.Path); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(realizedJSON), &wf.RealizedPath); err != nil {
			return nil, err
		}
		if parentWFID.Valid {
			wf.Parent = &engine.ParentRef{WorkflowID: parentWFID.String, TaskName: parentTask.String, Generation: int(parentGen.Int64)}
		}
		var err error
		if wf.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if wf.StartedAt, err = parseTimePtr(startedAt); err != nil {
			return nil, err
		}
		if wf.EndedAt, err = parseTimePtr(endedAt); err != nil {
			return nil, err
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

// --- Conditions ---

func (s *sqlStore) CreateCondition(ctx context.Context, c *engine.Condition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tq_conditions (id, workflow_id, name, marking, is_implicit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.WorkflowID, c.Name, c.Marking, boolToInt(c.IsImplicit), formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("tasquencer: create condition: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *sqlStore) scanCondition(row *sql.Row, lookupID string) (*engine.Condition, error) {
	var c engine.Condition
	var isImplicit int
	var createdAt string
	err := row.Scan(&c.ID, &c.WorkflowID, &c.Name, &c.Marking, &isImplicit, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("condition", lookupID)
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: scan condition: %w", err)
	}
	c.IsImplicit = isImplicit != 0
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *sqlStore) GetConditionByName(ctx context.Context, workflowID, name string) (*engine.Condition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, name, marking, is_implicit, created_at FROM tq_conditions
		WHERE workflow_id = ? AND name = ?
	`, workflowID, name)
	return s.scanCondition(row, name)
}

func (s *sqlStore) UpdateConditionMarking(ctx context.Context, id string, marking int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tq_conditions SET marking = ? WHERE id = ?`, marking, id)
	if err != nil {
		return fmt.Errorf("tasquencer: update condition marking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrNotFound("condition", id)
	}
	return nil
}

func (s *sqlStore) ListConditions(ctx context.Context, workflowID string) ([]*engine.Condition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, name, marking, is_implicit, created_at FROM tq_conditions
		WHERE workflow_id = ? ORDER BY name ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list conditions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*engine.Condition
	for rows.Next() {
		var c engine.Condition
		var isImplicit int
		var createdAt string
		if err := rows.Scan(&c.ID, &c.WorkflowID, &c.Name, &c.Marking, &isImplicit, &createdAt); err != nil {
			return nil, err
		}
		c.IsImplicit = isImplicit != 0
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// --- Tasks ---

func (s *sqlStore) CreateTask(ctx context.Context, t *engine.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tq_tasks (id, workflow_id, name, state, generation, join_type, split_type, execution_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.WorkflowID, t.Name, string(t.State), t.Generation, string(t.Join), string(t.Split), string(t.ExecutionMode), formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("tasquencer: create task: %w", err)
	}
	return nil
}

func (s *sqlStore) scanTask(row *sql.Row, lookupID string) (*engine.Task, error) {
	var t engine.Task
	var createdAt string
	err := row.Scan(&t.ID, &t.WorkflowID, &t.Name, &t.State, &t.Generation, &t.Join, &t.Split, &t.ExecutionMode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("task", lookupID)
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: scan task: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *sqlStore) GetTaskByName(ctx context.Context, workflowID, name string) (*engine.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, name, state, generation, join_type, split_type, execution_mode, created_at
		FROM tq_tasks WHERE workflow_id = ? AND name = ?
	`, workflowID, name)
	return s.scanTask(row, name)
}

func (s *sqlStore) UpdateTask(ctx context.Context, t *engine.Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tq_tasks SET state = ?, generation = ?, join_type = ?, split_type = ?, execution_mode = ?
		WHERE id = ?
	`, string(t.State), t.Generation, string(t.Join), string(t.Split), string(t.ExecutionMode), t.ID)
	if err != nil {
		return fmt.Errorf("tasquencer: update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrNotFound("task", t.ID)
	}
	return nil
}

func (s *sqlStore) ListTasks(ctx context.Context, workflowID string) ([]*engine.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, name, state, generation, join_type, split_type, execution_mode, created_at
		FROM tq_tasks WHERE workflow_id = ? ORDER BY name ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list tasks: %w", err)
	}
	return s.collectTasks(rows)
}

func (s *sqlStore) ListTasksByState(ctx context.Context, workflowID string, state engine.TaskState) ([]*engine.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, name, state, generation, join_type, split_type, execution_mode, created_at
		FROM tq_tasks WHERE workflow_id = ? AND state = ? ORDER BY name ASC
	`, workflowID, string(state))
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list tasks by state: %w", err)
	}
	return s.collectTasks(rows)
}

func (s *sqlStore) collectTasks(rows *sql.Rows) ([]*engine.Task, error) {
	defer func() { _ = rows.Close() }()
	var out []*engine.Task
	for rows.Next() {
		var t engine.Task
		var createdAt string
		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.Name, &t.State, &t.Generation, &t.Join, &t.Split, &t.ExecutionMode, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// --- Task state log ---

func (s *sqlStore) AppendTaskStateLog(ctx context.Context, entry engine.TaskStateLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tq_task_state_log (workflow_id, task_name, generation, state, at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.WorkflowID, entry.TaskName, entry.Generation, string(entry.State), formatTime(entry.At))
	if err != nil {
		return fmt.Errorf("tasquencer: append task state log: %w", err)
	}
	return nil
}

func (s *sqlStore) LatestTaskStateLog(ctx context.Context, workflowID, taskName string) (*engine.TaskStateLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workflow_id, task_name, generation, state, at FROM tq_task_state_log
		WHERE workflow_id = ? AND task_name = ? ORDER BY at DESC LIMIT 1
	`, workflowID, taskName)
	var e engine.TaskStateLogEntry
	var at string
	err := row.Scan(&e.WorkflowID, &e.TaskName, &e.Generation, &e.State, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("taskStateLog", taskName)
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: latest task state log: %w", err)
	}
	if e.At, err = parseTime(at); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *sqlStore) ListTaskStateLog(ctx context.Context, workflowID, taskName string, generation int) ([]engine.TaskStateLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, task_name, generation, state, at FROM tq_task_state_log
		WHERE workflow_id = ? AND task_name = ? AND generation = ? ORDER BY at ASC
	`, workflowID, taskName, generation)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list task state log: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []engine.TaskStateLogEntry
	for rows.Next() {
		var e engine.TaskStateLogEntry
		var at string
		if err := rows.Scan(&e.WorkflowID, &e.TaskName, &e.Generation, &e.State, &at); err != nil {
			return nil, err
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Work items ---

func (s *sqlStore) CreateWorkItem(ctx context.Context, wi *engine.WorkItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tq_work_items (id, name, state, workflow_id, task_name, generation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, wi.ID, wi.Name, string(wi.State), wi.Parent.WorkflowID, wi.Parent.TaskName, wi.Parent.Generation, formatTime(wi.CreatedAt))
	if err != nil {
		return fmt.Errorf("tasquencer: create work item: %w", err)
	}
	return nil
}

func (s *sqlStore) scanWorkItem(row *sql.Row, lookupID string) (*engine.WorkItem, error) {
	var wi engine.WorkItem
	var createdAt string
	err := row.Scan(&wi.ID, &wi.Name, &wi.State, &wi.Parent.WorkflowID, &wi.Parent.TaskName, &wi.Parent.Generation, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("workItem", lookupID)
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: scan work item: %w", err)
	}
	if wi.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &wi, nil
}

func (s *sqlStore) GetWorkItem(ctx context.Context, id string) (*engine.WorkItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, state, workflow_id, task_name, generation, created_at FROM tq_work_items WHERE id = ?
	`, id)
	return s.scanWorkItem(row, id)
}

func (s *sqlStore) UpdateWorkItemState(ctx context.Context, id string, state engine.WorkItemState) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tq_work_items SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return fmt.Errorf("tasquencer: update work item state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrNotFound("workItem", id)
	}
	return nil
}

func (s *sqlStore) ListWorkItemsByParent(ctx context.Context, parent engine.ParentRef) ([]*engine.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, state, workflow_id, task_name, generation, created_at FROM tq_work_items
		WHERE workflow_id = ? AND task_name = ? AND generation = ? ORDER BY created_at ASC
	`, parent.WorkflowID, parent.TaskName, parent.Generation)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list work items by parent: %w", err)
	}
	return s.collectWorkItems(rows)
}

func (s *sqlStore) ListWorkItemsByParentAndState(ctx context.Context, parent engine.ParentRef, state engine.WorkItemState) ([]*engine.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, state, workflow_id, task_name, generation, created_at FROM tq_work_items
		WHERE workflow_id = ? AND task_name = ? AND generation = ? AND state = ? ORDER BY created_at ASC
	`, parent.WorkflowID, parent.TaskName, parent.Generation, string(state))
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list work items by parent and state: %w", err)
	}
	return s.collectWorkItems(rows)
}

func (s *sqlStore) collectWorkItems(rows *sql.Rows) ([]*engine.WorkItem, error) {
	defer func() { _ = rows.Close() }()
	var out []*engine.WorkItem
	for rows.Next() {
		var wi engine.WorkItem
		var createdAt string
		if err := rows.Scan(&wi.ID, &wi.Name, &wi.State, &wi.Parent.WorkflowID, &wi.Parent.TaskName, &wi.Parent.Generation, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if wi.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &wi)
	}
	return out, rows.Err()
}

// --- Stats shards ---

func (s *sqlStore) EnsureStatsShard(ctx context.Context, workflowID, taskName string, generation int) (*engine.StatsShard, error) {
	shard, err := s.GetStatsShard(ctx, workflowID, taskName, generation)
	if err == nil {
		return shard, nil
	}
	var e *engine.Error
	if !errors.As(err, &e) || e.Kind != engine.KindNotFound {
		return nil, err
	}
	shard = engine.NewStatsShard(workflowID, taskName, generation, 0)
	if err := s.SaveStatsShard(ctx, shard); err != nil {
		return nil, err
	}
	return shard, nil
}

func (s *sqlStore) GetStatsShard(ctx context.Context, workflowID, taskName string, generation int) (*engine.StatsShard, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT shard_index, work_item_counts_json, child_wf_counts_json, applied_transitions_json
		FROM tq_stats_shards WHERE workflow_id = ? AND task_name = ? AND generation = ?
	`, workflowID, taskName, generation)
	shard := &engine.StatsShard{WorkflowID: workflowID, TaskName: taskName, Generation: generation}
	var wiJSON, cwfJSON, appliedJSON string
	err := row.Scan(&shard.ShardIndex, &wiJSON, &cwfJSON, &appliedJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("statsShard", shardKey(workflowID, taskName, generation))
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: get stats shard: %w", err)
	}
	if err := json.Unmarshal([]byte(wiJSON), &shard.WorkItemCounts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cwfJSON), &shard.ChildWFCounts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(appliedJSON), &shard.AppliedTransitions); err != nil {
		return nil, err
	}
	if shard.WorkItemCounts == nil {
		shard.WorkItemCounts = map[engine.WorkItemState]int{}
	}
	if shard.ChildWFCounts == nil {
		shard.ChildWFCounts = map[engine.WorkflowState]int{}
	}
	if shard.AppliedTransitions == nil {
		shard.AppliedTransitions = map[string]bool{}
	}
	return shard, nil
}

// SaveStatsShard upserts the full shard row. Every field the engine's
// idempotency guard depends on round-trips through JSON since SQL has no
// live pointer to mutate across calls, unlike MemStore.
func (s *sqlStore) SaveStatsShard(ctx context.Context, shard *engine.StatsShard) error {
	wiJSON, err := json.Marshal(shard.WorkItemCounts)
	if err != nil {
		return err
	}
	cwfJSON, err := json.Marshal(shard.ChildWFCounts)
	if err != nil {
		return err
	}
	appliedJSON, err := json.Marshal(shard.AppliedTransitions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.upsertStatsShard(),
		shard.WorkflowID, shard.TaskName, shard.Generation, shard.ShardIndex, string(wiJSON), string(cwfJSON), string(appliedJSON))
	if err != nil {
		return fmt.Errorf("tasquencer: save stats shard: %w", err)
	}
	return nil
}

// --- Migration ---

func (s *sqlStore) GetMigrationRecord(ctx context.Context, fromWorkflowID string) (*engine.MigrationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT from_workflow_id, to_workflow_id, payload FROM tq_migrations WHERE from_workflow_id = ?
	`, fromWorkflowID)
	var rec engine.MigrationRecord
	var payload sql.NullString
	err := row.Scan(&rec.FromWorkflowID, &rec.ToWorkflowID, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("migrationRecord", fromWorkflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: get migration record: %w", err)
	}
	if payload.Valid {
		rec.Payload = engine.Payload(payload.String)
	}
	return &rec, nil
}

// SaveMigrationRecord is a store-package convenience for seeding a
// predecessor/successor pairing ahead of Engine.FastForward.
func (s *sqlStore) SaveMigrationRecord(ctx context.Context, rec *engine.MigrationRecord) error {
	var payload sql.NullString
	if rec.Payload != nil {
		payload = sql.NullString{String: string(rec.Payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.upsertMigrationRecord(), rec.FromWorkflowID, rec.ToWorkflowID, payload)
	if err != nil {
		return fmt.Errorf("tasquencer: save migration record: %w", err)
	}
	return nil
}

// --- Audit traces ---

func (s *sqlStore) CreateAuditTrace(ctx context.Context, t *engine.AuditTrace) error {
	insert := `INSERT INTO tq_audit_traces (trace_id, root_workflow_id, started_at, ended_at) VALUES (?, ?, ?, ?)`
	if s.dialect == "mysql" {
		insert += ` ON DUPLICATE KEY UPDATE trace_id = trace_id`
	} else {
		insert += ` ON CONFLICT(trace_id) DO NOTHING`
	}
	_, err := s.db.ExecContext(ctx, insert, t.TraceID, t.RootWorkflowID, formatTime(t.StartedAt), formatTimePtr(t.EndedAt))
	if err != nil {
		return fmt.Errorf("tasquencer: create audit trace: %w", err)
	}
	return nil
}

func (s *sqlStore) GetAuditTrace(ctx context.Context, traceID string) (*engine.AuditTrace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT trace_id, root_workflow_id, started_at, ended_at FROM tq_audit_traces WHERE trace_id = ?
	`, traceID)
	var t engine.AuditTrace
	var startedAt string
	var endedAt sql.NullString
	err := row.Scan(&t.TraceID, &t.RootWorkflowID, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("auditTrace", traceID)
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: get audit trace: %w", err)
	}
	if t.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if t.EndedAt, err = parseTimePtr(endedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *sqlStore) ListRecentAuditTraces(ctx context.Context, limit int) ([]*engine.AuditTrace, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, root_workflow_id, started_at, ended_at FROM tq_audit_traces
		ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list recent audit traces: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*engine.AuditTrace
	for rows.Next() {
		var t engine.AuditTrace
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&t.TraceID, &t.RootWorkflowID, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		if t.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if t.EndedAt, err = parseTimePtr(endedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// --- Audit spans ---

func (s *sqlStore) SaveAuditSpan(ctx context.Context, span *engine.AuditSpan) error {
	pathJSON, err := json.Marshal(span.Path)
	if err != nil {
		return err
	}
	attrsJSON, err := json.Marshal(span.Attributes)
	if err != nil {
		return err
	}
	eventsJSON, err := json.Marshal(span.Events)
	if err != nil {
		return err
	}
	var parentSpanID, errStr, causationID sql.NullString
	if span.ParentSpanID != "" {
		parentSpanID = sql.NullString{String: span.ParentSpanID, Valid: true}
	}
	if span.Error != "" {
		errStr = sql.NullString{String: span.Error, Valid: true}
	}
	if span.CausationID != "" {
		causationID = sql.NullString{String: span.CausationID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, s.upsertAuditSpan(),
		span.SpanID, parentSpanID, span.TraceID, span.Depth, string(pathJSON), span.Operation, span.OperationType,
		span.Resource, span.State, formatTime(span.StartedAt), formatTimePtr(span.EndedAt), span.DurationMs,
		span.SequenceNumber, string(attrsJSON), string(eventsJSON), errStr, causationID)
	if err != nil {
		return fmt.Errorf("tasquencer: save audit span: %w", err)
	}
	return nil
}

func (s *sqlStore) scanAuditSpan(scan func(dest ...any) error, lookupID string) (*engine.AuditSpan, error) {
	var sp engine.AuditSpan
	var parentSpanID, errStr, causationID sql.NullString
	var pathJSON, attrsJSON, eventsJSON string
	var startedAt string
	var endedAt sql.NullString
	err := scan(&sp.SpanID, &parentSpanID, &sp.TraceID, &sp.Depth, &pathJSON, &sp.Operation, &sp.OperationType,
		&sp.Resource, &sp.State, &startedAt, &endedAt, &sp.DurationMs, &sp.SequenceNumber, &attrsJSON, &eventsJSON, &errStr, &causationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("auditSpan", lookupID)
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: scan audit span: %w", err)
	}
	sp.ParentSpanID = parentSpanID.String
	sp.Error = errStr.String
	sp.CausationID = causationID.String
	if err := json.Unmarshal([]byte(pathJSON), &sp.Path); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attrsJSON), &sp.Attributes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eventsJSON), &sp.Events); err != nil {
		return nil, err
	}
	if sp.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if sp.EndedAt, err = parseTimePtr(endedAt); err != nil {
		return nil, err
	}
	return &sp, nil
}

const auditSpanCols = `span_id, parent_span_id, trace_id, depth, path_json, operation, operation_type, resource, state, started_at, ended_at, duration_ms, sequence_number, attributes_json, events_json, error, causation_id`

func (s *sqlStore) GetAuditSpan(ctx context.Context, spanID string) (*engine.AuditSpan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auditSpanCols+` FROM tq_audit_spans WHERE span_id = ?`, spanID)
	return s.scanAuditSpan(row.Scan, spanID)
}

func (s *sqlStore) collectAuditSpans(rows *sql.Rows) ([]*engine.AuditSpan, error) {
	defer func() { _ = rows.Close() }()
	var out []*engine.AuditSpan
	for rows.Next() {
		sp, err := s.scanAuditSpan(rows.Scan, "")
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListAuditSpansByTrace(ctx context.Context, traceID string) ([]*engine.AuditSpan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+auditSpanCols+` FROM tq_audit_spans WHERE trace_id = ? ORDER BY sequence_number ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list audit spans by trace: %w", err)
	}
	return s.collectAuditSpans(rows)
}

func (s *sqlStore) ListAuditSpansByResource(ctx context.Context, resource string) ([]*engine.AuditSpan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+auditSpanCols+` FROM tq_audit_spans WHERE resource = ? ORDER BY started_at ASC`, resource)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list audit spans by resource: %w", err)
	}
	return s.collectAuditSpans(rows)
}

func (s *sqlStore) ListAuditSpansByTimeRange(ctx context.Context, start, end time.Time) ([]*engine.AuditSpan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditSpanCols+` FROM tq_audit_spans WHERE started_at >= ? AND started_at <= ? ORDER BY started_at ASC
	`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list audit spans by time range: %w", err)
	}
	return s.collectAuditSpans(rows)
}

// --- Audit cross-step context ---

func (s *sqlStore) SaveAuditContext(ctx context.Context, c *engine.AuditContext) error {
	pathJSON, err := json.Marshal(c.Path)
	if err != nil {
		return err
	}
	var correlationID, spanID sql.NullString
	if c.CorrelationID != "" {
		correlationID = sql.NullString{String: c.CorrelationID, Valid: true}
	}
	if c.SpanID != "" {
		spanID = sql.NullString{String: c.SpanID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, s.upsertAuditContext(),
		c.WorkflowID, c.TraceID, correlationID, spanID, c.Depth, string(pathJSON), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("tasquencer: save audit context: %w", err)
	}
	return nil
}

func (s *sqlStore) GetAuditContext(ctx context.Context, workflowID string) (*engine.AuditContext, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workflow_id, trace_id, correlation_id, span_id, depth, path_json, updated_at
		FROM tq_audit_contexts WHERE workflow_id = ?
	`, workflowID)
	var c engine.AuditContext
	var correlationID, spanID sql.NullString
	var pathJSON, updatedAt string
	err := row.Scan(&c.WorkflowID, &c.TraceID, &correlationID, &spanID, &c.Depth, &pathJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("auditContext", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: get audit context: %w", err)
	}
	c.CorrelationID = correlationID.String
	c.SpanID = spanID.String
	if err := json.Unmarshal([]byte(pathJSON), &c.Path); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// --- Audit span links ---

func (s *sqlStore) CreateAuditSpanLink(ctx context.Context, l *engine.AuditSpanLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tq_audit_span_links (span_id, caused_by, created_at) VALUES (?, ?, ?)
	`, l.SpanID, l.CausedBy, formatTime(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("tasquencer: create audit span link: %w", err)
	}
	return nil
}

func (s *sqlStore) ListAuditSpanLinks(ctx context.Context, spanID string) ([]*engine.AuditSpanLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_id, caused_by, created_at FROM tq_audit_span_links WHERE span_id = ? ORDER BY created_at ASC
	`, spanID)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list audit span links: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*engine.AuditSpanLink
	for rows.Next() {
		var l engine.AuditSpanLink
		var createdAt string
		if err := rows.Scan(&l.SpanID, &l.CausedBy, &createdAt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// --- Audit workflow snapshots ---

func (s *sqlStore) SaveAuditWorkflowSnapshot(ctx context.Context, snap *engine.AuditWorkflowSnapshot) error {
	snapJSON, err := json.Marshal(snap.Snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tq_audit_workflow_snapshots (workflow_id, at, snapshot_json, created_at) VALUES (?, ?, ?, ?)
	`, snap.WorkflowID, formatTime(snap.At), string(snapJSON), formatTime(snap.CreatedAt))
	if err != nil {
		return fmt.Errorf("tasquencer: save audit workflow snapshot: %w", err)
	}
	return nil
}

func (s *sqlStore) scanAuditWorkflowSnapshot(scan func(dest ...any) error) (*engine.AuditWorkflowSnapshot, error) {
	var snap engine.AuditWorkflowSnapshot
	var at, createdAt, snapJSON string
	if err := scan(&snap.WorkflowID, &at, &snapJSON, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(snapJSON), &snap.Snapshot); err != nil {
		return nil, err
	}
	var err error
	if snap.At, err = parseTime(at); err != nil {
		return nil, err
	}
	if snap.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *sqlStore) GetLatestAuditWorkflowSnapshot(ctx context.Context, workflowID string, at time.Time) (*engine.AuditWorkflowSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workflow_id, at, snapshot_json, created_at FROM tq_audit_workflow_snapshots
		WHERE workflow_id = ? AND at <= ? ORDER BY at DESC LIMIT 1
	`, workflowID, formatTime(at))
	snap, err := s.scanAuditWorkflowSnapshot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound("auditWorkflowSnapshot", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("tasquencer: get latest audit workflow snapshot: %w", err)
	}
	return snap, nil
}

func (s *sqlStore) ListAuditWorkflowSnapshots(ctx context.Context, workflowID string) ([]*engine.AuditWorkflowSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, at, snapshot_json, created_at FROM tq_audit_workflow_snapshots
		WHERE workflow_id = ? ORDER BY at ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("tasquencer: list audit workflow snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*engine.AuditWorkflowSnapshot
	for rows.Next() {
		snap, err := s.scanAuditWorkflowSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
