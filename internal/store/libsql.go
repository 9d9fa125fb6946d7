package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/gflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	if !strings.Contains(dbPath, ":") {
		dbPath = "file:" + dbPath
	}
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so QueryRow is used and the result ignored.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

// SaveWorkflow inserts or replaces a workflow by name. The creation time of
// an existing row is kept.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *StoredWorkflow) error {
	if wf.Definition == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is required")
	}
	if wf.Name == "" {
		wf.Name = wf.Definition.Name
	}
	if wf.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}
	if wf.Status == "" {
		wf.Status = schema.WorkflowStatusActive
	}
	if wf.Description == "" {
		wf.Description = wf.Definition.Description
	}
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	now := nowUTC()
	wf.CreatedAt = timeOr(wf.CreatedAt, now)
	wf.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (name, description, definition, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET description=excluded.description, definition=excluded.definition,
		   status=excluded.status, updated_at=excluded.updated_at`,
		wf.Name, nullStr(wf.Description), string(def), string(wf.Status),
		formatTime(wf.CreatedAt), formatTime(wf.UpdatedAt),
	)
	return storeErr(err, "save workflow")
}

const workflowColumns = `name, description, definition, status, created_at, updated_at`

func (s *LibSQLStore) GetWorkflow(ctx context.Context, name string) (*StoredWorkflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE name = ?`, name)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", name)
	}
	return wf, err
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*StoredWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	var args []any
	if filter.Status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*filter.Status))
	}
	query += " ORDER BY name"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err, "list workflows")
	}
	defer rows.Close()

	var out []*StoredWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) SetWorkflowStatus(ctx context.Context, name string, status schema.WorkflowStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET status = ?, updated_at = ? WHERE name = ?`,
		string(status), formatTime(nowUTC()), name)
	if err != nil {
		return storeErr(err, "update workflow")
	}
	return checkRowsAffected(res, "workflow", name)
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE name = ?`, name)
	if err != nil {
		return storeErr(err, "delete workflow")
	}
	return checkRowsAffected(res, "workflow", name)
}

func scanWorkflow(sc scanner) (*StoredWorkflow, error) {
	wf := &StoredWorkflow{}
	var desc sql.NullString
	var def, status, created, updated string
	if err := sc.Scan(&wf.Name, &desc, &def, &status, &created, &updated); err != nil {
		return nil, err
	}
	wf.Description = desc.String
	wf.Status = schema.WorkflowStatus(status)
	wf.Definition = &schema.WorkflowDefinition{}
	if err := json.Unmarshal([]byte(def), wf.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	wf.CreatedAt = parseTime(created)
	wf.UpdatedAt = parseTime(updated)
	return wf, nil
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution id is required")
	}
	state, err := marshalState(rec.State)
	if err != nil {
		return err
	}
	now := nowUTC()
	rec.StartedAt = timeOr(rec.StartedAt, now)
	rec.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow, event_id, trigger_kind, mode, status, state, error, started_at, finished_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Workflow, rec.EventID, rec.Trigger, rec.Mode, string(rec.Status), state,
		nullStr(rec.Error), formatTime(rec.StartedAt), nullTime(rec.FinishedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already exists", rec.ID).WithCause(err)
	}
	return storeErr(err, "create execution")
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.State != nil {
		state, err := marshalState(update.State)
		if err != nil {
			return err
		}
		sets = append(sets, "state = ?")
		args = append(args, state)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, formatTime(*update.FinishedAt))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(nowUTC()), id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr(err, "update execution")
	}
	return checkRowsAffected(res, "execution", id)
}

const executionColumns = `id, workflow, event_id, trigger_kind, mode, status, state, error, started_at, finished_at, updated_at`

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("execution", id)
	}
	return rec, err
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var where []string
	var args []any
	if filter.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err, "list executions")
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanExecution(sc scanner) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var status, started, updated string
	var state, errMsg, finished sql.NullString
	if err := sc.Scan(&rec.ID, &rec.Workflow, &rec.EventID, &rec.Trigger, &rec.Mode, &status,
		&state, &errMsg, &started, &finished, &updated); err != nil {
		return nil, err
	}
	rec.Status = schema.RunStatus(status)
	rec.Error = errMsg.String
	rec.StartedAt = parseTime(started)
	rec.UpdatedAt = parseTime(updated)
	rec.FinishedAt = parseNullTime(finished)
	if state.Valid && state.String != "" {
		rec.State = &schema.WorkflowExecutionState{}
		if err := json.Unmarshal([]byte(state.String), rec.State); err != nil {
			return nil, fmt.Errorf("unmarshal execution state: %w", err)
		}
	}
	return rec, nil
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, formatTime(nowUTC()),
	)
	return storeErr(err, "store secret")
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("secret", key)
	}
	if err != nil {
		return nil, storeErr(err, "get secret")
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return storeErr(err, "delete secret")
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, storeErr(err, "list secrets")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Scheduled Jobs ---

// UpsertScheduledJob creates the job for (workflow, node) or updates its
// expression and next run. Run history is kept.
func (s *LibSQLStore) UpsertScheduledJob(ctx context.Context, job *ScheduledJob) error {
	job.CreatedAt = timeOr(job.CreatedAt, nowUTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, workflow, node, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workflow, node) DO UPDATE SET cron_expression=excluded.cron_expression,
		   enabled=excluded.enabled, next_run_at=excluded.next_run_at`,
		job.ID, job.Workflow, job.Node, job.CronExpression, boolInt(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), formatTime(job.CreatedAt),
	)
	if err != nil {
		return storeErr(err, "upsert scheduled job")
	}
	// The stored id wins when the row already existed.
	return s.db.QueryRowContext(ctx,
		`SELECT id FROM scheduled_jobs WHERE workflow = ? AND node = ?`, job.Workflow, job.Node,
	).Scan(&job.ID)
}

const jobColumns = `id, workflow, node, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("scheduled job", id)
	}
	return job, err
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, formatTime(*update.LastRunAt))
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, formatTime(*update.NextRunAt))
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr(err, "update scheduled job")
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any
	if filter.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.DueBefore != nil {
		where = append(where, "next_run_at IS NOT NULL AND next_run_at <= ?")
		args = append(args, formatTime(*filter.DueBefore))
	}

	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY next_run_at, workflow, node"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err, "list scheduled jobs")
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteScheduledJobs removes every job of a workflow. Deleting none is not
// an error.
func (s *LibSQLStore) DeleteScheduledJobs(ctx context.Context, workflow string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE workflow = ?`, workflow)
	return storeErr(err, "delete scheduled jobs")
}

func scanJob(sc scanner) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var lastRun, nextRun, lastStatus sql.NullString
	var created string
	var enabled int64
	if err := sc.Scan(&job.ID, &job.Workflow, &job.Node, &job.CronExpression, &enabled,
		&lastRun, &nextRun, &lastStatus, &created); err != nil {
		return nil, err
	}
	job.Enabled = enabled != 0
	job.LastRunAt = parseNullTime(lastRun)
	job.NextRunAt = parseNullTime(nextRun)
	job.LastRunStatus = lastStatus.String
	job.CreatedAt = parseTime(created)
	return job, nil
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func storeNotFound(resource, id string) *schema.GflowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

// storeErr wraps driver errors. Coded errors and nil pass through.
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var ge *schema.GflowError
	if errors.As(err, &ge) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func marshalState(st *schema.WorkflowExecutionState) (any, error) {
	if st == nil {
		return nil, nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal execution state: %w", err)
	}
	return string(b), nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func timeOr(t, def time.Time) time.Time {
	if t.IsZero() {
		return def
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*LibSQLStore)(nil)
