package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable/internal/models"
)

const (
	runColumns = `id, dataset_id, fingerprint, status, options, summary, error_message, created_by, created_at, started_at, finished_at`
	// insertBatchSize keeps multi-row inserts well under the Postgres bind parameter limit.
	insertBatchSize = 500
)

// RunRepository persists solver runs and their results.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository constructs the repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a run row with generated defaults.
func (r *RunRepository) Create(ctx context.Context, exec sqlx.ExtContext, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO timetable_runs (` + runColumns + `)
VALUES (:id, :dataset_id, :fingerprint, :status, :options, :summary, :error_message, :created_by, :created_at, :started_at, :finished_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, run); err != nil {
		return fmt.Errorf("create timetable run: %w", err)
	}
	return nil
}

// FindByID returns a run by its identifier.
func (r *RunRepository) FindByID(ctx context.Context, id string) (*models.Run, error) {
	const query = `SELECT ` + runColumns + ` FROM timetable_runs WHERE id = $1`
	var run models.Run
	if err := r.db.GetContext(ctx, &run, query, id); err != nil {
		return nil, fmt.Errorf("get timetable run: %w", err)
	}
	return &run, nil
}

// FindCompletedByFingerprint returns the newest completed run for identical input, if any.
func (r *RunRepository) FindCompletedByFingerprint(ctx context.Context, fingerprint string) (*models.Run, error) {
	const query = `SELECT ` + runColumns + ` FROM timetable_runs
WHERE fingerprint = $1 AND status = 'COMPLETED' ORDER BY finished_at DESC LIMIT 1`
	var run models.Run
	if err := r.db.GetContext(ctx, &run, query, fingerprint); err != nil {
		return nil, fmt.Errorf("get timetable run by fingerprint: %w", err)
	}
	return &run, nil
}

// List returns runs matching the filter plus the unpaginated total.
func (r *RunRepository) List(ctx context.Context, filter models.RunFilter) ([]models.Run, int, error) {
	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 4)
	if filter.DatasetID != "" {
		args = append(args, filter.DatasetID)
		conditions = append(conditions, fmt.Sprintf("dataset_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM timetable_runs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count timetable runs: %w", err)
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf("SELECT %s FROM timetable_runs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", runColumns, where, len(args)-1, len(args))
	var runs []models.Run
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list timetable runs: %w", err)
	}
	return runs, total, nil
}

// UpdateRunParams defines the mutable fields.
type UpdateRunParams struct {
	Status       *models.RunStatus
	Summary      *models.RunSummary
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Update persists the provided changes for a run row.
func (r *RunRepository) Update(ctx context.Context, exec sqlx.ExtContext, id string, params UpdateRunParams) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.Summary != nil {
		set = append(set, fmt.Sprintf("summary = $%d", argPos))
		args = append(args, *params.Summary)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}
	if params.StartedAt != nil {
		set = append(set, fmt.Sprintf("started_at = $%d", argPos))
		args = append(args, *params.StartedAt)
		argPos++
	}
	if params.FinishedAt != nil {
		set = append(set, fmt.Sprintf("finished_at = $%d", argPos))
		args = append(args, *params.FinishedAt)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE timetable_runs SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.exec(exec).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update timetable run: %w", err)
	}
	return nil
}

// SaveResults replaces the assignment and failure rows of a run.
func (r *RunRepository) SaveResults(ctx context.Context, exec sqlx.ExtContext, runID string, assignments []models.RunAssignment, failures []models.RunFailure) error {
	target := r.exec(exec)
	if _, err := target.ExecContext(ctx, `DELETE FROM timetable_run_assignments WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("clear run assignments: %w", err)
	}
	if _, err := target.ExecContext(ctx, `DELETE FROM timetable_run_failures WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("clear run failures: %w", err)
	}

	for i := range assignments {
		assignments[i].RunID = runID
	}
	for i := range failures {
		failures[i].RunID = runID
	}

	const assignmentQuery = `INSERT INTO timetable_run_assignments (run_id, task_id, subject_id, subject_name, group_id, nominal_teacher_id, teacher_id, room_id, day, start_period, duration, is_substitute, is_extra, strategy, session, sessions)
VALUES (:run_id, :task_id, :subject_id, :subject_name, :group_id, :nominal_teacher_id, :teacher_id, :room_id, :day, :start_period, :duration, :is_substitute, :is_extra, :strategy, :session, :sessions)`
	for start := 0; start < len(assignments); start += insertBatchSize {
		end := minInt(start+insertBatchSize, len(assignments))
		if _, err := sqlx.NamedExecContext(ctx, target, assignmentQuery, assignments[start:end]); err != nil {
			return fmt.Errorf("insert run assignments: %w", err)
		}
	}

	const failureQuery = `INSERT INTO timetable_run_failures (run_id, task_id, subject_id, subject_name, group_id, teacher_id, hours, reason, teacher_free_slots, group_free_slots)
VALUES (:run_id, :task_id, :subject_id, :subject_name, :group_id, :teacher_id, :hours, :reason, :teacher_free_slots, :group_free_slots)`
	for start := 0; start < len(failures); start += insertBatchSize {
		end := minInt(start+insertBatchSize, len(failures))
		if _, err := sqlx.NamedExecContext(ctx, target, failureQuery, failures[start:end]); err != nil {
			return fmt.Errorf("insert run failures: %w", err)
		}
	}
	return nil
}

// Assignments returns the booked sessions of a run in timetable order.
func (r *RunRepository) Assignments(ctx context.Context, runID string) ([]models.RunAssignment, error) {
	const query = `SELECT run_id, task_id, subject_id, subject_name, group_id, nominal_teacher_id, teacher_id, room_id, day, start_period, duration, is_substitute, is_extra, strategy, session, sessions
FROM timetable_run_assignments WHERE run_id = $1 ORDER BY day ASC, start_period ASC, group_id ASC, task_id ASC`
	var rows []models.RunAssignment
	if err := r.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("list run assignments: %w", err)
	}
	return rows, nil
}

// Failures returns the unplaced tasks of a run.
func (r *RunRepository) Failures(ctx context.Context, runID string) ([]models.RunFailure, error) {
	const query = `SELECT run_id, task_id, subject_id, subject_name, group_id, teacher_id, hours, reason, teacher_free_slots, group_free_slots
FROM timetable_run_failures WHERE run_id = $1 ORDER BY task_id ASC`
	var rows []models.RunFailure
	if err := r.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, fmt.Errorf("list run failures: %w", err)
	}
	return rows, nil
}

// ListQueued fetches queued runs (used for cold start recovery).
func (r *RunRepository) ListQueued(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + runColumns + ` FROM timetable_runs WHERE status IN ('QUEUED', 'RUNNING') ORDER BY created_at ASC LIMIT $1`
	var runs []models.Run
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued timetable runs: %w", err)
	}
	return runs, nil
}

// Delete removes a run; result rows cascade.
func (r *RunRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM timetable_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete timetable run: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("delete timetable run: %w", sql.ErrNoRows)
	}
	return nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
