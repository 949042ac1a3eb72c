package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"promptplane/internal/store"
)

// SaveTaskExecution inserts the initial record. An empty ID gets generated,
// and the status defaults to pending (dry-run for dry runs).
func (s *Store) SaveTaskExecution(ctx context.Context, execution *store.TaskExecution) (string, error) {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	if execution.Status == "" {
		execution.Status = store.ExecutionStatusPending
		if execution.IsDryRun {
			execution.Status = store.ExecutionStatusDryRun
		}
	}
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO task_executions (id, request, response, dry_run_result, status, created_at, completed_at, error, is_dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, query,
		execution.ID, execution.Request, execution.Response, execution.DryRunResult,
		execution.Status, execution.CreatedAt, execution.CompletedAt,
		execution.Error, execution.IsDryRun,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save task execution: %w", err)
	}
	return execution.ID, nil
}

// UpdateTaskExecution applies a partial update; nil fields are untouched.
func (s *Store) UpdateTaskExecution(ctx context.Context, id string, update store.ExecutionUpdate) error {
	var sets []string
	var args []interface{}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.Response != nil {
		sets = append(sets, "response = ?")
		args = append(args, *update.Response)
	}
	if update.DryRunResult != nil {
		sets = append(sets, "dry_run_result = ?")
		args = append(args, *update.DryRunResult)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE task_executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	args = append(args, id)

	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task execution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task execution %s not found", id)
	}
	return nil
}

// GetTaskExecutions returns executions ordered newest-first.
func (s *Store) GetTaskExecutions(ctx context.Context, limit, offset int) ([]store.TaskExecution, error) {
	query := `SELECT id, request, response, dry_run_result, status, created_at, completed_at, error, is_dry_run
		FROM task_executions ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.q.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []store.TaskExecution
	for rows.Next() {
		var e store.TaskExecution
		if err := rows.Scan(
			&e.ID, &e.Request, &e.Response, &e.DryRunResult, &e.Status,
			&e.CreatedAt, &e.CompletedAt, &e.Error, &e.IsDryRun,
		); err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// GetTaskMetrics aggregates the execution history in one query.
func (s *Store) GetTaskMetrics(ctx context.Context) (*store.TaskMetrics, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN is_dry_run THEN 1 ELSE 0 END), 0),
		MAX(created_at)
	FROM task_executions`

	var m store.TaskMetrics
	var last *time.Time
	err := s.q.QueryRowContext(ctx, query).Scan(
		&m.TotalTasks, &m.SuccessfulTasks, &m.FailedTasks, &m.DryRunTasks, &last,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate task metrics: %w", err)
	}
	m.LastExecution = last
	return &m, nil
}
