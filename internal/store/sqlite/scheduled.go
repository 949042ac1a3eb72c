package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"promptplane/internal/store"
)

// ErrNotFound is returned when a scheduled task id does not exist.
var ErrNotFound = errors.New("scheduled task not found")

// SaveScheduledTask inserts a new recurring run definition.
func (s *Store) SaveScheduledTask(ctx context.Context, task *store.ScheduledTask) (string, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO scheduled_tasks (id, name, schedule, input_file, output_file, is_dry_run, is_active, created_at, last_run, next_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, query,
		task.ID, task.Name, task.Schedule, task.InputFile, task.OutputFile,
		task.IsDryRun, task.IsActive, task.CreatedAt, task.LastRun, task.NextRun,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save scheduled task: %w", err)
	}
	return task.ID, nil
}

const scheduledTaskColumns = "id, name, schedule, input_file, output_file, is_dry_run, is_active, created_at, last_run, next_run"

func scanScheduledTask(row interface{ Scan(...interface{}) error }) (*store.ScheduledTask, error) {
	var t store.ScheduledTask
	err := row.Scan(
		&t.ID, &t.Name, &t.Schedule, &t.InputFile, &t.OutputFile,
		&t.IsDryRun, &t.IsActive, &t.CreatedAt, &t.LastRun, &t.NextRun,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetScheduledTasks returns active tasks only, oldest first.
func (s *Store) GetScheduledTasks(ctx context.Context) ([]store.ScheduledTask, error) {
	query := fmt.Sprintf("SELECT %s FROM scheduled_tasks WHERE is_active = TRUE ORDER BY created_at", scheduledTaskColumns)
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []store.ScheduledTask
	for rows.Next() {
		t, err := scanScheduledTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// GetScheduledTask returns one task by id, active or not.
func (s *Store) GetScheduledTask(ctx context.Context, id string) (*store.ScheduledTask, error) {
	query := fmt.Sprintf("SELECT %s FROM scheduled_tasks WHERE id = ?", scheduledTaskColumns)
	task, err := scanScheduledTask(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

// UpdateScheduledTask applies a partial update; nil fields are untouched.
func (s *Store) UpdateScheduledTask(ctx context.Context, id string, update store.ScheduledTaskUpdate) error {
	var sets []string
	var args []interface{}

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Schedule != nil {
		sets = append(sets, "schedule = ?")
		args = append(args, *update.Schedule)
	}
	if update.InputFile != nil {
		sets = append(sets, "input_file = ?")
		args = append(args, *update.InputFile)
	}
	if update.OutputFile != nil {
		sets = append(sets, "output_file = ?")
		args = append(args, *update.OutputFile)
	}
	if update.IsDryRun != nil {
		sets = append(sets, "is_dry_run = ?")
		args = append(args, *update.IsDryRun)
	}
	if update.LastRun != nil {
		sets = append(sets, "last_run = ?")
		args = append(args, *update.LastRun)
	}
	if update.NextRun != nil {
		sets = append(sets, "next_run = ?")
		args = append(args, *update.NextRun)
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE scheduled_tasks SET %s WHERE id = ?", strings.Join(sets, ", "))
	args = append(args, id)
	return s.execExpectingRow(ctx, query, args...)
}

// DeleteScheduledTask removes the definition entirely.
func (s *Store) DeleteScheduledTask(ctx context.Context, id string) error {
	return s.execExpectingRow(ctx, "DELETE FROM scheduled_tasks WHERE id = ?", id)
}

// EnableScheduledTask marks the task active.
func (s *Store) EnableScheduledTask(ctx context.Context, id string) error {
	return s.execExpectingRow(ctx, "UPDATE scheduled_tasks SET is_active = TRUE WHERE id = ?", id)
}

// DisableScheduledTask marks the task inactive.
func (s *Store) DisableScheduledTask(ctx context.Context, id string) error {
	return s.execExpectingRow(ctx, "UPDATE scheduled_tasks SET is_active = FALSE WHERE id = ?", id)
}

func (s *Store) execExpectingRow(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
