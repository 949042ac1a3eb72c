package store

import (
	"context"
	"database/sql"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows passing either a connection pool or an active transaction to
// the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ExecutionStore records task executions for audit, resumability and
// metrics. The store is the single source of truth for execution status;
// concurrent updates to the same id are serialized by the store, not by
// application logic.
type ExecutionStore interface {
	// SaveTaskExecution inserts the initial record. Status starts as
	// pending, or dry-run when the execution is a dry run.
	SaveTaskExecution(ctx context.Context, execution *TaskExecution) (string, error)

	// UpdateTaskExecution applies a partial update to one execution.
	UpdateTaskExecution(ctx context.Context, id string, update ExecutionUpdate) error

	// GetTaskExecutions returns executions ordered newest-first.
	GetTaskExecutions(ctx context.Context, limit, offset int) ([]TaskExecution, error)

	// GetTaskMetrics aggregates the execution history.
	GetTaskMetrics(ctx context.Context) (*TaskMetrics, error)
}

// ScheduleStore persists recurring run definitions.
type ScheduleStore interface {
	SaveScheduledTask(ctx context.Context, task *ScheduledTask) (string, error)

	// GetScheduledTasks returns active tasks only.
	GetScheduledTasks(ctx context.Context) ([]ScheduledTask, error)

	GetScheduledTask(ctx context.Context, id string) (*ScheduledTask, error)
	UpdateScheduledTask(ctx context.Context, id string, update ScheduledTaskUpdate) error
	DeleteScheduledTask(ctx context.Context, id string) error
	EnableScheduledTask(ctx context.Context, id string) error
	DisableScheduledTask(ctx context.Context, id string) error
}

// LogStore is the append-only operational audit stream.
type LogStore interface {
	AppendServiceLog(ctx context.Context, level, message string, metadata []byte) error
	GetServiceLogs(ctx context.Context, limit int) ([]ServiceLog, error)
}
