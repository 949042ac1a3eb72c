// Package store contains the durable ledger layer for promptplane.
package store

import (
	"encoding/json"
	"time"
)

// TaskExecution is the durable record of one task execution. Inserted at
// submission, updated on completion, never deleted automatically.
type TaskExecution struct {
	ID           string
	Request      string // serialized transport request
	Response     *string
	DryRunResult *string
	Status       ExecutionStatus
	CreatedAt    time.Time
	CompletedAt  *time.Time
	Error        *string
	IsDryRun     bool
}

// ExecutionStatus represents the state of a task execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusDryRun    ExecutionStatus = "dry-run"
)

// ExecutionUpdate carries the fields of a partial update. Nil fields are
// left untouched.
type ExecutionUpdate struct {
	Status       *ExecutionStatus
	Response     *string
	DryRunResult *string
	Error        *string
	CompletedAt  *time.Time
}

// TaskMetrics aggregates the execution history.
type TaskMetrics struct {
	TotalTasks      int64
	SuccessfulTasks int64
	FailedTasks     int64
	DryRunTasks     int64
	LastExecution   *time.Time
}

// ScheduledTask is a recurring run definition.
type ScheduledTask struct {
	ID         string
	Name       string
	Schedule   string // cron expression
	InputFile  string
	OutputFile string
	IsDryRun   bool
	IsActive   bool
	CreatedAt  time.Time
	LastRun    *time.Time
	NextRun    *time.Time
}

// ScheduledTaskUpdate carries the mutable fields of a scheduled task.
type ScheduledTaskUpdate struct {
	Name       *string
	Schedule   *string
	InputFile  *string
	OutputFile *string
	IsDryRun   *bool
	LastRun    *time.Time
	NextRun    *time.Time
}

// ServiceLog is one entry of the append-only operational audit stream,
// independent of task executions.
type ServiceLog struct {
	ID        int64
	Level     string
	Message   string
	Metadata  json.RawMessage
	Timestamp time.Time
}
