package pool

import (
	"time"

	"promptplane/internal/transport"
)

// Task wraps a transport request for scheduling. Immutable once queued
// except for the retry counter and deferral bookkeeping owned by the pool.
type Task struct {
	ID         string
	Request    transport.Request
	Priority   int
	Cost       int // estimated cost units charged against the rate limiter
	RetryCount int
	MaxRetries int

	seq           uint64    // enqueue order, breaks priority ties
	deferredSince time.Time // first rate-limiter denial, cleared on grant
}

// TaskResult is the terminal outcome of one task.
type TaskResult struct {
	Task           *Task
	Response       *transport.Response
	Err            error
	ProcessingTime time.Duration
}

// Success reports whether the task produced a response.
func (r *TaskResult) Success() bool { return r.Err == nil }

// EventType identifies a lifecycle signal.
type EventType int

const (
	TaskQueued EventType = iota
	TaskStarted
	TaskRetry
	TaskCompleted
	TaskFailed
)

func (t EventType) String() string {
	switch t {
	case TaskQueued:
		return "queued"
	case TaskStarted:
		return "started"
	case TaskRetry:
		return "retry"
	case TaskCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// Event is one lifecycle signal. Per task the pool emits, in order:
// queued, started, zero or more retries, then exactly one of completed or
// failed. Events are delivered on a single channel so one observer loop
// sees every task's lifecycle without cross-task coupling.
type Event struct {
	Type   EventType
	Task   *Task
	Result *TaskResult // set on completed and failed
	Time   time.Time
}
