// Package pool implements bounded-parallelism execution of a dynamic task
// set with backpressure, priority, per-task timeout and bounded retry.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"promptplane/internal/errkind"
	"promptplane/internal/ratelimit"
	"promptplane/internal/transport"
)

// ErrQueueFull is returned by AddTasks when enqueuing would exceed the
// queue bound. This is the backpressure valve protecting memory.
var ErrQueueFull = errors.New("task queue is full")

// Config controls the pool. Zero values get sensible defaults in New.
type Config struct {
	MaxConcurrency int
	MaxQueueSize   int // defaults to 10x MaxConcurrency
	TaskTimeout    time.Duration
	RetryDelay     time.Duration
	EnablePriority bool

	// RateLimitPoll is how long a worker backs off after the limiter
	// denies every eligible task.
	RateLimitPoll time.Duration

	// StarvationLimit is how long a task may sit deferred by the rate
	// limiter before the denial escalates to a terminal failure.
	// Zero means never escalate.
	StarvationLimit time.Duration

	// MetricsWindow is the rolling window for throughput and average
	// processing time.
	MetricsWindow time.Duration
}

// Pool is a fixed-size worker pool over a priority queue. Workers consult
// the rate limiter before dispatch; denials defer the task without
// consuming retries.
type Pool struct {
	cfg       Config
	transport transport.Transport
	limiter   *ratelimit.Registry

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *taskQueue
	tracked  map[*Task]struct{} // every submitted, non-terminal task
	draining bool
	nextSeq  uint64

	baseCtx context.Context
	cancel  context.CancelFunc

	active         atomic.Int64
	totalProcessed atomic.Int64
	totalFailed    atomic.Int64
	window         *completionWindow

	events       chan Event
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	abandoned    []*Task
}

// New creates the pool and starts its workers.
func New(cfg Config, t transport.Transport, limiter *ratelimit.Registry) *Pool {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 10 * cfg.MaxConcurrency
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 60 * time.Second
	}
	if cfg.RateLimitPoll <= 0 {
		cfg.RateLimitPoll = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:       cfg,
		transport: t,
		limiter:   limiter,
		queue:     newTaskQueue(cfg.EnablePriority),
		tracked:   make(map[*Task]struct{}),
		baseCtx:   ctx,
		cancel:    cancel,
		window:    newCompletionWindow(cfg.MetricsWindow),
		events:    make(chan Event, cfg.MaxQueueSize*4+64),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < cfg.MaxConcurrency; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Events returns the lifecycle event stream. Closed after Shutdown. Once
// Shutdown cancels in-flight work, undelivered events are dropped rather
// than blocking workers.
func (p *Pool) Events() <-chan Event { return p.events }

// emit delivers an event unless the pool has been cancelled. Without the
// cancellation arm a worker could block forever on a full channel after
// the observer stops consuming, wedging Shutdown past its timeout.
func (p *Pool) emit(ev Event) {
	select {
	case p.events <- ev:
	case <-p.baseCtx.Done():
	}
}

// AddTasks enqueues tasks, failing fast with ErrQueueFull if the whole
// batch does not fit under MaxQueueSize. Must not race with Shutdown;
// callers stop submitting before they shut the pool down.
func (p *Pool) AddTasks(tasks []*Task) error {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return errors.New("pool is shutting down")
	}
	if p.queue.Len()+len(tasks) > p.cfg.MaxQueueSize {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d queued, %d offered, limit %d",
			ErrQueueFull, p.queue.Len(), len(tasks), p.cfg.MaxQueueSize)
	}
	// Queued events go out before workers are woken so a fast worker
	// cannot emit TaskStarted ahead of them.
	now := time.Now()
	for _, task := range tasks {
		if task.Cost <= 0 {
			task.Cost = estimateCost(task.Request)
		}
		p.nextSeq++
		task.seq = p.nextSeq
		p.queue.push(task)
		p.tracked[task] = struct{}{}
		p.emit(Event{Type: TaskQueued, Task: task, Time: now})
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

// estimateCost approximates a task's admission cost in tokens.
func estimateCost(req transport.Request) int {
	cost := len(req.Prompt)/4 + 1
	if req.MaxTokens > 0 {
		cost += req.MaxTokens / 10
	}
	return cost
}

// QueueStatus returns the remaining queue length.
func (p *Pool) QueueStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// GetMetrics returns a point-in-time snapshot.
func (p *Pool) GetMetrics() Metrics {
	throughput, avg := p.window.snapshot()
	return Metrics{
		ActiveWorkers:         int(p.active.Load()),
		QueueLength:           p.QueueStatus(),
		TotalProcessed:        p.totalProcessed.Load(),
		TotalFailed:           p.totalFailed.Load(),
		CurrentThroughput:     throughput,
		AverageProcessingTime: avg,
	}
}

// WaitIdle blocks until every submitted task has reached a terminal state,
// or the context ends.
func (p *Pool) WaitIdle(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.tracked) > 0 && ctx.Err() == nil {
		p.cond.Wait()
	}
	return ctx.Err()
}

// Shutdown stops admitting new dispatches immediately, waits up to timeout
// for in-flight tasks to finish, then forcibly cancels stragglers. It
// returns the tasks that never reached a terminal state so they can be
// reported rather than silently dropped. Safe to call more than once; later
// calls return the same abandoned set.
func (p *Pool) Shutdown(timeout time.Duration) []*Task {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.draining = true
		p.cond.Broadcast()
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			p.cancel()
			<-done
		}
		p.cancel()

		p.mu.Lock()
		for task := range p.tracked {
			p.abandoned = append(p.abandoned, task)
		}
		p.tracked = make(map[*Task]struct{})
		p.queue.drain()
		p.mu.Unlock()

		close(p.events)
	})
	return p.abandoned
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.draining {
			p.cond.Wait()
		}
		if p.draining {
			p.mu.Unlock()
			return
		}
		task := p.queue.pop()
		p.mu.Unlock()

		if !p.admit(task) {
			continue
		}
		p.dispatch(task)
	}
}

// admit consults the rate limiter. On denial the task goes back to the
// queue with its original position and the worker backs off briefly;
// denial never consumes a retry. Starvation past the ceiling escalates to
// a terminal failure.
func (p *Pool) admit(task *Task) bool {
	if p.limiter == nil || p.limiter.TryAcquire(task.Request.Model, task.Cost) {
		task.deferredSince = time.Time{}
		return true
	}

	now := time.Now()
	if task.deferredSince.IsZero() {
		task.deferredSince = now
	}
	if p.cfg.StarvationLimit > 0 && now.Sub(task.deferredSince) > p.cfg.StarvationLimit {
		err := errkind.Newf(errkind.RateLimit,
			"task %s starved by rate limiter for target %s", task.ID, task.Request.Model)
		p.finish(task, &TaskResult{Task: task, Err: err})
		return false
	}

	p.requeue(task)

	// Back off so a fully-denied queue does not busy-spin.
	select {
	case <-time.After(p.cfg.RateLimitPoll):
	case <-p.baseCtx.Done():
	}
	return false
}

func (p *Pool) dispatch(task *Task) {
	p.active.Add(1)
	p.emit(Event{Type: TaskStarted, Task: task, Time: time.Now()})

	ctx, cancel := context.WithTimeout(p.baseCtx, p.cfg.TaskTimeout)
	start := time.Now()
	resp, err := p.transport.Execute(ctx, task.Request)
	elapsed := time.Since(start)
	cancel()
	p.active.Add(-1)

	if err == nil {
		p.window.record(elapsed)
		p.totalProcessed.Add(1)
		p.finish(task, &TaskResult{Task: task, Response: resp, ProcessingTime: elapsed})
		return
	}

	// Pool cancelled underneath the task: leave it tracked so Shutdown
	// reports it as abandoned instead of failed.
	if p.baseCtx.Err() != nil {
		return
	}

	if errkind.IsRetryable(err) && task.RetryCount < task.MaxRetries {
		task.RetryCount++
		p.emit(Event{Type: TaskRetry, Task: task, Time: time.Now()})
		p.requeueAfter(task, p.cfg.RetryDelay)
		return
	}

	p.finish(task, &TaskResult{Task: task, Err: err, ProcessingTime: elapsed})
}

// finish moves a task to its terminal state, updates the failure counter
// and emits the final event. Every terminal-failure path must go through
// here so starved tasks count the same as execution failures.
func (p *Pool) finish(task *Task, result *TaskResult) {
	p.mu.Lock()
	delete(p.tracked, task)
	p.cond.Broadcast()
	p.mu.Unlock()

	evType := TaskCompleted
	if result.Err != nil {
		evType = TaskFailed
		p.totalFailed.Add(1)
	}
	p.emit(Event{Type: evType, Task: task, Result: result, Time: time.Now()})
}

func (p *Pool) requeue(task *Task) {
	p.mu.Lock()
	if p.draining {
		// Stays tracked; Shutdown reports it as abandoned.
		p.mu.Unlock()
		return
	}
	p.queue.push(task)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) requeueAfter(task *Task, delay time.Duration) {
	if delay <= 0 {
		p.requeue(task)
		return
	}
	timer := time.NewTimer(delay)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			p.requeue(task)
		case <-p.baseCtx.Done():
		}
	}()
}
