// Package runner turns a batch file (or a single prompt) plus options into
// a completed, persisted, resumable run.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"promptplane/internal/batchio"
	"promptplane/internal/errkind"
	"promptplane/internal/logger"
	"promptplane/internal/observability"
	"promptplane/internal/pool"
	"promptplane/internal/ratelimit"
	"promptplane/internal/store"
	"promptplane/internal/transport"
)

// Options configures one run.
type Options struct {
	Input  string
	Prompt string
	Output string

	DryRun bool

	MaxInflight        int
	CheckpointInterval int // persist the checkpoint every N completed tasks
	MaxRetries         int
	RetryDelay         time.Duration
	Timeout            time.Duration
	StarvationLimit    time.Duration
	EnablePriority     bool

	Resume     string
	OnlyFailed bool

	// NoPool falls back to sequential fixed-size batching for transports
	// that do not support fine-grained concurrency.
	NoPool    bool
	BatchSize int

	MetricsAddr string

	// Run-wide defaults; per-task values always win.
	Model       string
	Temperature float64
	MaxTokens   int

	RateLimits map[string]ratelimit.Limits
}

func (o Options) withDefaults() Options {
	if o.MaxInflight <= 0 {
		o.MaxInflight = 4
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = 10
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.StarvationLimit <= 0 {
		o.StarvationLimit = 5 * time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	return o
}

// Outcome summarizes a finished run.
type Outcome struct {
	BatchID          string
	Total            int // size of the processing set
	Skipped          int // already terminal per the checkpoint
	Succeeded        int
	Failed           int
	Abandoned        int
	OutputPath       string
	FailedOutputPath string
	Results          []batchio.ResultRecord
	Duration         time.Duration
}

// Runner drives batch runs. Dependencies are passed in explicitly; the
// store handle's lifecycle belongs to the caller.
type Runner struct {
	store     store.ExecutionStore
	transport transport.Transport
	log       *slog.Logger
}

// New creates a Runner. The store may be nil, in which case executions are
// not recorded.
func New(st store.ExecutionStore, t transport.Transport, log *slog.Logger) *Runner {
	if log == nil {
		log = logger.New()
	}
	return &Runner{store: st, transport: t, log: log}
}

// Run executes the batch end to end: load, resume computation, dispatch,
// checkpointing, output split. A run with task failures returns the outcome
// together with an error wrapping errkind.ErrPartialFailure.
func (r *Runner) Run(ctx context.Context, opts Options) (*Outcome, error) {
	start := time.Now()
	opts = opts.withDefaults()

	requests, err := r.loadTasks(opts)
	if err != nil {
		return nil, err
	}
	applyTaskDefaults(requests, opts)

	cpPath := opts.Resume
	if cpPath == "" && opts.Input != "" {
		cpPath = opts.Input + ".checkpoint.json"
	}

	batchID := uuid.New().String()
	completedSet := make(map[string]bool)
	failedSet := make(map[string]bool)

	if opts.Resume != "" {
		cp, err := LoadCheckpoint(opts.Resume)
		switch {
		case err == nil:
			batchID = cp.BatchID
			for _, id := range cp.CompletedTasks {
				completedSet[id] = true
			}
			for _, id := range cp.FailedTasks {
				failedSet[id] = true
			}
		case errors.Is(err, ErrCheckpointVersion):
			return nil, errkind.Wrap(errkind.Validation, "cannot resume checkpoint", err)
		default:
			r.log.Warn("checkpoint unreadable, starting fresh", "path", opts.Resume, "error", err)
		}
	}

	ctx = logger.WithBatchID(ctx, batchID)
	log := logger.FromContext(ctx, r.log)

	var processing []transport.Request
	skipped := 0
	for _, req := range requests {
		switch {
		case opts.OnlyFailed:
			if failedSet[req.ID] {
				processing = append(processing, req)
			} else {
				skipped++
			}
		case completedSet[req.ID] || failedSet[req.ID]:
			skipped++
		default:
			processing = append(processing, req)
		}
	}
	// Reprocessed failures get a fresh chance; they come back into the
	// failed set only if they fail again.
	for _, req := range processing {
		delete(failedSet, req.ID)
	}

	var writer *CheckpointWriter
	if cpPath != "" {
		writer, err = NewCheckpointWriter(cpPath)
		if err != nil {
			return nil, err
		}
		defer writer.Release()
	}

	execIDs := make(map[string]string, len(processing))
	for _, req := range processing {
		id, err := r.recordSubmission(ctx, req, opts.DryRun)
		if err != nil {
			return nil, err
		}
		execIDs[req.ID] = id
	}

	saveCheckpoint := func() {
		if writer == nil {
			return
		}
		cp := &Checkpoint{
			BatchID:        batchID,
			CompletedTasks: sortedKeys(completedSet),
			FailedTasks:    sortedKeys(failedSet),
		}
		if err := writer.Save(cp); err != nil {
			log.Warn("failed to persist checkpoint", "error", err)
		}
	}

	outcome := &Outcome{BatchID: batchID, Total: len(processing), Skipped: skipped, OutputPath: opts.Output}

	log.Info("run starting",
		"tasks", len(processing), "skipped", skipped,
		"dry_run", opts.DryRun, "max_inflight", opts.MaxInflight, "sequential", opts.NoPool)

	var results []batchio.ResultRecord
	if len(processing) > 0 {
		if opts.NoPool {
			results = r.runSequential(ctx, opts, processing, batchID, execIDs, completedSet, failedSet, saveCheckpoint)
		} else {
			var abandoned int
			results, abandoned, err = r.runPooled(ctx, opts, processing, execIDs, completedSet, failedSet, saveCheckpoint)
			outcome.Abandoned = abandoned
			if err != nil {
				saveCheckpoint()
				return outcome, err
			}
		}
	}
	saveCheckpoint()

	var successes, failures []batchio.ResultRecord
	for _, rec := range results {
		if rec.Success {
			successes = append(successes, rec)
		} else {
			failures = append(failures, rec)
		}
	}
	outcome.Succeeded, outcome.Failed = len(successes), len(failures)
	outcome.Results = results

	if opts.Output != "" {
		if err := batchio.WriteResults(successes, opts.Output); err != nil {
			return outcome, fmt.Errorf("failed to write results: %w", err)
		}
		if len(failures) > 0 {
			outcome.FailedOutputPath = batchio.FailedPath(opts.Output)
			if err := batchio.WriteResults(failures, outcome.FailedOutputPath); err != nil {
				return outcome, fmt.Errorf("failed to write failed results: %w", err)
			}
		}
	}

	outcome.Duration = time.Since(start)

	// Nothing left to resume only when no task in the whole batch remains
	// failed or abandoned.
	if len(failedSet) == 0 && outcome.Abandoned == 0 {
		if writer != nil {
			if err := writer.Remove(); err != nil {
				log.Warn("failed to remove checkpoint", "error", err)
			}
		}
		log.Info("run finished", "succeeded", outcome.Succeeded, "duration", outcome.Duration)
		return outcome, nil
	}

	log.Warn("run finished with failures",
		"succeeded", outcome.Succeeded, "failed", outcome.Failed, "abandoned", outcome.Abandoned)
	return outcome, fmt.Errorf("%d failed, %d abandoned of %d tasks: %w",
		outcome.Failed, outcome.Abandoned, outcome.Total, errkind.ErrPartialFailure)
}

func (r *Runner) loadTasks(opts Options) ([]transport.Request, error) {
	if opts.Prompt != "" {
		return []transport.Request{{ID: "prompt-1", Prompt: opts.Prompt}}, nil
	}
	if opts.Input == "" {
		return nil, errkind.New(errkind.Validation, "either an input file or a prompt is required")
	}
	batch, err := batchio.Load(opts.Input)
	if err != nil {
		return nil, err
	}
	return batch.Tasks, nil
}

func applyTaskDefaults(requests []transport.Request, opts Options) {
	for i := range requests {
		if requests[i].Model == "" {
			requests[i].Model = opts.Model
		}
		if requests[i].Temperature == 0 {
			requests[i].Temperature = opts.Temperature
		}
		if requests[i].MaxTokens == 0 {
			requests[i].MaxTokens = opts.MaxTokens
		}
	}
}

func (r *Runner) runPooled(
	ctx context.Context,
	opts Options,
	processing []transport.Request,
	execIDs map[string]string,
	completedSet, failedSet map[string]bool,
	saveCheckpoint func(),
) ([]batchio.ResultRecord, int, error) {
	reg := ratelimit.NewRegistry(opts.RateLimits)
	p := pool.New(pool.Config{
		MaxConcurrency:  opts.MaxInflight,
		TaskTimeout:     opts.Timeout,
		RetryDelay:      opts.RetryDelay,
		EnablePriority:  opts.EnablePriority,
		StarvationLimit: opts.StarvationLimit,
	}, r.transport, reg)
	defer p.Shutdown(time.Second)

	if opts.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := observability.Serve(metricsCtx, opts.MetricsAddr, p); err != nil {
				r.log.Warn("metrics endpoint stopped", "error", err)
			}
		}()
	}

	tasks := make([]*pool.Task, len(processing))
	for i, req := range processing {
		t := &pool.Task{ID: req.ID, Request: req, MaxRetries: opts.MaxRetries}
		if opts.EnablePriority {
			t.Priority = priorityFor(req)
		}
		tasks[i] = t
	}

	var results []batchio.ResultRecord // owned by the observer goroutine

	g, gctx := errgroup.WithContext(ctx)

	// Feeder: submits tasks as queue capacity allows, yielding to the
	// backpressure valve instead of overfilling the queue.
	g.Go(func() error {
		for i := 0; i < len(tasks); {
			err := p.AddTasks(tasks[i : i+1])
			switch {
			case err == nil:
				i++
			case errors.Is(err, pool.ErrQueueFull):
				select {
				case <-time.After(20 * time.Millisecond):
				case <-gctx.Done():
					return gctx.Err()
				}
			default:
				return err
			}
		}
		return nil
	})

	// Single observer loop over the lifecycle event stream.
	g.Go(func() error {
		terminal := 0
		sinceCheckpoint := 0
		for terminal < len(tasks) {
			select {
			case ev := <-p.Events():
				r.handleEvent(gctx, ev, opts.DryRun, execIDs, &results, completedSet, failedSet)
				if ev.Type == pool.TaskCompleted || ev.Type == pool.TaskFailed {
					terminal++
					sinceCheckpoint++
					if sinceCheckpoint >= opts.CheckpointInterval {
						saveCheckpoint()
						sinceCheckpoint = 0
					}
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	waitErr := g.Wait()
	abandoned := p.Shutdown(5 * time.Second)
	for _, t := range abandoned {
		r.recordAbandoned(context.WithoutCancel(ctx), execIDs[t.ID])
	}

	if waitErr != nil {
		return results, len(abandoned), waitErr
	}
	return results, len(abandoned), nil
}

// priorityFor derives a task's priority from its estimated size: cheaper
// tasks dispatch first so short work is not starved behind long prompts.
func priorityFor(req transport.Request) int {
	return -(len(req.Prompt) + req.MaxTokens)
}

func (r *Runner) handleEvent(
	ctx context.Context,
	ev pool.Event,
	dryRun bool,
	execIDs map[string]string,
	results *[]batchio.ResultRecord,
	completedSet, failedSet map[string]bool,
) {
	execID := execIDs[ev.Task.ID]

	switch ev.Type {
	case pool.TaskStarted:
		r.updateExecution(ctx, execID, store.ExecutionUpdate{Status: statusPtr(store.ExecutionStatusRunning)})

	case pool.TaskCompleted:
		completedSet[ev.Task.ID] = true
		rec := batchio.ResultRecord{
			ID:               ev.Task.ID,
			Prompt:           ev.Task.Request.Prompt,
			Model:            ev.Task.Request.Model,
			Response:         ev.Result.Response.Content,
			Success:          true,
			ProcessingTimeMs: ev.Result.ProcessingTime.Milliseconds(),
		}
		*results = append(*results, rec)

		respJSON, _ := json.Marshal(ev.Result.Response)
		update := store.ExecutionUpdate{
			Status:      statusPtr(store.ExecutionStatusCompleted),
			CompletedAt: timePtr(time.Now().UTC()),
		}
		body := string(respJSON)
		if dryRun {
			update.DryRunResult = &body
		} else {
			update.Response = &body
		}
		r.updateExecution(ctx, execID, update)

	case pool.TaskFailed:
		failedSet[ev.Task.ID] = true
		msg := errkind.Classify(ev.Result.Err).Error()
		*results = append(*results, batchio.ResultRecord{
			ID:               ev.Task.ID,
			Prompt:           ev.Task.Request.Prompt,
			Model:            ev.Task.Request.Model,
			Error:            msg,
			Success:          false,
			ProcessingTimeMs: ev.Result.ProcessingTime.Milliseconds(),
		})
		r.updateExecution(ctx, execID, store.ExecutionUpdate{
			Status:      statusPtr(store.ExecutionStatusFailed),
			Error:       &msg,
			CompletedAt: timePtr(time.Now().UTC()),
		})
	}
}

func (r *Runner) runSequential(
	ctx context.Context,
	opts Options,
	processing []transport.Request,
	batchID string,
	execIDs map[string]string,
	completedSet, failedSet map[string]bool,
	saveCheckpoint func(),
) []batchio.ResultRecord {
	var results []batchio.ResultRecord

	for start := 0; start < len(processing); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(processing) {
			end = len(processing)
		}
		chunk := processing[start:end]

		for _, req := range chunk {
			r.updateExecution(ctx, execIDs[req.ID], store.ExecutionUpdate{Status: statusPtr(store.ExecutionStatusRunning)})
		}

		chunkStart := time.Now()
		responses, err := r.transport.ExecuteBatch(ctx, chunk, batchID)
		perTask := time.Since(chunkStart)
		if len(chunk) > 0 {
			perTask /= time.Duration(len(chunk))
		}

		got := make(map[string]*transport.Response, len(responses))
		for _, resp := range responses {
			if resp != nil {
				got[resp.ID] = resp
			}
		}

		for _, req := range chunk {
			resp, ok := got[req.ID]
			ev := pool.Event{Task: &pool.Task{ID: req.ID, Request: req}, Time: time.Now()}
			if ok {
				ev.Type = pool.TaskCompleted
				ev.Result = &pool.TaskResult{Response: resp, ProcessingTime: perTask}
			} else {
				taskErr := err
				if taskErr == nil {
					taskErr = errkind.New(errkind.Upstream, "no response returned for task")
				}
				ev.Type = pool.TaskFailed
				ev.Result = &pool.TaskResult{Err: taskErr, ProcessingTime: perTask}
			}
			r.handleEvent(ctx, ev, opts.DryRun, execIDs, &results, completedSet, failedSet)
		}

		saveCheckpoint()
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

func (r *Runner) recordSubmission(ctx context.Context, req transport.Request, dryRun bool) (string, error) {
	if r.store == nil {
		return "", nil
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	id, err := r.store.SaveTaskExecution(ctx, &store.TaskExecution{
		Request:  string(reqJSON),
		IsDryRun: dryRun,
	})
	if err != nil {
		return "", fmt.Errorf("failed to record task execution: %w", err)
	}
	return id, nil
}

func (r *Runner) updateExecution(ctx context.Context, execID string, update store.ExecutionUpdate) {
	if r.store == nil || execID == "" {
		return
	}
	if err := r.store.UpdateTaskExecution(ctx, execID, update); err != nil {
		r.log.Warn("failed to update execution record", "execution_id", execID, "error", err)
	}
}

func (r *Runner) recordAbandoned(ctx context.Context, execID string) {
	msg := "abandoned during shutdown"
	r.updateExecution(ctx, execID, store.ExecutionUpdate{
		Status: statusPtr(store.ExecutionStatusFailed),
		Error:  &msg,
	})
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func statusPtr(s store.ExecutionStatus) *store.ExecutionStatus { return &s }

func timePtr(t time.Time) *time.Time { return &t }
