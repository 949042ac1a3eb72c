package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"promptplane/internal/errkind"
	"promptplane/internal/logger"
	"promptplane/internal/store"
	"promptplane/internal/transport"
)

// stubTransport records which task IDs it executed and delegates behavior
// to an optional hook.
type stubTransport struct {
	mu    sync.Mutex
	calls []string
	fn    func(req transport.Request) (*transport.Response, error)
}

func (s *stubTransport) Execute(_ context.Context, req transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.ID)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(req)
	}
	return &transport.Response{ID: req.ID, Content: "ok: " + req.Prompt, Model: req.Model}, nil
}

func (s *stubTransport) ExecuteBatch(ctx context.Context, reqs []transport.Request, _ string) ([]*transport.Response, error) {
	responses := make([]*transport.Response, 0, len(reqs))
	for _, req := range reqs {
		resp, err := s.Execute(ctx, req)
		if err != nil {
			return responses, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

func (s *stubTransport) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.calls...)
	sort.Strings(out)
	return out
}

// memStore is an in-memory ExecutionStore for asserting ledger writes.
type memStore struct {
	mu      sync.Mutex
	nextID  int
	saved   []*store.TaskExecution
	updates map[string][]store.ExecutionUpdate
}

func newMemStore() *memStore {
	return &memStore{updates: make(map[string][]store.ExecutionUpdate)}
}

func (m *memStore) SaveTaskExecution(_ context.Context, execution *store.TaskExecution) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.saved = append(m.saved, execution)
	return fmt.Sprintf("exec-%d", m.nextID), nil
}

func (m *memStore) UpdateTaskExecution(_ context.Context, id string, update store.ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[id] = append(m.updates[id], update)
	return nil
}

func (m *memStore) GetTaskExecutions(context.Context, int, int) ([]store.TaskExecution, error) {
	return nil, nil
}

func (m *memStore) GetTaskMetrics(context.Context) (*store.TaskMetrics, error) {
	return &store.TaskMetrics{}, nil
}

func writeBatchFile(t *testing.T, dir string, ids ...string) string {
	t.Helper()
	var sb strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&sb, `{"id":%q,"prompt":"prompt for %s","model":"gpt-4o-mini"}`+"\n", id, id)
	}
	path := filepath.Join(dir, "batch.jsonl")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestRunner(st store.ExecutionStore, tr transport.Transport) *Runner {
	return New(st, tr, logger.NewWithWriter(io.Discard))
}

func TestRunBatchAllSucceed(t *testing.T) {
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1", "2", "3")
	output := filepath.Join(dir, "out.jsonl")

	tr := &stubTransport{}
	r := newTestRunner(nil, tr)

	outcome, err := r.Run(context.Background(), Options{
		Input:       input,
		Output:      output,
		MaxInflight: 2,
		Model:       "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Succeeded != 3 || outcome.Failed != 0 {
		t.Fatalf("succeeded=%d failed=%d, want 3/0", outcome.Succeeded, outcome.Failed)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 3 {
		t.Errorf("output has %d lines, want 3", lines)
	}
	if _, err := os.Stat(input + ".checkpoint.json"); !os.IsNotExist(err) {
		t.Error("expected checkpoint to be removed after a fully successful run")
	}
	if outcome.FailedOutputPath != "" {
		t.Errorf("unexpected failed-output path %q", outcome.FailedOutputPath)
	}
}

func TestRunPartialFailure(t *testing.T) {
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1", "2", "3", "4", "5")
	output := filepath.Join(dir, "out.jsonl")

	tr := &stubTransport{fn: func(req transport.Request) (*transport.Response, error) {
		if req.ID == "3" {
			return nil, errkind.New(errkind.Upstream, "model rejected the request")
		}
		return &transport.Response{ID: req.ID, Content: "ok"}, nil
	}}
	r := newTestRunner(nil, tr)

	outcome, err := r.Run(context.Background(), Options{
		Input:       input,
		Output:      output,
		MaxInflight: 2,
	})
	if !errors.Is(err, errkind.ErrPartialFailure) {
		t.Fatalf("error = %v, want ErrPartialFailure", err)
	}
	if outcome.Succeeded != 4 || outcome.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 4/1", outcome.Succeeded, outcome.Failed)
	}
	if errkind.ExitCode(err) != errkind.ExitPartialFailure {
		t.Errorf("exit code = %d, want %d", errkind.ExitCode(err), errkind.ExitPartialFailure)
	}

	if _, err := os.Stat(outcome.FailedOutputPath); err != nil {
		t.Errorf("failed-output file not written: %v", err)
	}

	cp, err := LoadCheckpoint(input + ".checkpoint.json")
	if err != nil {
		t.Fatalf("checkpoint should survive a partial failure: %v", err)
	}
	if len(cp.FailedTasks) != 1 || cp.FailedTasks[0] != "3" {
		t.Errorf("checkpoint failed tasks = %v, want [3]", cp.FailedTasks)
	}
	if len(cp.CompletedTasks) != 4 {
		t.Errorf("checkpoint completed tasks = %v, want 4 entries", cp.CompletedTasks)
	}
}

func TestRunResumeSkipsTerminalTasks(t *testing.T) {
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1", "2", "3", "4", "5")
	cpPath := input + ".checkpoint.json"

	w, err := NewCheckpointWriter(cpPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Save(&Checkpoint{
		BatchID:        "resumed-batch",
		CompletedTasks: []string{"1", "2"},
		FailedTasks:    []string{"3"},
	}); err != nil {
		t.Fatal(err)
	}
	w.Release()

	tr := &stubTransport{}
	r := newTestRunner(nil, tr)

	outcome, err := r.Run(context.Background(), Options{
		Input:       input,
		Resume:      cpPath,
		MaxInflight: 2,
	})
	// Task 3 is still failed in the checkpoint, so the run reports a
	// partial failure even though everything it processed succeeded.
	if !errors.Is(err, errkind.ErrPartialFailure) {
		t.Fatalf("error = %v, want ErrPartialFailure", err)
	}
	if outcome.BatchID != "resumed-batch" {
		t.Errorf("batch id = %q, want the checkpoint's id", outcome.BatchID)
	}
	if outcome.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", outcome.Skipped)
	}

	got := tr.seen()
	if len(got) != 2 || got[0] != "4" || got[1] != "5" {
		t.Fatalf("executed %v, want exactly [4 5]", got)
	}

	cp, err := LoadCheckpoint(cpPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(cp.CompletedTasks) != 4 || len(cp.FailedTasks) != 1 {
		t.Errorf("checkpoint after resume = completed %v failed %v, want 4/1",
			cp.CompletedTasks, cp.FailedTasks)
	}
}

func TestRunOnlyFailedReprocessesFailures(t *testing.T) {
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1", "2", "3", "4", "5")
	cpPath := input + ".checkpoint.json"

	w, err := NewCheckpointWriter(cpPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Save(&Checkpoint{
		BatchID:        "resumed-batch",
		CompletedTasks: []string{"1", "2", "4", "5"},
		FailedTasks:    []string{"3"},
	}); err != nil {
		t.Fatal(err)
	}
	w.Release()

	tr := &stubTransport{}
	r := newTestRunner(nil, tr)

	outcome, err := r.Run(context.Background(), Options{
		Input:       input,
		Resume:      cpPath,
		OnlyFailed:  true,
		MaxInflight: 2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := tr.seen(); len(got) != 1 || got[0] != "3" {
		t.Fatalf("executed %v, want exactly [3]", got)
	}
	if outcome.Succeeded != 1 || outcome.Skipped != 4 {
		t.Errorf("succeeded=%d skipped=%d, want 1/4", outcome.Succeeded, outcome.Skipped)
	}
	// Every task in the batch is now completed: nothing left to resume.
	if _, err := os.Stat(cpPath); !os.IsNotExist(err) {
		t.Error("expected checkpoint to be removed once all tasks completed")
	}
}

func TestRunResumeVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1")
	cpPath := input + ".checkpoint.json"
	if err := os.WriteFile(cpPath, []byte(`{"version":99,"batchId":"b"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestRunner(nil, &stubTransport{})
	_, err := r.Run(context.Background(), Options{Input: input, Resume: cpPath})
	if !errors.Is(err, ErrCheckpointVersion) {
		t.Fatalf("error = %v, want ErrCheckpointVersion", err)
	}
	if errkind.ExitCode(err) != errkind.ExitValidation {
		t.Errorf("exit code = %d, want %d", errkind.ExitCode(err), errkind.ExitValidation)
	}
}

func TestRunSequentialMode(t *testing.T) {
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1", "2", "3", "4", "5")
	output := filepath.Join(dir, "out.csv")

	tr := &stubTransport{}
	r := newTestRunner(nil, tr)

	outcome, err := r.Run(context.Background(), Options{
		Input:     input,
		Output:    output,
		NoPool:    true,
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Succeeded != 5 {
		t.Fatalf("succeeded = %d, want 5", outcome.Succeeded)
	}
	if got := tr.seen(); len(got) != 5 {
		t.Errorf("executed %v, want all 5 tasks", got)
	}
}

func TestRunSequentialChunkErrorContinues(t *testing.T) {
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1", "2", "3", "4")

	tr := &stubTransport{fn: func(req transport.Request) (*transport.Response, error) {
		if req.ID == "1" {
			return nil, errkind.New(errkind.Upstream, "boom")
		}
		return &transport.Response{ID: req.ID, Content: "ok"}, nil
	}}
	r := newTestRunner(nil, tr)

	outcome, err := r.Run(context.Background(), Options{
		Input:     input,
		NoPool:    true,
		BatchSize: 2,
	})
	if !errors.Is(err, errkind.ErrPartialFailure) {
		t.Fatalf("error = %v, want ErrPartialFailure", err)
	}
	// Chunk one fails at task 1; task 2 is marked failed with it, but the
	// run moves on to the next chunk.
	if outcome.Succeeded != 2 || outcome.Failed != 2 {
		t.Fatalf("succeeded=%d failed=%d, want 2/2", outcome.Succeeded, outcome.Failed)
	}
}

func TestRunPromptMode(t *testing.T) {
	tr := transport.NewDryRun()
	r := newTestRunner(nil, tr)

	outcome, err := r.Run(context.Background(), Options{
		Prompt: "what is the capital of France?",
		Model:  "gpt-4o-mini",
		DryRun: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcome.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(outcome.Results))
	}
	if !outcome.Results[0].Success || outcome.Results[0].Response == "" {
		t.Errorf("unexpected result %+v", outcome.Results[0])
	}
}

func TestRunMissingInput(t *testing.T) {
	r := newTestRunner(nil, &stubTransport{})
	_, err := r.Run(context.Background(), Options{})
	if errkind.ExitCode(err) != errkind.ExitValidation {
		t.Fatalf("error = %v, want a validation error", err)
	}
}

func TestRunRecordsLedger(t *testing.T) {
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1", "2")

	tr := &stubTransport{fn: func(req transport.Request) (*transport.Response, error) {
		if req.ID == "2" {
			return nil, errkind.New(errkind.Upstream, "boom")
		}
		return &transport.Response{ID: req.ID, Content: "ok"}, nil
	}}
	st := newMemStore()
	r := newTestRunner(st, tr)

	_, err := r.Run(context.Background(), Options{Input: input, MaxInflight: 1})
	if !errors.Is(err, errkind.ErrPartialFailure) {
		t.Fatalf("error = %v, want ErrPartialFailure", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.saved) != 2 {
		t.Fatalf("saved %d executions, want 2", len(st.saved))
	}

	var completed, failed int
	for _, updates := range st.updates {
		last := updates[len(updates)-1]
		if last.Status == nil {
			t.Fatal("terminal update without a status")
		}
		switch *last.Status {
		case store.ExecutionStatusCompleted:
			completed++
			if last.Response == nil {
				t.Error("completed update missing response payload")
			}
		case store.ExecutionStatusFailed:
			failed++
			if last.Error == nil {
				t.Error("failed update missing error message")
			}
		}
	}
	if completed != 1 || failed != 1 {
		t.Errorf("terminal updates completed=%d failed=%d, want 1/1", completed, failed)
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1", "2", "3", "4", "5")

	release := make(chan struct{})
	tr := &stubTransport{fn: func(req transport.Request) (*transport.Response, error) {
		<-release
		return &transport.Response{ID: req.ID, Content: "ok"}, nil
	}}
	r := newTestRunner(nil, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var runErr error
	go func() {
		_, runErr = r.Run(ctx, Options{Input: input, MaxInflight: 2, Timeout: 5 * time.Second})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if runErr == nil {
		t.Fatal("expected an error after cancellation")
	}
}
