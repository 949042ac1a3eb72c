package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"promptplane/internal/errkind"
)

func writeBatchFile(t *testing.T, dir string, ids ...string) string {
	t.Helper()
	var sb strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&sb, `{"id":%q,"prompt":"prompt for %s"}`+"\n", id, id)
	}
	path := filepath.Join(dir, "batch.jsonl")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func useTempLedger(t *testing.T) {
	t.Helper()
	t.Setenv("PROMPTPLANE_DB", filepath.Join(t.TempDir(), "ledger.db"))
}

func TestRunCommand_DryRunBatch(t *testing.T) {
	useTempLedger(t)
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1", "2", "3")
	output := filepath.Join(dir, "results.jsonl")

	stdout, err := executeCommand(t, "run",
		"--input", input,
		"--output", output,
		"--dry-run",
		"--max-inflight", "2",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, stdout)
	}
	if !strings.Contains(stdout, "Succeeded") || !strings.Contains(stdout, "3") {
		t.Errorf("expected run summary with 3 successes, got: %s", stdout)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("output file not written: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 3 {
		t.Errorf("output has %d lines, want 3", lines)
	}
}

func TestRunCommand_DryRunPrompt(t *testing.T) {
	useTempLedger(t)

	stdout, err := executeCommand(t, "run", "--prompt", "hello there", "--dry-run")
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, stdout)
	}
	if !strings.Contains(stdout, "dry-run") {
		t.Errorf("expected the dry-run response in output, got: %s", stdout)
	}
}

func TestRunCommand_AppendsServiceLog(t *testing.T) {
	useTempLedger(t)
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1")

	if _, err := executeCommand(t, "run", "--input", input, "--dry-run"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	stdout, err := executeCommand(t, "logs")
	if err != nil {
		t.Fatalf("logs failed: %v\noutput: %s", err, stdout)
	}
	if !strings.Contains(stdout, "run finished") {
		t.Errorf("expected a run summary entry, got: %s", stdout)
	}
	if !strings.Contains(stdout, "batch_id") {
		t.Errorf("expected metadata in the entry, got: %s", stdout)
	}
}

func TestHistoryAndStatsCommands(t *testing.T) {
	useTempLedger(t)
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1", "2")

	if _, err := executeCommand(t, "run", "--input", input, "--dry-run"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	stdout, err := executeCommand(t, "history")
	if err != nil {
		t.Fatalf("history failed: %v\noutput: %s", err, stdout)
	}
	if !strings.Contains(stdout, "completed") {
		t.Errorf("expected completed executions in history, got: %s", stdout)
	}
	if !strings.Contains(stdout, "dry-run") {
		t.Errorf("expected dry-run marker in history, got: %s", stdout)
	}

	stdout, err = executeCommand(t, "stats")
	if err != nil {
		t.Fatalf("stats failed: %v\noutput: %s", err, stdout)
	}
	if !strings.Contains(stdout, "Total") || !strings.Contains(stdout, "2") {
		t.Errorf("expected aggregate counts, got: %s", stdout)
	}
}

func TestRunCommand_MissingInputIsValidation(t *testing.T) {
	_, err := executeCommand(t, "run")
	if errkind.ExitCode(err) != errkind.ExitValidation {
		t.Fatalf("error = %v, want validation exit code", err)
	}
}

func TestRunCommand_LiveWithoutCredentialIsConfig(t *testing.T) {
	useTempLedger(t)
	t.Setenv("PROMPTPLANE_API_KEY", "")
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1")

	_, err := executeCommand(t, "run", "--input", input)
	if errkind.ExitCode(err) != errkind.ExitConfig {
		t.Fatalf("error = %v, want config exit code", err)
	}
}

func TestRunCommand_OnlyFailedRequiresResume(t *testing.T) {
	dir := t.TempDir()
	input := writeBatchFile(t, dir, "1")

	_, err := executeCommand(t, "run", "--input", input, "--dry-run", "--only-failed")
	if errkind.ExitCode(err) != errkind.ExitValidation {
		t.Fatalf("error = %v, want validation exit code", err)
	}
}
