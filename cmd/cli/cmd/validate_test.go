package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"promptplane/internal/errkind"
)

func TestValidateCommand_ValidCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.csv")
	content := "id,prompt,model\n1,hello,gpt-4o\n2,world,gpt-4o-mini\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, err := executeCommand(t, "validate", "--input", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\noutput: %s", err, stdout)
	}
	if !strings.Contains(stdout, "is valid") {
		t.Errorf("expected validity message, got: %s", stdout)
	}
	if !strings.Contains(stdout, "2") {
		t.Errorf("expected task count in output, got: %s", stdout)
	}
}

func TestValidateCommand_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.csv")
	content := "id,prompt\n1,hello\n1,again\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, err := executeCommand(t, "validate", "--input", path)
	if errkind.ExitCode(err) != errkind.ExitValidation {
		t.Fatalf("error = %v, want validation exit code", err)
	}
	if !strings.Contains(stdout, "Error (validation)") {
		t.Errorf("expected classified error output, got: %s", stdout)
	}
}

func TestValidateCommand_MissingInputFlag(t *testing.T) {
	_, err := executeCommand(t, "validate")
	if errkind.ExitCode(err) != errkind.ExitValidation {
		t.Fatalf("error = %v, want validation exit code", err)
	}
}
