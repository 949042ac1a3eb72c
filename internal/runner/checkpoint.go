package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"promptplane/internal/errkind"
)

// checkpointVersion guards the file format; a mismatch is reported instead
// of being silently misread.
const checkpointVersion = 1

// ErrCheckpointVersion is returned when a checkpoint file was written by an
// incompatible version.
var ErrCheckpointVersion = errors.New("unsupported checkpoint version")

// Checkpoint is the resume state for one batch run.
type Checkpoint struct {
	Version        int       `json:"version"`
	BatchID        string    `json:"batchId"`
	CompletedTasks []string  `json:"completedTasks"`
	FailedTasks    []string  `json:"failedTasks"`
	LastCheckpoint time.Time `json:"lastCheckpoint"`
}

// LoadCheckpoint reads and validates a checkpoint file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("malformed checkpoint file: %w", err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrCheckpointVersion, cp.Version, checkpointVersion)
	}
	return &cp, nil
}

// CheckpointWriter persists checkpoints atomically (write temp file, then
// rename) and enforces the single-writer discipline with a lock file:
// a second orchestrator on the same checkpoint path fails fast.
type CheckpointWriter struct {
	path     string
	lockPath string
}

// NewCheckpointWriter acquires the lock for path. Release must be called
// when the run ends.
func NewCheckpointWriter(path string) (*CheckpointWriter, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errkind.Newf(errkind.Validation,
				"checkpoint %s is locked by another run (remove %s if that run is dead)", path, lockPath)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	return &CheckpointWriter{path: path, lockPath: lockPath}, nil
}

// Save writes the checkpoint atomically.
func (w *CheckpointWriter) Save(cp *Checkpoint) error {
	cp.Version = checkpointVersion
	cp.LastCheckpoint = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, w.path)
}

// Remove deletes the checkpoint file after a fully successful run.
func (w *CheckpointWriter) Remove() error {
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Release drops the lock file.
func (w *CheckpointWriter) Release() {
	os.Remove(w.lockPath)
}
