// Package batchio parses batch input files into ordered task requests and
// serializes results back out, splitting successes from failures.
package batchio

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"promptplane/internal/errkind"
	"promptplane/internal/transport"
)

// Format identifies a batch file format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// Batch is a parsed input file.
type Batch struct {
	Format Format
	Tasks  []transport.Request
}

// ResultRecord is one serialized task outcome.
type ResultRecord struct {
	ID               string `json:"id"`
	Prompt           string `json:"prompt"`
	Model            string `json:"model"`
	Response         string `json:"response,omitempty"`
	Error            string `json:"error,omitempty"`
	Success          bool   `json:"success"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// Load parses the file at path. The format is detected from the extension:
// .csv for columnar, .jsonl (or .ndjson) for line-delimited JSON records.
func Load(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, fmt.Sprintf("cannot open input file %s", path), err)
	}
	defer f.Close()

	switch detectFormat(path) {
	case FormatCSV:
		return loadCSV(f)
	case FormatJSONL:
		return loadJSONL(f)
	default:
		return nil, errkind.Newf(errkind.Validation, "unsupported input format %q (want .csv or .jsonl)", filepath.Ext(path))
	}
}

func detectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".jsonl", ".ndjson":
		return FormatJSONL
	}
	return ""
}

func loadCSV(f *os.File) (*Batch, error) {
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, "malformed CSV input", err)
	}
	if len(rows) < 2 {
		return nil, errkind.New(errkind.Validation, "CSV input has no task rows")
	}

	// Header maps column name to index. Only id and prompt are required;
	// model, temperature and max_tokens fall back to run-wide defaults.
	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "prompt"} {
		if _, ok := cols[required]; !ok {
			return nil, errkind.Newf(errkind.Validation, "CSV header missing required column %q", required)
		}
	}

	batch := &Batch{Format: FormatCSV}
	seen := make(map[string]bool, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		get := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		req := transport.Request{ID: get("id"), Prompt: get("prompt"), Model: get("model")}
		if req.ID == "" || req.Prompt == "" {
			return nil, errkind.Newf(errkind.Validation, "line %d: id and prompt are required", line)
		}
		if seen[req.ID] {
			return nil, errkind.Newf(errkind.Validation, "line %d: duplicate task id %q", line, req.ID)
		}
		seen[req.ID] = true

		if v := get("temperature"); v != "" {
			t, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, errkind.Newf(errkind.Validation, "line %d: invalid temperature %q", line, v)
			}
			req.Temperature = t
		}
		if v := get("max_tokens"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, errkind.Newf(errkind.Validation, "line %d: invalid max_tokens %q", line, v)
			}
			req.MaxTokens = n
		}

		batch.Tasks = append(batch.Tasks, req)
	}
	return batch, nil
}

func loadJSONL(f *os.File) (*Batch, error) {
	batch := &Batch{Format: FormatJSONL}
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var req transport.Request
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return nil, errkind.Wrap(errkind.Validation, fmt.Sprintf("line %d: invalid JSON record", line), err)
		}
		if req.ID == "" || req.Prompt == "" {
			return nil, errkind.Newf(errkind.Validation, "line %d: id and prompt are required", line)
		}
		if seen[req.ID] {
			return nil, errkind.Newf(errkind.Validation, "line %d: duplicate task id %q", line, req.ID)
		}
		seen[req.ID] = true

		batch.Tasks = append(batch.Tasks, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Validation, "failed to read input file", err)
	}
	if len(batch.Tasks) == 0 {
		return nil, errkind.New(errkind.Validation, "input file has no task records")
	}
	return batch, nil
}

// WriteResults serializes records to path in the format the extension implies.
func WriteResults(records []ResultRecord, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create output file %s: %w", path, err)
	}
	defer f.Close()

	switch detectFormat(path) {
	case FormatCSV:
		return writeCSV(records, f)
	default:
		return writeJSONL(records, f)
	}
}

func writeCSV(records []ResultRecord, f *os.File) error {
	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "prompt", "model", "response", "error", "success", "processing_time_ms"}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.ID, rec.Prompt, rec.Model, rec.Response, rec.Error,
			strconv.FormatBool(rec.Success),
			strconv.FormatInt(rec.ProcessingTimeMs, 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSONL(records []ResultRecord, f *os.File) error {
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return w.Flush()
}

// FailedPath derives the sibling path for failed results by inserting
// ".failed" before the extension: out.jsonl -> out.failed.jsonl.
func FailedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".failed" + ext
}
