// Package health records the outcome of the most recent run in a single
// fixed-location status file. The file is overwritten every run; no history
// is kept.
package health

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StatusFilename is the fixed name of the status file inside the output
// directory.
const StatusFilename = "health.json"

// FileFailure summarizes one failed input file.
type FileFailure struct {
	File  string `json:"file"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// Status describes the outcome of the most recent run.
type Status struct {
	RunID            string        `json:"run_id"`
	Timestamp        time.Time     `json:"timestamp"`
	DurationSeconds  float64       `json:"duration_seconds"`
	OK               bool          `json:"ok"`
	Message          string        `json:"message"`
	FilesSeen        int           `json:"files_seen"`
	FilesSucceeded   int           `json:"files_succeeded"`
	FilesFailed      int           `json:"files_failed"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsRejected  int           `json:"records_rejected"`
	Failures         []FileFailure `json:"failures,omitempty"`
}

// Recorder writes and reads the status file.
type Recorder struct {
	outputDir string
	logger    *slog.Logger
}

// NewRecorder creates a recorder for the given output directory.
func NewRecorder(outputDir string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{outputDir: outputDir, logger: logger}
}

// Path returns the status file path.
func (r *Recorder) Path() string {
	return filepath.Join(r.outputDir, StatusFilename)
}

// Write overwrites the status file with the given status. It runs once at
// the end of every run, including after partial failures, so the file
// always reflects the most recent attempt.
func (r *Recorder) Write(status Status) error {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode health status: %w", err)
	}
	data = append(data, '\n')

	r.logger.Info("writing health status",
		slog.String("path", r.Path()),
		slog.Bool("ok", status.OK),
		slog.Int("files_succeeded", status.FilesSucceeded),
		slog.Int("files_failed", status.FilesFailed))

	if err := os.WriteFile(r.Path(), data, 0644); err != nil {
		return fmt.Errorf("failed to write health status: %w", err)
	}
	return nil
}

// Read returns the status of the last run. A missing file returns
// os.ErrNotExist wrapped with context; callers surface it as "no run yet".
func (r *Recorder) Read() (*Status, error) {
	data, err := os.ReadFile(r.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to read health status: %w", err)
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse health status: %w", err)
	}
	return &status, nil
}
