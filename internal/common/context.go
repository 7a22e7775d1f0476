package common

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RunContext carries the per-run values every stage needs. It is constructed
// once per invocation and never mutated afterwards; stages receive it by
// value instead of reaching for process-wide state.
type RunContext struct {
	RunID   string
	Started time.Time
	DryRun  bool
	Logger  *slog.Logger
}

// NewRunContext creates a run context with a fresh run ID.
func NewRunContext(dryRun bool, logger *slog.Logger) RunContext {
	if logger == nil {
		logger = slog.Default()
	}
	return RunContext{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		DryRun:  dryRun,
		Logger:  logger,
	}
}

// Stamp returns the timestamp used in artifact names, derived from the run
// start so every artifact of one run shares the same stamp.
func (rc RunContext) Stamp() string {
	return rc.Started.Format("20060102_150405")
}
