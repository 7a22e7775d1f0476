package pipeline

import (
	"time"

	"surveypulse/internal/cleaner"
	"surveypulse/internal/common"
)

// FileState tracks one input file through the run. Every file ends in
// StateArchived or StateFailed.
type FileState string

const (
	StateDiscovered  FileState = "discovered"
	StateLoading     FileState = "loading"
	StateCleaning    FileState = "cleaning"
	StateAggregating FileState = "aggregating"
	StateReporting   FileState = "reporting"
	StateArchived    FileState = "archived"
	StateFailed      FileState = "failed"
)

// FileResult is the per-file outcome of a run.
type FileResult struct {
	Name  string
	Path  string
	State FileState

	RawRows      int
	CleanRows    int
	RejectedRows int
	DedupedRows  int

	Artifacts  []string
	ArchivedTo string

	// FailedState is the state the file was in when it failed.
	FailedState FileState
	Err         error

	Started time.Time
	Ended   time.Time

	// records holds the cleaned rows of a succeeded file, feeding the
	// run-level headline for the email body.
	records []cleaner.Record
}

// Succeeded reports whether the file reached the archived state.
func (f *FileResult) Succeeded() bool {
	return f.State == StateArchived
}

// Duration returns how long the file took to process.
func (f *FileResult) Duration() time.Duration {
	if f.Ended.IsZero() {
		return 0
	}
	return f.Ended.Sub(f.Started)
}

// enter moves the file to the next state.
func (f *FileResult) enter(state FileState) {
	f.State = state
}

// fail marks the file failed, remembering where it was.
func (f *FileResult) fail(err error) {
	f.FailedState = f.State
	f.State = StateFailed
	f.Err = err
	f.Ended = time.Now()
}

// complete marks the file archived.
func (f *FileResult) complete(archivedTo string) {
	f.State = StateArchived
	f.ArchivedTo = archivedTo
	f.Ended = time.Now()
}

// RunReport is the aggregate outcome of one run.
type RunReport struct {
	Run     common.RunContext
	Files   []FileResult
	OK      bool
	Message string

	// Run-level artifact paths (file summary plus per-file artifacts).
	Artifacts []string

	HealthPath string
	Ended      time.Time
}

// FilesSucceeded counts the files that were archived.
func (r *RunReport) FilesSucceeded() int {
	n := 0
	for i := range r.Files {
		if r.Files[i].Succeeded() {
			n++
		}
	}
	return n
}

// FilesFailed counts the files that ended in the failed state.
func (r *RunReport) FilesFailed() int {
	return len(r.Files) - r.FilesSucceeded()
}

// RecordsProcessed sums clean records over succeeded files.
func (r *RunReport) RecordsProcessed() int {
	n := 0
	for i := range r.Files {
		if r.Files[i].Succeeded() {
			n += r.Files[i].CleanRows
		}
	}
	return n
}

// RecordsRejected sums rejected rows over all files that got far enough to
// be cleaned.
func (r *RunReport) RecordsRejected() int {
	n := 0
	for i := range r.Files {
		n += r.Files[i].RejectedRows
	}
	return n
}
