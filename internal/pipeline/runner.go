// Package pipeline orchestrates one report run: discover inbox files, clean
// and aggregate each one, write artifacts, archive the input and record the
// outcome in the health status file. Files fail independently; one bad input
// never stops the rest of the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"surveypulse/internal/cleaner"
	"surveypulse/internal/common"
	"surveypulse/internal/config"
	"surveypulse/internal/files"
	"surveypulse/internal/health"
	"surveypulse/internal/kpi"
	"surveypulse/internal/loader"
	"surveypulse/internal/mailer"
	"surveypulse/internal/report"
)

// Runner executes one full run.
type Runner struct {
	cfg       *config.Config
	discovery *files.Discovery
	manager   *files.Manager
	writer    *report.Writer
	recorder  *health.Recorder
	mailer    *mailer.Mailer
	logger    *slog.Logger
}

// NewRunner wires the run stages from the configuration.
func NewRunner(cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:       cfg,
		discovery: files.NewDiscovery(cfg.Dirs.Inbox),
		manager:   files.NewManager(logger),
		writer:    report.NewWriter(cfg.Dirs.Output, cfg.Report.Basename, logger),
		recorder:  health.NewRecorder(cfg.Dirs.Output, logger),
		mailer:    mailer.NewMailer(cfg.Email, logger),
		logger:    logger,
	}
}

// Run executes the pipeline. Per-file load, validation, computation and write
// failures are contained: the file moves to the failed directory and the run
// continues. The health status file is written exactly once, at the end,
// whatever happened before; only an error writing it (or an unclassified
// error escaping a stage) makes Run itself fail.
func (r *Runner) Run(ctx context.Context, run common.RunContext) (*RunReport, error) {
	rep := &RunReport{Run: run, OK: true}

	log := run.Logger.With(slog.String("run_id", run.RunID))
	log.Info("starting run",
		slog.String("inbox", r.cfg.Dirs.Inbox),
		slog.Bool("dry_run", run.DryRun))

	if err := r.cfg.EnsureDirs(); err != nil {
		return rep, err
	}

	discovered, err := r.discovery.Find(r.cfg.Input.Globs)
	if err != nil {
		return rep, fmt.Errorf("file discovery failed: %w", err)
	}
	log.Info("discovered input files", slog.Int("count", len(discovered)))

	var allRecords []cleaner.Record
	for _, file := range discovered {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		result := r.processFile(run, file)
		rep.Files = append(rep.Files, result)
		rep.Artifacts = append(rep.Artifacts, result.Artifacts...)
		if result.Succeeded() {
			allRecords = append(allRecords, result.records...)
		}
	}

	headline := kpi.ComputeHeadline(allRecords, r.cfg.KPI.Headline, r.cfg.Schema)

	if len(discovered) > 0 {
		path, err := r.writeSummary(run, rep)
		switch {
		case err != nil:
			log.Error("failed to write file summary", slog.String("error", err.Error()))
			rep.OK = false
			rep.Message = "file summary write failed: " + err.Error()
		case path != "":
			rep.Artifacts = append(rep.Artifacts, path)
		}
	}

	if rep.FilesFailed() > 0 {
		rep.OK = false
		rep.Message = fmt.Sprintf("%d of %d files failed", rep.FilesFailed(), len(rep.Files))
	}

	if err := r.mailer.Send(headline, rep.Artifacts, run.DryRun); err != nil {
		// Email failure degrades the health status but does not fail the run.
		log.Error("failed to send report email", slog.String("error", err.Error()))
		rep.OK = false
		if rep.Message == "" {
			rep.Message = "email delivery failed: " + err.Error()
		}
	}

	rep.Ended = time.Now()
	if rep.Message == "" {
		if len(discovered) == 0 {
			rep.Message = "no input files"
		} else {
			rep.Message = "run completed"
		}
	}

	rep.HealthPath = r.recorder.Path()
	if err := r.recorder.Write(r.status(rep)); err != nil {
		return rep, err
	}

	log.Info("run finished",
		slog.Bool("ok", rep.OK),
		slog.Int("files_succeeded", rep.FilesSucceeded()),
		slog.Int("files_failed", rep.FilesFailed()),
		slog.Duration("duration", rep.Ended.Sub(run.Started)))

	return rep, nil
}

// processFile takes one input file through the state machine. Any pipeline
// error fails the file, clears its partial artifacts and moves it to the
// failed directory; the error is recorded on the result, never returned.
func (r *Runner) processFile(run common.RunContext, file files.FileInfo) FileResult {
	result := FileResult{
		Name:    file.Name,
		Path:    file.Path,
		State:   StateDiscovered,
		Started: time.Now(),
	}

	log := run.Logger.With(
		slog.String("run_id", run.RunID),
		slog.String("file", file.Name))
	log.Info("processing file", slog.Int64("size", file.Size))

	err := r.runStages(run, file, &result, log)
	if err == nil {
		log.Info("file archived",
			slog.String("dest", result.ArchivedTo),
			slog.Int("clean_rows", result.CleanRows),
			slog.Duration("duration", result.Duration()))
		return result
	}

	result.fail(err)
	log.Error("file failed",
		slog.String("state", string(result.FailedState)),
		slog.String("kind", string(common.KindOf(err))),
		slog.String("error", err.Error()))

	// A failed file leaves no artifacts behind.
	if !run.DryRun {
		r.writer.Remove(result.Artifacts)
	}
	result.Artifacts = nil

	if _, moveErr := r.manager.Archive(file.Path, r.cfg.Dirs.Failed, run.DryRun); moveErr != nil {
		log.Error("failed to move file to failed directory",
			slog.String("error", moveErr.Error()))
	}

	return result
}

// runStages runs the load, clean, aggregate, report and archive stages for
// one file, advancing the result's state as it goes.
func (r *Runner) runStages(run common.RunContext, file files.FileInfo, result *FileResult, log *slog.Logger) error {
	result.enter(StateLoading)
	ds, err := loader.Load(file.Path)
	if err != nil {
		return err
	}
	result.RawRows = len(ds.Rows)

	result.enter(StateCleaning)
	cleaned, err := cleaner.Clean(ds, r.cfg.Schema)
	if err != nil {
		return err
	}
	result.CleanRows = len(cleaned.Records)
	result.RejectedRows = cleaned.Rejected
	result.DedupedRows = cleaned.Deduped
	result.records = cleaned.Records
	for reason, n := range cleaned.RejectReasons {
		log.Warn("rejected rows", slog.String("reason", reason), slog.Int("count", n))
	}

	result.enter(StateAggregating)
	tables, err := kpi.Compute(cleaned.Records, r.cfg.KPI, r.cfg.Schema)
	if err != nil {
		return err
	}
	headline := kpi.ComputeHeadline(cleaned.Records, r.cfg.KPI.Headline, r.cfg.Schema)

	result.enter(StateReporting)
	if err := r.writeArtifacts(run, file, result, cleaned, tables, headline); err != nil {
		return err
	}

	dest, err := r.manager.Archive(file.Path, r.cfg.Dirs.Processed, run.DryRun)
	if err != nil {
		return common.NewWriteError(file.Name, "failed to archive input file", err)
	}
	result.complete(dest)
	return nil
}

// writeArtifacts writes the enabled artifacts for one file. In dry-run mode
// nothing touches the filesystem; the artifacts that would be written are
// only logged.
func (r *Runner) writeArtifacts(run common.RunContext, file files.FileInfo, result *FileResult, cleaned *cleaner.Result, tables []kpi.Table, headline kpi.Headline) error {
	if run.DryRun {
		run.Logger.Info("dry run: skipping artifact writes",
			slog.String("file", file.Name))
		return nil
	}

	stamp := run.Stamp()
	doc := report.KPIDocument{
		RunID:       run.RunID,
		SourceFile:  file.Name,
		GeneratedAt: time.Now().UTC(),
		Headline:    headline,
		Tables:      tables,
	}

	if r.cfg.Report.WriteCleanedCSV {
		columns := orderedColumns(r.cfg.Schema)
		path, err := r.writer.WriteCleanedCSV(stamp, file.Name, columns, cleaned.Records)
		if err != nil {
			return err
		}
		result.Artifacts = append(result.Artifacts, path)
	}

	if r.cfg.Report.WriteKPIJSON {
		path, err := r.writer.WriteKPIJSON(stamp, doc)
		if err != nil {
			return err
		}
		result.Artifacts = append(result.Artifacts, path)
	}

	if r.cfg.Report.WriteKPIXLSX {
		path, err := r.writer.WriteKPIXLSX(stamp, doc)
		if err != nil {
			return err
		}
		result.Artifacts = append(result.Artifacts, path)
	}

	return nil
}

// writeSummary writes the per-run file summary artifact.
func (r *Runner) writeSummary(run common.RunContext, rep *RunReport) (string, error) {
	if run.DryRun {
		run.Logger.Info("dry run: skipping file summary write")
		return "", nil
	}

	summaries := make([]report.FileSummary, 0, len(rep.Files))
	for i := range rep.Files {
		f := &rep.Files[i]
		s := report.FileSummary{
			Filename:     f.Name,
			RawRows:      f.RawRows,
			CleanRows:    f.CleanRows,
			RejectedRows: f.RejectedRows,
			DedupedRows:  f.DedupedRows,
			Status:       string(f.State),
		}
		if f.Err != nil {
			s.Error = f.Err.Error()
		}
		summaries = append(summaries, s)
	}

	return r.writer.WriteFileSummaryCSV(run.Stamp(), summaries)
}

// status converts the run report into the health status record.
func (r *Runner) status(rep *RunReport) health.Status {
	status := health.Status{
		RunID:            rep.Run.RunID,
		Timestamp:        rep.Ended.UTC(),
		DurationSeconds:  rep.Ended.Sub(rep.Run.Started).Seconds(),
		OK:               rep.OK,
		Message:          rep.Message,
		FilesSeen:        len(rep.Files),
		FilesSucceeded:   rep.FilesSucceeded(),
		FilesFailed:      rep.FilesFailed(),
		RecordsProcessed: rep.RecordsProcessed(),
		RecordsRejected:  rep.RecordsRejected(),
	}

	for i := range rep.Files {
		f := &rep.Files[i]
		if f.Err == nil {
			continue
		}
		status.Failures = append(status.Failures, health.FileFailure{
			File:  f.Name,
			Stage: string(f.FailedState),
			Error: f.Err.Error(),
		})
	}

	return status
}

// orderedColumns returns the declared column names in schema order, the
// column order of the cleaned CSV artifact.
func orderedColumns(schema config.SchemaConfig) []string {
	names := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		names[i] = col.Name
	}
	return names
}
