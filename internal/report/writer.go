// Package report serializes KPI results and cleaned records into run
// artifacts. Artifact names carry the run stamp and the source file name,
// so no run ever overwrites a prior run's output.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"surveypulse/internal/cleaner"
	"surveypulse/internal/common"
	"surveypulse/internal/kpi"
)

// Writer writes run artifacts into the output directory.
type Writer struct {
	outputDir string
	basename  string
	logger    *slog.Logger
}

// NewWriter creates a report writer for the given output directory.
func NewWriter(outputDir, basename string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{outputDir: outputDir, basename: basename, logger: logger}
}

// KPIDocument is the JSON artifact schema for one processed file.
type KPIDocument struct {
	RunID       string       `json:"run_id"`
	SourceFile  string       `json:"source_file"`
	GeneratedAt time.Time    `json:"generated_at"`
	Headline    kpi.Headline `json:"headline"`
	Tables      []kpi.Table  `json:"tables"`
}

// FileSummary is one row of the per-run file summary artifact.
type FileSummary struct {
	Filename     string
	RawRows      int
	CleanRows    int
	RejectedRows int
	DedupedRows  int
	Status       string
	Error        string
}

// WriteCleanedCSV writes the cleaned records of one file as a CSV with
// headers and a UTF-8 BOM for spreadsheet compatibility.
func (w *Writer) WriteCleanedCSV(stamp, sourceFile string, columns []string, records []cleaner.Record) (string, error) {
	path := w.artifactPath(sourceFile, "cleaned", stamp, "csv")

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = cleaner.FormatValue(rec.Values[col])
		}
		rows = append(rows, row)
	}

	if err := w.writeCSV(path, columns, rows); err != nil {
		return "", err
	}
	return path, nil
}

// WriteKPIJSON writes the KPI document for one file, indented JSON.
func (w *Writer) WriteKPIJSON(stamp string, doc KPIDocument) (string, error) {
	path := w.artifactPath(doc.SourceFile, "kpis", stamp, "json")

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", common.NewWriteError(filepath.Base(path), "failed to encode KPI document", err)
	}
	data = append(data, '\n')

	if err := w.writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// WriteKPIXLSX writes the KPI document as a workbook: a Headline sheet plus
// one sheet per KPI table.
func (w *Writer) WriteKPIXLSX(stamp string, doc KPIDocument) (string, error) {
	path := w.artifactPath(doc.SourceFile, "kpis", stamp, "xlsx")
	name := filepath.Base(path)

	f := excelize.NewFile()
	defer f.Close()

	const headlineSheet = "Headline"
	if err := f.SetSheetName("Sheet1", headlineSheet); err != nil {
		return "", common.NewWriteError(name, "failed to create headline sheet", err)
	}

	headlineRows := [][]any{
		{"total_responses", doc.Headline.TotalResponses},
		{"satisfaction_rate", metricCell(doc.Headline.SatisfactionRate)},
		{"recommendation_rate", metricCell(doc.Headline.RecommendationRate)},
		{"most_used_service", doc.Headline.MostUsedService},
		{"top_region", doc.Headline.TopRegion},
	}
	for i, row := range headlineRows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(headlineSheet, cell, &row); err != nil {
			return "", common.NewWriteError(name, "failed to write headline row", err)
		}
	}

	for i, table := range doc.Tables {
		sheet := fmt.Sprintf("KPI %d", i+1)
		if _, err := f.NewSheet(sheet); err != nil {
			return "", common.NewWriteError(name, "failed to create KPI sheet", err)
		}

		metricNames := metricColumns(table)
		header := make([]any, 0, len(table.GroupBy)+1+len(metricNames))
		for _, g := range table.GroupBy {
			header = append(header, g)
		}
		header = append(header, "count")
		for _, m := range metricNames {
			header = append(header, m)
		}
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return "", common.NewWriteError(name, "failed to write KPI header", err)
		}

		for rowIdx, group := range table.Groups {
			row := make([]any, 0, len(header))
			for _, v := range group.Key {
				row = append(row, v)
			}
			row = append(row, group.Count)
			for _, m := range metricNames {
				row = append(row, metricCell(group.Metrics[m]))
			}
			cell, _ := excelize.CoordinatesToCellName(1, rowIdx+2)
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return "", common.NewWriteError(name, "failed to write KPI row", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", common.NewWriteError(name, "failed to encode workbook", err)
	}
	if err := w.writeAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFileSummaryCSV writes the per-run summary, one row per input file.
func (w *Writer) WriteFileSummaryCSV(stamp string, summaries []FileSummary) (string, error) {
	path := filepath.Join(w.outputDir, fmt.Sprintf("%s_file_summary_%s.csv", w.basename, stamp))

	headers := []string{"filename", "raw_rows", "clean_rows", "rejected_rows", "deduped_rows", "status", "error"}
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Filename,
			fmt.Sprintf("%d", s.RawRows),
			fmt.Sprintf("%d", s.CleanRows),
			fmt.Sprintf("%d", s.RejectedRows),
			fmt.Sprintf("%d", s.DedupedRows),
			s.Status,
			s.Error,
		})
	}

	if err := w.writeCSV(path, headers, rows); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes previously written artifacts, used to clear partial output
// when a later stage of the same file fails.
func (w *Writer) Remove(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove partial artifact",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
}

// artifactPath builds <output>/<basename>_<source>_<kind>_<stamp>.<ext> with
// the source filename sanitized for use inside an artifact name.
func (w *Writer) artifactPath(sourceFile, kind, stamp, ext string) string {
	source := strings.NewReplacer(".", "_", " ", "_").Replace(sourceFile)
	return filepath.Join(w.outputDir, fmt.Sprintf("%s_%s_%s_%s.%s", w.basename, source, kind, stamp, ext))
}

// metricCell renders a metric as a worksheet cell value. NaN becomes an
// empty cell rather than an unrepresentable number.
func metricCell(v kpi.MetricValue) any {
	if math.IsNaN(float64(v)) {
		return ""
	}
	return float64(v)
}

func metricColumns(table kpi.Table) []string {
	if len(table.Groups) == 0 {
		return nil
	}
	names := make([]string, 0, len(table.Groups[0].Metrics))
	for name := range table.Groups[0].Metrics {
		names = append(names, name)
	}
	// Map order is random; sort for a stable artifact layout.
	sort.Strings(names)
	return names
}

// writeCSV writes headers and rows with a UTF-8 BOM, atomically.
func (w *Writer) writeCSV(path string, headers []string, rows [][]string) error {
	name := filepath.Base(path)

	w.logger.Info("writing CSV artifact",
		slog.String("path", path),
		slog.Int("record_count", len(rows)))

	var buf strings.Builder
	buf.Write([]byte{0xEF, 0xBB, 0xBF})

	writer := csv.NewWriter(&buf)
	if err := writer.Write(headers); err != nil {
		return common.NewWriteError(name, "failed to write headers", err)
	}
	for i, row := range rows {
		if err := writer.Write(row); err != nil {
			return common.NewWriteError(name, fmt.Sprintf("failed to write record %d", i), err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return common.NewWriteError(name, "failed to flush CSV", err)
	}

	return w.writeAtomic(path, []byte(buf.String()))
}

// writeAtomic writes to a temp file in the output directory and renames it
// into place, so a failed file never leaves a partial artifact behind.
func (w *Writer) writeAtomic(path string, data []byte) error {
	name := filepath.Base(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return common.NewWriteError(name, "failed to create output directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), name+".tmp*")
	if err != nil {
		return common.NewWriteError(name, "failed to create temp file", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return common.NewWriteError(name, "failed to write artifact", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return common.NewWriteError(name, "failed to close artifact", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return common.NewWriteError(name, "failed to finalize artifact", err)
	}
	return nil
}
