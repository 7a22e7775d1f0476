// Package loader reads survey input files into a uniform tabular form.
// The format is inferred from the file extension: delimited text (.csv),
// spreadsheets (.xlsx, .xls) and JSON arrays of objects (.json).
package loader

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"surveypulse/internal/common"
)

// Record is one raw input row, a mapping from column name to the cell's
// text. Values keep their source representation; typing happens in the
// cleaner.
type Record map[string]string

// Dataset is the uniform tabular representation of one input file.
type Dataset struct {
	Columns []string
	Rows    []Record
}

// HasColumn reports whether the dataset carries the named column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Load reads the file at path into a Dataset. A file that cannot be parsed,
// has no header, or has no data rows fails with a load error.
func Load(path string) (*Dataset, error) {
	name := filepath.Base(path)

	var (
		ds  *Dataset
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls":
		ds, err = loadExcel(path)
	case ".json":
		ds, err = loadJSON(path)
	case ".csv":
		ds, err = loadCSV(path)
	default:
		return nil, common.NewLoadError(name, fmt.Sprintf("unsupported file extension %q", filepath.Ext(path)), nil)
	}
	if err != nil {
		return nil, err
	}

	if len(ds.Columns) == 0 {
		return nil, common.NewLoadError(name, "file has no columns", nil)
	}
	if len(ds.Rows) == 0 {
		return nil, common.NewLoadError(name, "file has no data rows", nil)
	}

	return ds, nil
}

func loadCSV(path string) (*Dataset, error) {
	name := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewLoadError(name, "failed to read file", err)
	}

	// Strip a UTF-8 BOM so the first header cell matches the schema.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, common.NewLoadError(name, "malformed CSV", err)
	}
	if len(rows) == 0 {
		return nil, common.NewLoadError(name, "file is empty", nil)
	}

	return fromRows(rows), nil
}

func loadExcel(path string) (*Dataset, error) {
	name := filepath.Base(path)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, common.NewLoadError(name, "failed to open workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, common.NewLoadError(name, "workbook has no sheets", nil)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, common.NewLoadError(name, fmt.Sprintf("failed to read sheet %q", sheets[0]), err)
	}
	if len(rows) == 0 {
		return nil, common.NewLoadError(name, "file is empty", nil)
	}

	return fromRows(rows), nil
}

func loadJSON(path string) (*Dataset, error) {
	name := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewLoadError(name, "failed to read file", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var objects []map[string]any
	if err := decoder.Decode(&objects); err != nil {
		return nil, common.NewLoadError(name, "malformed JSON, expected an array of objects", err)
	}
	if len(objects) == 0 {
		return nil, common.NewLoadError(name, "file is empty", nil)
	}

	// Column order for JSON input is lexicographic: object keys carry no
	// order of their own.
	columnSet := make(map[string]struct{})
	for _, obj := range objects {
		for key := range obj {
			columnSet[key] = struct{}{}
		}
	}
	columns := make([]string, 0, len(columnSet))
	for key := range columnSet {
		columns = append(columns, key)
	}
	sort.Strings(columns)

	records := make([]Record, 0, len(objects))
	for _, obj := range objects {
		rec := make(Record, len(columns))
		for _, col := range columns {
			rec[col] = scalarText(obj[col])
		}
		records = append(records, rec)
	}

	return &Dataset{Columns: columns, Rows: records}, nil
}

// fromRows builds a dataset from header-plus-data rows. Short rows are
// padded with empty values; cells past the header are dropped.
func fromRows(rows [][]string) *Dataset {
	columns := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		columns[i] = strings.TrimSpace(h)
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(Record, len(columns))
		for i, col := range columns {
			if i < len(row) {
				rec[col] = row[i]
			} else {
				rec[col] = ""
			}
		}
		records = append(records, rec)
	}

	return &Dataset{Columns: columns, Rows: records}
}

// scalarText renders a decoded JSON value to the text the cleaner expects.
func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}
