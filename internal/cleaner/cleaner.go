// Package cleaner normalizes raw survey records against a declared schema
// and removes duplicate rows by a configurable key.
package cleaner

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"surveypulse/internal/common"
	"surveypulse/internal/config"
	"surveypulse/internal/loader"
)

// Truthy and falsy spellings accepted for bool columns.
var (
	yesValues = map[string]struct{}{"yes": {}, "y": {}, "true": {}, "t": {}, "1": {}}
	noValues  = map[string]struct{}{"no": {}, "n": {}, "false": {}, "f": {}, "0": {}}
)

// Record is one cleaned survey row. Values holds typed cell values keyed by
// column name; a missing value is an absent key. Key is the dedup key, empty
// when no dedup columns are configured.
type Record struct {
	Values map[string]any
	Key    string
}

// Result is the outcome of cleaning one dataset.
type Result struct {
	Records  []Record
	Rejected int
	Deduped  int

	// RejectReasons counts rejected rows per reason, for the run log.
	RejectReasons map[string]int
}

// Clean validates the dataset against the schema, normalizes every row and
// deduplicates by the configured key. Rows failing coercion are rejected or
// patched with the column default, per the schema policy. The counts always
// satisfy len(Records) + Rejected + Deduped == len(ds.Rows).
func Clean(ds *loader.Dataset, schema config.SchemaConfig) (*Result, error) {
	if err := validateColumns(ds, schema); err != nil {
		return nil, err
	}

	defaults, err := coerceDefaults(schema)
	if err != nil {
		return nil, err
	}

	result := &Result{RejectReasons: make(map[string]int)}

	for _, raw := range ds.Rows {
		rec, reason := cleanRow(raw, ds, schema, defaults)
		if reason != "" {
			result.Rejected++
			result.RejectReasons[reason]++
			continue
		}
		result.Records = append(result.Records, rec)
	}

	result.Records, result.Deduped = dedupe(result.Records, schema)

	return result, nil
}

// validateColumns checks that every required column exists in the input.
// A column missing entirely fails the whole file, unlike individual missing
// values which reject single rows.
func validateColumns(ds *loader.Dataset, schema config.SchemaConfig) error {
	var missing []string
	for _, col := range schema.Columns {
		if col.Required && !ds.HasColumn(col.Name) {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		return common.NewValidationError("",
			fmt.Sprintf("missing required columns %v, available: %v", missing, ds.Columns))
	}
	return nil
}

// coerceDefaults parses each column's configured default once up front, so a
// bad default fails the file instead of silently rejecting every row.
func coerceDefaults(schema config.SchemaConfig) (map[string]any, error) {
	defaults := make(map[string]any)
	for _, col := range schema.Columns {
		if col.Default == "" {
			continue
		}
		v, ok := coerce(col.Default, col, schema.DateLayouts)
		if !ok {
			return nil, common.NewValidationError("",
				fmt.Sprintf("default %q for column %q does not parse as %s", col.Default, col.Name, col.Type))
		}
		defaults[col.Name] = v
	}
	return defaults, nil
}

// cleanRow normalizes one raw row. It returns the clean record, or a
// non-empty reject reason.
func cleanRow(raw loader.Record, ds *loader.Dataset, schema config.SchemaConfig, defaults map[string]any) (Record, string) {
	values := make(map[string]any, len(ds.Columns))

	for _, name := range ds.Columns {
		cell := strings.TrimSpace(raw[name])

		spec, declared := schema.Column(name)
		if !declared {
			// Undeclared columns pass through as trimmed text.
			if cell != "" {
				values[name] = cell
			}
			continue
		}

		if cell == "" {
			if spec.Required {
				return Record{}, "missing value in " + name
			}
			continue
		}

		v, ok := coerce(cell, spec, schema.DateLayouts)
		if !ok {
			if schema.OnBadValue == config.OnBadValueDefault {
				if d, has := defaults[name]; has {
					values[name] = d
					continue
				}
			}
			return Record{}, "bad value in " + name
		}

		if spec.Canonicalize {
			if s, isString := v.(string); isString {
				v = Canonical(s)
			}
		}
		values[name] = v
	}

	return Record{Values: values, Key: dedupKey(values, schema)}, ""
}

// coerce parses a trimmed cell per the column's declared type.
func coerce(cell string, spec config.ColumnSpec, dateLayouts []string) (any, bool) {
	switch spec.Type {
	case config.TypeInt:
		n, err := strconv.ParseInt(cell, 10, 64)
		return n, err == nil
	case config.TypeFloat:
		f, err := strconv.ParseFloat(cell, 64)
		return f, err == nil
	case config.TypeBool:
		lower := strings.ToLower(cell)
		if _, ok := yesValues[lower]; ok {
			return true, true
		}
		if _, ok := noValues[lower]; ok {
			return false, true
		}
		return nil, false
	case config.TypeDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, cell); err == nil {
				return t, true
			}
		}
		return nil, false
	default:
		return cell, true
	}
}

// Canonical returns the canonical form of a categorical value: whitespace
// collapsed to single spaces and title-cased, so "it  support" and
// "IT SUPPORT" compare equal.
func Canonical(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		lower := strings.ToLower(f)
		r, size := utf8.DecodeRuneInString(lower)
		fields[i] = string(unicode.ToTitle(r)) + lower[size:]
	}
	return strings.Join(fields, " ")
}

// CanonicalValue renders a cell value to the text used for dedup keys and
// KPI grouping. Categorical strings use their canonical form.
func CanonicalValue(v any, spec config.ColumnSpec) string {
	s := FormatValue(v)
	if spec.Categorical {
		return Canonical(s)
	}
	return s
}

// FormatValue renders a typed cell value back to text, for dedup keys and
// report output.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case time.Time:
		return val.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// dedupKey builds the ordered tuple of normalized key-column values. Rows
// missing a key column contribute an empty component, so they still compare
// deterministically.
func dedupKey(values map[string]any, schema config.SchemaConfig) string {
	if len(schema.DedupKeys) == 0 {
		return ""
	}

	parts := make([]string, len(schema.DedupKeys))
	for i, name := range schema.DedupKeys {
		spec, _ := schema.Column(name)
		parts[i] = CanonicalValue(values[name], spec)
	}
	return strings.Join(parts, "\x1f")
}

// dedupe removes key collisions. Output keeps first-seen key order; the
// keep-last policy replaces the record retained for a key with the latest
// occurrence. With no dedup keys configured every record is kept.
func dedupe(records []Record, schema config.SchemaConfig) ([]Record, int) {
	if len(schema.DedupKeys) == 0 {
		return records, 0
	}

	kept := records[:0:0]
	index := make(map[string]int)
	removed := 0

	for _, rec := range records {
		at, seen := index[rec.Key]
		if !seen {
			index[rec.Key] = len(kept)
			kept = append(kept, rec)
			continue
		}
		removed++
		if schema.DedupKeep == config.KeepLast {
			kept[at] = rec
		}
	}

	return kept, removed
}
