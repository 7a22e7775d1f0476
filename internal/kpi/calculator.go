// Package kpi aggregates cleaned survey records into summary metrics.
package kpi

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"surveypulse/internal/cleaner"
	"surveypulse/internal/common"
	"surveypulse/internal/config"
)

// MetricValue is a computed metric. NaN marks a group with no contributing
// values and serializes as JSON null instead of crashing the encoder.
type MetricValue float64

// MarshalJSON renders NaN as null.
func (v MetricValue) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(v)) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(v))
}

// Group is one grouping-key row of a KPI table. Key values align with the
// table's GroupBy columns.
type Group struct {
	Key     []string               `json:"key"`
	Count   int                    `json:"count"`
	Metrics map[string]MetricValue `json:"metrics"`
}

// Table holds the computed groups for one KPI specification. Groups appear
// in first-seen input order, so identical record sets in the same order
// always produce identical tables.
type Table struct {
	GroupBy []string `json:"group_by"`
	Groups  []Group  `json:"groups"`
}

// Headline carries the fixed summary KPIs for the report body and email.
// Rates are NaN when no records contributed.
type Headline struct {
	TotalResponses     int         `json:"total_responses"`
	SatisfactionRate   MetricValue `json:"satisfaction_rate"`
	RecommendationRate MetricValue `json:"recommendation_rate"`
	MostUsedService    string      `json:"most_used_service"`
	TopRegion          string      `json:"top_region"`
}

// Compute aggregates the records once per KPI spec. Metric definitions that
// cannot apply to their column's declared type fail with a computation
// error before any group is built.
func Compute(records []cleaner.Record, kpiCfg config.KPIConfig, schema config.SchemaConfig) ([]Table, error) {
	tables := make([]Table, 0, len(kpiCfg.Groups))
	for _, spec := range kpiCfg.Groups {
		table, err := computeTable(records, spec, schema)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func computeTable(records []cleaner.Record, spec config.KPISpec, schema config.SchemaConfig) (Table, error) {
	for _, m := range spec.Metrics {
		if err := validateMetric(m, schema); err != nil {
			return Table{}, err
		}
	}

	table := Table{GroupBy: spec.GroupBy}
	index := make(map[string]int)
	groupRecords := make(map[string][]cleaner.Record)

	for _, rec := range records {
		key, keyValues := groupKey(rec, spec.GroupBy, schema)
		if _, seen := index[key]; !seen {
			index[key] = len(table.Groups)
			table.Groups = append(table.Groups, Group{Key: keyValues})
		}
		groupRecords[key] = append(groupRecords[key], rec)
	}

	for key, at := range index {
		group := &table.Groups[at]
		group.Count = len(groupRecords[key])
		group.Metrics = make(map[string]MetricValue, len(spec.Metrics))
		for _, m := range spec.Metrics {
			group.Metrics[m.Name] = aggregate(groupRecords[key], m, schema)
		}
	}

	return table, nil
}

func validateMetric(m config.MetricSpec, schema config.SchemaConfig) error {
	spec, ok := schema.Column(m.Column)
	if !ok {
		return common.NewComputationError(
			fmt.Sprintf("metric %q references undeclared column %q", m.Name, m.Column), nil)
	}

	switch m.Aggregate {
	case "count", "distinct":
		return nil
	case "mean", "rate":
		switch spec.Type {
		case config.TypeInt, config.TypeFloat, config.TypeBool:
			return nil
		default:
			return common.NewComputationError(
				fmt.Sprintf("metric %q: aggregate %q does not apply to %s column %q",
					m.Name, m.Aggregate, spec.Type, m.Column), nil)
		}
	default:
		return common.NewComputationError(
			fmt.Sprintf("metric %q: unknown aggregate %q", m.Name, m.Aggregate), nil)
	}
}

func aggregate(records []cleaner.Record, m config.MetricSpec, schema config.SchemaConfig) MetricValue {
	spec, _ := schema.Column(m.Column)

	switch m.Aggregate {
	case "count":
		n := 0
		for _, rec := range records {
			if _, ok := rec.Values[m.Column]; ok {
				n++
			}
		}
		return MetricValue(n)

	case "distinct":
		seen := make(map[string]struct{})
		for _, rec := range records {
			if v, ok := rec.Values[m.Column]; ok {
				seen[cleaner.CanonicalValue(v, spec)] = struct{}{}
			}
		}
		return MetricValue(len(seen))

	case "mean":
		sum, n := 0.0, 0
		for _, rec := range records {
			if f, ok := numeric(rec.Values[m.Column]); ok {
				sum += f
				n++
			}
		}
		if n == 0 {
			return MetricValue(math.NaN())
		}
		return MetricValue(sum / float64(n))

	case "rate":
		truthy, n := 0, 0
		for _, rec := range records {
			f, ok := numeric(rec.Values[m.Column])
			if !ok {
				continue
			}
			n++
			if f != 0 {
				truthy++
			}
		}
		if n == 0 {
			return MetricValue(math.NaN())
		}
		return MetricValue(float64(truthy) / float64(n))
	}

	return MetricValue(math.NaN())
}

// numeric converts a typed cell value to a float for aggregation. Bools
// count as 1 and 0, so mean over a bool column is its truthy rate.
func numeric(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// groupKey builds the composite key for one record. Categorical columns
// group by their canonical form; a missing value groups under the empty
// string.
func groupKey(rec cleaner.Record, groupBy []string, schema config.SchemaConfig) (string, []string) {
	values := make([]string, len(groupBy))
	for i, name := range groupBy {
		spec, _ := schema.Column(name)
		values[i] = cleaner.CanonicalValue(rec.Values[name], spec)
	}
	return strings.Join(values, "\x1f"), values
}

// ComputeHeadline derives the fixed summary KPIs: total responses, the
// satisfaction and recommendation rates, and the most frequent service and
// region (ties broken by first appearance).
func ComputeHeadline(records []cleaner.Record, spec *config.HeadlineSpec, schema config.SchemaConfig) Headline {
	h := Headline{
		TotalResponses:     len(records),
		SatisfactionRate:   MetricValue(math.NaN()),
		RecommendationRate: MetricValue(math.NaN()),
	}
	if spec == nil || len(records) == 0 {
		return h
	}

	h.SatisfactionRate = meanOf(records, spec.SatisfiedColumn)
	h.RecommendationRate = meanOf(records, spec.RecommendColumn)
	h.MostUsedService = mostFrequent(records, spec.ServiceColumn, schema)
	h.TopRegion = mostFrequent(records, spec.RegionColumn, schema)

	return h
}

func meanOf(records []cleaner.Record, column string) MetricValue {
	sum, n := 0.0, 0
	for _, rec := range records {
		if f, ok := numeric(rec.Values[column]); ok {
			sum += f
			n++
		}
	}
	if n == 0 {
		return MetricValue(math.NaN())
	}
	return MetricValue(sum / float64(n))
}

func mostFrequent(records []cleaner.Record, column string, schema config.SchemaConfig) string {
	spec, _ := schema.Column(column)

	counts := make(map[string]int)
	var order []string
	for _, rec := range records {
		v, ok := rec.Values[column]
		if !ok {
			continue
		}
		s := cleaner.CanonicalValue(v, spec)
		if _, seen := counts[s]; !seen {
			order = append(order, s)
		}
		counts[s]++
	}

	best, bestCount := "", 0
	for _, s := range order {
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}
	return best
}
