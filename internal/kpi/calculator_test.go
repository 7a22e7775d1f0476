package kpi

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveypulse/internal/cleaner"
	"surveypulse/internal/common"
	"surveypulse/internal/config"
)

func testSchema() config.SchemaConfig {
	return config.SchemaConfig{
		Columns: []config.ColumnSpec{
			{Name: "response_id", Type: config.TypeString},
			{Name: "service", Type: config.TypeString, Categorical: true},
			{Name: "region", Type: config.TypeString, Categorical: true},
			{Name: "rating", Type: config.TypeInt},
			{Name: "satisfied", Type: config.TypeBool},
			{Name: "recommend", Type: config.TypeBool},
		},
	}
}

func record(values map[string]any) cleaner.Record {
	return cleaner.Record{Values: values}
}

func testRecords() []cleaner.Record {
	return []cleaner.Record{
		record(map[string]any{"response_id": "r1", "service": "Billing", "region": "North", "rating": int64(5), "satisfied": true, "recommend": true}),
		record(map[string]any{"response_id": "r2", "service": "Billing", "region": "South", "rating": int64(3), "satisfied": false, "recommend": true}),
		record(map[string]any{"response_id": "r3", "service": "Sales", "region": "North", "rating": int64(4), "satisfied": true, "recommend": false}),
		record(map[string]any{"response_id": "r4", "service": "billing", "region": "North", "rating": int64(4), "satisfied": true, "recommend": true}),
	}
}

func TestComputeGroupedMetrics(t *testing.T) {
	cfg := config.KPIConfig{
		Groups: []config.KPISpec{{
			GroupBy: []string{"service"},
			Metrics: []config.MetricSpec{
				{Name: "responses", Column: "response_id", Aggregate: "count"},
				{Name: "avg_rating", Column: "rating", Aggregate: "mean"},
				{Name: "satisfaction", Column: "satisfied", Aggregate: "rate"},
			},
		}},
	}

	tables, err := Compute(testRecords(), cfg, testSchema())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Len(t, tables[0].Groups, 2)

	// Groups appear in first-seen order; "billing" folds into "Billing".
	billing := tables[0].Groups[0]
	assert.Equal(t, []string{"Billing"}, billing.Key)
	assert.Equal(t, 3, billing.Count)
	assert.InDelta(t, 3.0, float64(billing.Metrics["responses"]), 1e-9)
	assert.InDelta(t, 4.0, float64(billing.Metrics["avg_rating"]), 1e-9)
	assert.InDelta(t, 2.0/3.0, float64(billing.Metrics["satisfaction"]), 1e-9)

	sales := tables[0].Groups[1]
	assert.Equal(t, []string{"Sales"}, sales.Key)
	assert.Equal(t, 1, sales.Count)
}

func TestComputeDistinct(t *testing.T) {
	cfg := config.KPIConfig{
		Groups: []config.KPISpec{{
			GroupBy: []string{"region"},
			Metrics: []config.MetricSpec{
				{Name: "services_used", Column: "service", Aggregate: "distinct"},
			},
		}},
	}

	tables, err := Compute(testRecords(), cfg, testSchema())
	require.NoError(t, err)
	require.Len(t, tables[0].Groups, 2)

	north := tables[0].Groups[0]
	assert.Equal(t, []string{"North"}, north.Key)
	assert.InDelta(t, 2.0, float64(north.Metrics["services_used"]), 1e-9)
}

func TestComputeIsDeterministic(t *testing.T) {
	cfg := config.KPIConfig{
		Groups: []config.KPISpec{{
			GroupBy: []string{"service", "region"},
			Metrics: []config.MetricSpec{
				{Name: "responses", Column: "response_id", Aggregate: "count"},
			},
		}},
	}

	first, err := Compute(testRecords(), cfg, testSchema())
	require.NoError(t, err)
	second, err := Compute(testRecords(), cfg, testSchema())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestComputeRejectsBadMetrics(t *testing.T) {
	tests := []struct {
		name   string
		metric config.MetricSpec
	}{
		{"unknown aggregate", config.MetricSpec{Name: "m", Column: "rating", Aggregate: "median"}},
		{"mean of string column", config.MetricSpec{Name: "m", Column: "service", Aggregate: "mean"}},
		{"rate of string column", config.MetricSpec{Name: "m", Column: "service", Aggregate: "rate"}},
		{"undeclared column", config.MetricSpec{Name: "m", Column: "ghost", Aggregate: "count"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.KPIConfig{
				Groups: []config.KPISpec{{Metrics: []config.MetricSpec{tt.metric}}},
			}
			_, err := Compute(testRecords(), cfg, testSchema())
			require.Error(t, err)
			assert.True(t, common.IsKind(err, common.KindComputation))
		})
	}
}

func TestMeanOfEmptyGroupIsNaN(t *testing.T) {
	cfg := config.KPIConfig{
		Groups: []config.KPISpec{{
			GroupBy: []string{"service"},
			Metrics: []config.MetricSpec{
				{Name: "avg_rating", Column: "rating", Aggregate: "mean"},
			},
		}},
	}

	records := []cleaner.Record{
		record(map[string]any{"response_id": "r1", "service": "Billing"}),
	}

	tables, err := Compute(records, cfg, testSchema())
	require.NoError(t, err)
	require.Len(t, tables[0].Groups, 1)
	assert.True(t, math.IsNaN(float64(tables[0].Groups[0].Metrics["avg_rating"])))
}

func TestMetricValueMarshalsNaNAsNull(t *testing.T) {
	data, err := json.Marshal(map[string]MetricValue{
		"empty": MetricValue(math.NaN()),
		"value": MetricValue(0.5),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"empty": null, "value": 0.5}`, string(data))
}

func TestComputeHeadline(t *testing.T) {
	spec := &config.HeadlineSpec{
		ServiceColumn:   "service",
		RegionColumn:    "region",
		SatisfiedColumn: "satisfied",
		RecommendColumn: "recommend",
	}

	h := ComputeHeadline(testRecords(), spec, testSchema())
	assert.Equal(t, 4, h.TotalResponses)
	assert.InDelta(t, 0.75, float64(h.SatisfactionRate), 1e-9)
	assert.InDelta(t, 0.75, float64(h.RecommendationRate), 1e-9)
	assert.Equal(t, "Billing", h.MostUsedService)
	assert.Equal(t, "North", h.TopRegion)
}

func TestComputeHeadlineEmpty(t *testing.T) {
	h := ComputeHeadline(nil, &config.HeadlineSpec{}, testSchema())
	assert.Zero(t, h.TotalResponses)
	assert.True(t, math.IsNaN(float64(h.SatisfactionRate)))
	assert.True(t, math.IsNaN(float64(h.RecommendationRate)))
	assert.Empty(t, h.MostUsedService)
}

func TestComputeHeadlineNilSpec(t *testing.T) {
	h := ComputeHeadline(testRecords(), nil, testSchema())
	assert.Equal(t, 4, h.TotalResponses)
	assert.True(t, math.IsNaN(float64(h.SatisfactionRate)))
}
