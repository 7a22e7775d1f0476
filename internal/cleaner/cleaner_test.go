package cleaner

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveypulse/internal/common"
	"surveypulse/internal/config"
	"surveypulse/internal/loader"
)

func testSchema() config.SchemaConfig {
	return config.SchemaConfig{
		Columns: []config.ColumnSpec{
			{Name: "response_id", Type: config.TypeString, Required: true},
			{Name: "service", Type: config.TypeString, Required: true, Categorical: true, Canonicalize: true},
			{Name: "rating", Type: config.TypeInt},
			{Name: "satisfied", Type: config.TypeBool},
			{Name: "submitted_at", Type: config.TypeDate},
		},
		DedupKeys:   []string{"response_id"},
		DedupKeep:   config.KeepFirst,
		OnBadValue:  config.OnBadValueDrop,
		DateLayouts: []string{"2006-01-02", "01/02/2006"},
	}
}

func dataset(rows ...loader.Record) *loader.Dataset {
	return &loader.Dataset{
		Columns: []string{"response_id", "service", "rating", "satisfied", "submitted_at"},
		Rows:    rows,
	}
}

func TestCleanTypesAndCanonicalizes(t *testing.T) {
	ds := dataset(loader.Record{
		"response_id":  " r1 ",
		"service":      "it   SUPPORT",
		"rating":       "4",
		"satisfied":    "Yes",
		"submitted_at": "2026-08-17",
	})

	result, err := Clean(ds, testSchema())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	values := result.Records[0].Values
	assert.Equal(t, "r1", values["response_id"])
	assert.Equal(t, "It Support", values["service"])
	assert.Equal(t, int64(4), values["rating"])
	assert.Equal(t, true, values["satisfied"])
	assert.Equal(t, time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC), values["submitted_at"])
}

func TestCleanRowConservation(t *testing.T) {
	ds := dataset(
		loader.Record{"response_id": "r1", "service": "Billing", "rating": "5"},
		loader.Record{"response_id": "r1", "service": "Billing", "rating": "3"}, // duplicate key
		loader.Record{"response_id": "r2", "service": "", "rating": "4"},        // missing required value
		loader.Record{"response_id": "r3", "service": "Sales", "rating": "bad"}, // bad int
		loader.Record{"response_id": "r4", "service": "Sales", "rating": "1"},
	)

	result, err := Clean(ds, testSchema())
	require.NoError(t, err)

	assert.Len(t, result.Records, 3)
	assert.Equal(t, 1, result.Deduped)
	assert.Equal(t, 2, result.Rejected)
	assert.Equal(t, len(ds.Rows), len(result.Records)+result.Rejected+result.Deduped)

	assert.Equal(t, 1, result.RejectReasons["missing value in service"])
	assert.Equal(t, 1, result.RejectReasons["bad value in rating"])
}

func TestCleanMissingRequiredColumnFailsFile(t *testing.T) {
	ds := &loader.Dataset{
		Columns: []string{"service"},
		Rows:    []loader.Record{{"service": "Billing"}},
	}

	_, err := Clean(ds, testSchema())
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindValidation))
	assert.Contains(t, err.Error(), "response_id")
}

func TestCleanBadValueDefaultPolicy(t *testing.T) {
	schema := testSchema()
	schema.OnBadValue = config.OnBadValueDefault
	for i := range schema.Columns {
		if schema.Columns[i].Name == "rating" {
			schema.Columns[i].Default = "3"
		}
	}

	ds := dataset(loader.Record{"response_id": "r1", "service": "Billing", "rating": "five"})

	result, err := Clean(ds, schema)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, int64(3), result.Records[0].Values["rating"])
	assert.Zero(t, result.Rejected)
}

func TestCleanBadDefaultFailsFile(t *testing.T) {
	schema := testSchema()
	for i := range schema.Columns {
		if schema.Columns[i].Name == "rating" {
			schema.Columns[i].Default = "not-a-number"
		}
	}

	_, err := Clean(dataset(loader.Record{"response_id": "r1", "service": "Billing"}), schema)
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindValidation))
}

func TestDedupeKeepFirst(t *testing.T) {
	ds := dataset(
		loader.Record{"response_id": "r1", "service": "Billing", "rating": "5"},
		loader.Record{"response_id": "r2", "service": "Sales", "rating": "2"},
		loader.Record{"response_id": "r1", "service": "Billing", "rating": "1"},
	)

	result, err := Clean(ds, testSchema())
	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	assert.Equal(t, int64(5), result.Records[0].Values["rating"])
	assert.Equal(t, "r2", result.Records[1].Values["response_id"])
	assert.Equal(t, 1, result.Deduped)
}

func TestDedupeKeepLastPreservesOrder(t *testing.T) {
	schema := testSchema()
	schema.DedupKeep = config.KeepLast

	ds := dataset(
		loader.Record{"response_id": "r1", "service": "Billing", "rating": "5"},
		loader.Record{"response_id": "r2", "service": "Sales", "rating": "2"},
		loader.Record{"response_id": "r1", "service": "Billing", "rating": "1"},
	)

	result, err := Clean(ds, schema)
	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	// Latest record wins, but the key keeps its first-seen position.
	assert.Equal(t, "r1", result.Records[0].Values["response_id"])
	assert.Equal(t, int64(1), result.Records[0].Values["rating"])
	assert.Equal(t, "r2", result.Records[1].Values["response_id"])
}

func TestDedupeCompositeKeyKeepFirst(t *testing.T) {
	schema := config.SchemaConfig{
		Columns: []config.ColumnSpec{
			{Name: "service", Type: config.TypeString, Categorical: true},
			{Name: "region", Type: config.TypeString, Categorical: true},
			{Name: "satisfaction", Type: config.TypeInt},
		},
		DedupKeys: []string{"service", "region"},
		DedupKeep: config.KeepFirst,
	}

	ds := &loader.Dataset{
		Columns: []string{"service", "region", "satisfaction"},
		Rows: []loader.Record{
			{"service": "Billing", "region": "North", "satisfaction": "5"},
			{"service": "billing", "region": "NORTH", "satisfaction": "3"},
		},
	}

	result, err := Clean(ds, schema)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, int64(5), result.Records[0].Values["satisfaction"])
	assert.Equal(t, 1, result.Deduped)
}

func TestCleanIsIdempotent(t *testing.T) {
	ds := dataset(
		loader.Record{"response_id": "r1", "service": "Billing", "rating": "5"},
		loader.Record{"response_id": "r1", "service": "Billing", "rating": "5"},
		loader.Record{"response_id": "r2", "service": "sales"},
	)

	first, err := Clean(ds, testSchema())
	require.NoError(t, err)

	// Re-clean the already-clean records: nothing more is rejected or deduped.
	columns := []string{"response_id", "service", "rating", "satisfied", "submitted_at"}
	again := &loader.Dataset{Columns: columns}
	for _, rec := range first.Records {
		raw := make(loader.Record, len(columns))
		for _, col := range columns {
			raw[col] = FormatValue(rec.Values[col])
		}
		again.Rows = append(again.Rows, raw)
	}

	second, err := Clean(again, testSchema())
	require.NoError(t, err)
	assert.Zero(t, second.Rejected)
	assert.Zero(t, second.Deduped)
	assert.Equal(t, len(first.Records), len(second.Records))
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"it  support", "It Support"},
		{"IT SUPPORT", "It Support"},
		{"  billing ", "Billing"},
		{"a", "A"},
		{"", ""},
		{"überlingen", "Überlingen"},
		{"ñuñoa norte", "Ñuñoa Norte"},
		{"ÜBERLINGEN SÜD", "Überlingen Süd"},
	}
	for _, tt := range tests {
		got := Canonical(tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
		assert.True(t, utf8.ValidString(got), "input %q", tt.in)
	}
}

func TestBoolSpellings(t *testing.T) {
	spec := config.ColumnSpec{Name: "satisfied", Type: config.TypeBool}

	for _, s := range []string{"yes", "Y", "TRUE", "t", "1"} {
		v, ok := coerce(s, spec, nil)
		require.True(t, ok, "input %q", s)
		assert.Equal(t, true, v, "input %q", s)
	}
	for _, s := range []string{"no", "N", "False", "f", "0"} {
		v, ok := coerce(s, spec, nil)
		require.True(t, ok, "input %q", s)
		assert.Equal(t, false, v, "input %q", s)
	}
	_, ok := coerce("maybe", spec, nil)
	assert.False(t, ok)
}

func TestUndeclaredColumnsPassThrough(t *testing.T) {
	ds := &loader.Dataset{
		Columns: []string{"response_id", "service", "comment"},
		Rows: []loader.Record{
			{"response_id": "r1", "service": "Billing", "comment": "  fine  "},
		},
	}

	result, err := Clean(ds, testSchema())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "fine", result.Records[0].Values["comment"])
}
