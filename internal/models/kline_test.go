package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRow() []string {
	return []string{
		"1704067200000", "42283.58", "44184.10", "42180.77", "44179.55", "27174.29903",
		"1704153599999", "1167854813.69050323", "1037761", "14331.27838", "616060042.28829604", "0",
	}
}

func TestParseKline_ValidRow(t *testing.T) {
	k, err := ParseKline(validRow())
	require.NoError(t, err)

	assert.Equal(t, int64(1704067200000), k.OpenTime)
	assert.Equal(t, "42283.58", k.Open)
	assert.Equal(t, "44184.10", k.High)
	assert.Equal(t, "42180.77", k.Low)
	assert.Equal(t, "44179.55", k.Close)
	assert.Equal(t, "27174.29903", k.Volume)
	assert.Equal(t, int64(1704153599999), k.CloseTime)
	assert.Equal(t, "1167854813.69050323", k.QuoteVolume)
	assert.Equal(t, int64(1037761), k.TradeCount)
	assert.Equal(t, "14331.27838", k.TakerBuyVolume)
	assert.Equal(t, "616060042.28829604", k.TakerBuyQuoteVolume)
	assert.Equal(t, "0", k.Ignore)
}

func TestParseKline_Errors(t *testing.T) {
	tests := []struct {
		name  string
		row   func() []string
		field string
	}{
		{
			name:  "too_few_columns",
			row:   func() []string { return validRow()[:11] },
			field: "row",
		},
		{
			name:  "too_many_columns",
			row:   func() []string { return append(validRow(), "extra") },
			field: "row",
		},
		{
			name: "non_integer_open_time",
			row: func() []string {
				r := validRow()
				r[0] = "2024-01-01"
				return r
			},
			field: "open_time",
		},
		{
			name: "non_numeric_price",
			row: func() []string {
				r := validRow()
				r[2] = "abc"
				return r
			},
			field: "high",
		},
		{
			name: "non_integer_count",
			row: func() []string {
				r := validRow()
				r[8] = "1.5"
				return r
			},
			field: "count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKline(tt.row())
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseKline_EmptyIgnoreAllowed(t *testing.T) {
	row := validRow()
	row[11] = ""

	k, err := ParseKline(row)
	require.NoError(t, err)
	assert.Empty(t, k.Ignore)
}

func TestIsHeaderRow(t *testing.T) {
	assert.True(t, IsHeaderRow(KlineColumns))
	assert.False(t, IsHeaderRow(validRow()))
	assert.False(t, IsHeaderRow(nil))
	assert.False(t, IsHeaderRow([]string{"garbage"}))

	upper := make([]string, len(KlineColumns))
	for i, c := range KlineColumns {
		upper[i] = " " + strings.ToUpper(c)
	}
	assert.True(t, IsHeaderRow(upper))

	dated := validRow()
	dated[0] = "2024-01-01"
	assert.False(t, IsHeaderRow(dated), "a corrupt data row is not a header")
}

func TestKline_Validate(t *testing.T) {
	k, err := ParseKline(validRow())
	require.NoError(t, err)
	assert.NoError(t, k.Validate())

	bad := k
	bad.High = "40000"
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "high")

	bad = k
	bad.Low = "50000"
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "low")

	bad = k
	bad.Volume = "-1"
	assert.Error(t, bad.Validate())

	bad = k
	bad.CloseTime = k.OpenTime - 1
	assert.Error(t, bad.Validate())
}

func TestKline_Float64s(t *testing.T) {
	k, err := ParseKline(validRow())
	require.NoError(t, err)

	values, err := k.Float64s()
	require.NoError(t, err)
	assert.InDelta(t, 42283.58, values[0], 1e-9)
	assert.InDelta(t, 44179.55, values[3], 1e-9)
	assert.InDelta(t, 1167854813.69050323, values[5], 1e-3)
	assert.Equal(t, 0.0, values[8])
}
