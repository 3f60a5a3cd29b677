package tableio

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/meritorder/internal/contracts"
)

var t0 = time.Date(2024, 3, 30, 22, 0, 0, 0, time.UTC)

func sampleFeatures() *contracts.FeatureTable {
	sources := []contracts.Metric{contracts.MetricWindOnshore, contracts.MetricSolar, contracts.MetricLignite}
	values := []float64{0.1 + 0.2, 1e-300, math.Copysign(0, -1), 123456789.123456789, math.NaN(), -42.5, 1.0 / 3.0}

	table := &contracts.FeatureTable{Sources: sources}
	for i := 0; i < 30; i++ {
		v := func(k int) float64 { return values[(i+k)%len(values)] * float64(k+1) }
		row := contracts.FeatureRow{
			HourlyRecord: contracts.HourlyRecord{
				Timestamp:    t0.Add(time.Duration(i) * time.Hour),
				Price:        v(0),
				TotalLoad:    v(1),
				ResidualLoad: v(2),
				Generation: map[contracts.Metric]float64{
					contracts.MetricWindOnshore: v(3),
					contracts.MetricSolar:       v(4),
					contracts.MetricLignite:     v(5),
				},
			},
			Lag1hPrice:              v(6),
			Lag24hPrice:             v(7),
			Lag168hPrice:            math.NaN(),
			RollingMean24hResidual:  v(8),
			RollingStd24hResidual:   v(9),
			RollingMean168hResidual: v(10),
			RollingMean24hPrice:     v(11),
			HourOfDay:               i % 24,
			DayOfWeek:               i % 7,
			Month:                   3 + i/24,
			IsWeekend:               i%7 >= 5,
			IsHoliday:               i == 3,
		}
		if i%9 == 4 {
			row.Flag("gap:total_load:3h")
			row.Flag("gap:solar:4h")
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

func TestFeatures_RoundTripIsBitIdentical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.csv")
	original := sampleFeatures()

	require.NoError(t, WriteFeatures(path, original))
	loaded, err := ReadFeatures(path)
	require.NoError(t, err)

	assert.Equal(t, original.Columns(), loaded.Columns(), "column order")
	assert.Equal(t, original.Sources, loaded.Sources)
	require.Len(t, loaded.Rows, len(original.Rows))

	for i := range original.Rows {
		want, got := &original.Rows[i], &loaded.Rows[i]
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
		assert.Equal(t, want.Incomplete, got.Incomplete)
		assert.Equal(t, want.Reasons, got.Reasons)
		for _, col := range original.Columns() {
			a, okA := want.Value(col)
			b, okB := got.Value(col)
			require.Equal(t, okA, okB, col)
			assert.Equal(t, math.Float64bits(a), math.Float64bits(b), "row %d column %s", i, col)
		}
	}

	// writing the reloaded table reproduces the same bytes
	again := filepath.Join(t.TempDir(), "again.csv")
	require.NoError(t, WriteFeatures(again, loaded))
	a, _ := os.ReadFile(path)
	b, _ := os.ReadFile(again)
	assert.Equal(t, string(a), string(b))
}

func TestFeatures_SchemaDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.csv")
	require.NoError(t, WriteFeatures(path, sampleFeatures()))

	data, err := os.ReadFile(path + ".schema.json")
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, FeatureTable, doc.Table)
	byName := make(map[string]ColumnSpec)
	for _, c := range doc.Columns {
		byName[c.Name] = c
	}
	assert.Equal(t, "EUR/MWh", byName[contracts.ColPrice].Unit)
	assert.Equal(t, "MW", byName["gen_lignite_mw"].Unit)
	assert.Equal(t, "int", byName[contracts.ColIsHoliday].Type)
	for _, c := range doc.Columns {
		assert.NotEmpty(t, c.Description, c.Name)
	}
}

func TestHourly_RoundTrip(t *testing.T) {
	table := &contracts.HourlyTable{Sources: []contracts.Metric{contracts.MetricWindOffshore}}
	for i := 0; i < 5; i++ {
		r := contracts.HourlyRecord{
			Timestamp:    t0.Add(time.Duration(i) * time.Hour),
			Price:        float64(i) * 0.7,
			TotalLoad:    60000.25,
			ResidualLoad: math.NaN(),
			Generation:   map[contracts.Metric]float64{contracts.MetricWindOffshore: 1.1},
		}
		if i == 2 {
			r.Flag("missing:solar")
		}
		table.Records = append(table.Records, r)
	}

	path := filepath.Join(t.TempDir(), "hourly.csv")
	require.NoError(t, WriteHourly(path, table))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw),
		"timestamp_utc,price_eur_mwh,total_load_mw,residual_load_mw,gen_wind_offshore_mw,incomplete,incomplete_reason\n"))
	assert.Contains(t, string(raw), "2024-03-30T23:00:00Z,0.7,60000.25,,1.1,false,\n")

	loaded, err := ReadHourly(path)
	require.NoError(t, err)
	require.Len(t, loaded.Records, 5)
	assert.Equal(t, t0, loaded.Window.Start)
	assert.Equal(t, t0.Add(5*time.Hour), loaded.Window.End)
	assert.Equal(t, []string{"missing:solar"}, loaded.Records[2].Reasons)
	assert.True(t, math.IsNaN(loaded.Records[0].ResidualLoad))
	assert.Equal(t, 0.7*3, loaded.Records[3].Price)
}

func TestDecodeFeatures_SchemaMismatch(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing column", "timestamp_utc,price_eur_mwh\n"},
		{"unknown column", strings.Join(append(contracts.FeatureTableColumns(nil), "extra"), ",") + "\n"},
		{"reordered", strings.Replace(strings.Join(contracts.FeatureTableColumns(nil), ","), "price_eur_mwh,total_load_mw", "total_load_mw,price_eur_mwh", 1) + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFeatures(strings.NewReader(tt.header))
			var mismatch *contracts.SchemaMismatch
			require.ErrorAs(t, err, &mismatch)
		})
	}
}

func TestDecodeHourly_BadCell(t *testing.T) {
	in := strings.Join(contracts.HourlyTableColumns(nil), ",") + "\n" +
		"2024-01-01T00:00:00Z,abc,1,1,false,\n"
	_, err := DecodeHourly(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, err.Error(), "abc")
}
