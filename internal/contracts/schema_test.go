package contracts

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationColumn_RoundTrip(t *testing.T) {
	for _, m := range AllMetrics() {
		col := GenerationColumn(m)
		got, ok := GenerationMetricFromColumn(col)
		if !m.IsGeneration() {
			assert.False(t, ok, col)
			continue
		}
		require.True(t, ok, col)
		assert.Equal(t, m, got)
	}

	_, ok := GenerationMetricFromColumn("gen_unobtainium_mw")
	assert.False(t, ok)
	_, ok = GenerationMetricFromColumn(ColResidualLoad)
	assert.False(t, ok)
}

func TestTableColumns(t *testing.T) {
	sources := []Metric{MetricWindOnshore, MetricSolar}

	hourly := HourlyTableColumns(sources)
	assert.Equal(t, []string{
		"timestamp_utc", "price_eur_mwh", "total_load_mw", "residual_load_mw",
		"gen_wind_onshore_mw", "gen_solar_mw", "incomplete", "incomplete_reason",
	}, hourly)

	features := FeatureTableColumns(sources)
	assert.Equal(t, hourly[:6], features[:6])
	assert.Equal(t, ColIncompleteReason, features[len(features)-1])
	assert.Contains(t, features, ColLag168hPrice)
	assert.Contains(t, features, ColIsHoliday)
}

func TestDefaultFeatureColumns(t *testing.T) {
	cols := DefaultFeatureColumns([]Metric{MetricWindOnshore, MetricWindOffshore, MetricSolar, MetricLignite})
	assert.Contains(t, cols, ColResidualLoad)
	assert.Contains(t, cols, "gen_solar_mw")
	assert.NotContains(t, cols, "gen_lignite_mw")
	assert.NotContains(t, cols, ColTotalLoad)
	assert.NotContains(t, cols, TargetColumn)
}

func TestSchema_Validate(t *testing.T) {
	s := Schema{Features: []string{ColResidualLoad, ColLag24hPrice}, Target: TargetColumn}

	assert.NoError(t, s.Validate([]string{ColResidualLoad, ColLag24hPrice}))

	err := s.Validate([]string{ColResidualLoad})
	var mismatch *SchemaMismatch
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []string{ColLag24hPrice}, mismatch.Missing)

	assert.Error(t, s.Validate([]string{ColLag24hPrice, ColResidualLoad}))
	assert.True(t, s.Contains(ColLag24hPrice))
	assert.False(t, s.Contains(ColPrice))
}

func TestFeatureRow_Value(t *testing.T) {
	row := FeatureRow{
		HourlyRecord: HourlyRecord{
			Timestamp:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Price:        55.5,
			ResidualLoad: 30000,
			Generation:   map[Metric]float64{MetricSolar: 0},
		},
		Lag24hPrice: math.NaN(),
		HourOfDay:   1,
		IsHoliday:   true,
	}

	v, ok := row.Value(ColPrice)
	assert.True(t, ok)
	assert.Equal(t, 55.5, v)

	v, ok = row.Value(ColLag24hPrice)
	assert.True(t, ok)
	assert.True(t, math.IsNaN(v))

	v, _ = row.Value(ColIsHoliday)
	assert.Equal(t, 1.0, v)

	v, ok = row.Value("gen_solar_mw")
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)

	v, ok = row.Value("gen_nuclear_mw")
	assert.True(t, ok)
	assert.True(t, math.IsNaN(v))

	_, ok = row.Value("no_such_column")
	assert.False(t, ok)
}

func TestHourlyRecord_Flag(t *testing.T) {
	var r HourlyRecord
	r.Flag("gap:total_load:3h")
	r.Flag("gap:total_load:3h")
	r.Flag("gap:solar:5h")

	assert.True(t, r.Incomplete)
	assert.Equal(t, "gap:total_load:3h;gap:solar:5h", r.Reason())
}

func TestQualityReport(t *testing.T) {
	q := QualityReport{
		TotalHours:    100,
		CompleteHours: 95,
		Coverage:      0.95,
		MinCoverage:   0.9,
		Metrics: map[Metric]MetricQuality{
			MetricPrice:     {Coverage: 1.0},
			MetricTotalLoad: {Coverage: 0.9},
		},
	}
	assert.True(t, q.IsValid())
	assert.InDelta(t, 0.95, q.CoverageRate(), 1e-12)

	q.Coverage = 0.5
	assert.False(t, q.IsValid())
	assert.Equal(t, 0.0, (&QualityReport{}).CoverageRate())
}
