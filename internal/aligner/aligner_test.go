package aligner

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/logger"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := LoadLocation("")
	require.NoError(t, err)
	return loc
}

func window(t *testing.T, first, last string) contracts.TimeRange {
	t.Helper()
	f, err := ParseDate(first)
	require.NoError(t, err)
	l, err := ParseDate(last)
	require.NoError(t, err)
	w, err := StudyWindow(f, l, berlin(t))
	require.NoError(t, err)
	return w
}

func ptr(v float64) *float64 { return &v }

// hourlySeries builds an hourly MWh (or EUR/MWh) series over the index;
// value returns nil for missing hours
func synth(m contracts.Metric, index []time.Time, value func(i int) *float64) contracts.RawSeries {
	unit := contracts.UnitMWh
	if m == contracts.MetricPrice {
		unit = contracts.UnitEURPerMWh
	}
	s := contracts.RawSeries{Metric: m, Resolution: contracts.ResolutionHour, Unit: unit}
	for i, ts := range index {
		s.Points = append(s.Points, contracts.Point{Timestamp: ts, Value: value(i)})
	}
	return s
}

func completeSeries(index []time.Time) []contracts.RawSeries {
	return []contracts.RawSeries{
		synth(contracts.MetricPrice, index, func(i int) *float64 { return ptr(50 + float64(i%24)) }),
		synth(contracts.MetricTotalLoad, index, func(i int) *float64 { return ptr(60000 + 100*float64(i)) }),
		synth(contracts.MetricWindOnshore, index, func(i int) *float64 { return ptr(10000) }),
		synth(contracts.MetricWindOffshore, index, func(i int) *float64 { return ptr(2000) }),
		synth(contracts.MetricSolar, index, func(i int) *float64 { return ptr(float64(i % 12)) }),
	}
}

func TestHourlyIndex_DST(t *testing.T) {
	loc := berlin(t)
	tests := []struct {
		name  string
		first string
		last  string
		hours int
		day   string
		dayH  int
	}{
		{"spring forward", "2024-03-31", "2024-03-31", 23, "2024-03-31", 23},
		{"fall back", "2024-10-27", "2024-10-27", 25, "2024-10-27", 25},
		{"ordinary day", "2024-06-12", "2024-06-12", 24, "2024-06-12", 24},
		{"full year", "2024-01-01", "2024-12-31", 366 * 24, "2024-10-27", 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := HourlyIndex(window(t, tt.first, tt.last))
			require.Len(t, idx, tt.hours)
			for i := 1; i < len(idx); i++ {
				assert.Equal(t, time.Hour, idx[i].Sub(idx[i-1]))
			}
			assert.Equal(t, tt.dayH, HoursPerDay(idx, loc)[tt.day])
		})
	}
}

func TestStudyWindow_Invalid(t *testing.T) {
	first, _ := ParseDate("2024-02-02")
	last, _ := ParseDate("2024-02-01")
	_, err := StudyWindow(first, last, berlin(t))
	assert.Error(t, err)

	_, err = ParseDate("02.01.2024")
	assert.Error(t, err)
}

func TestAlign_GapScenario72h(t *testing.T) {
	w := window(t, "2024-01-08", "2024-01-10")
	index := HourlyIndex(w)
	require.Len(t, index, 72)

	series := completeSeries(index)
	series[1] = synth(contracts.MetricTotalLoad, index, func(i int) *float64 {
		switch i {
		case 10, 11: // 2h gap
			return nil
		case 30, 31, 32: // 3h gap
			return nil
		}
		return ptr(60000 + 100*float64(i))
	})

	table, err := New(logger.Nop(), DefaultOptions()).Align(series, w)
	require.NoError(t, err)
	require.Len(t, table.Records, 72)

	// short gap: interpolated exactly on the line, hours stay complete
	for _, i := range []int{10, 11} {
		r := table.Records[i]
		assert.False(t, r.Incomplete, "hour %d", i)
		assert.InDelta(t, 60000+100*float64(i), r.TotalLoad, 1e-9)
	}

	// long gap: flagged, left missing, residual load undefined
	for _, i := range []int{30, 31, 32} {
		r := table.Records[i]
		assert.True(t, r.Incomplete, "hour %d", i)
		assert.Equal(t, []string{"gap:total_load:3h"}, r.Reasons)
		assert.True(t, math.IsNaN(r.TotalLoad))
		assert.True(t, math.IsNaN(r.ResidualLoad))
	}
	assert.False(t, table.Records[29].Incomplete)
	assert.False(t, table.Records[33].Incomplete)

	q := table.Quality
	assert.Equal(t, 69, q.CompleteHours)
	assert.True(t, q.Passed)
	load := q.Metrics[contracts.MetricTotalLoad]
	assert.Equal(t, 67, load.Observed)
	assert.Equal(t, 2, load.Interpolated)
	assert.Equal(t, 3, load.Flagged)
}

func TestAlign_OrderingAndResidualLoad(t *testing.T) {
	w := window(t, "2024-10-26", "2024-10-28")
	index := HourlyIndex(w)

	table, err := New(logger.Nop(), DefaultOptions()).Align(completeSeries(index), w)
	require.NoError(t, err)
	require.Len(t, table.Records, 73) // 24 + 25 + 24

	seen := make(map[int64]bool)
	for i, r := range table.Records {
		assert.False(t, seen[r.Timestamp.Unix()], "duplicate timestamp")
		seen[r.Timestamp.Unix()] = true
		if i > 0 {
			assert.Equal(t, time.Hour, r.Timestamp.Sub(table.Records[i-1].Timestamp))
		}
		want := r.TotalLoad - 10000 - 2000 - float64(i%12)
		assert.Equal(t, want, r.ResidualLoad)
	}
	assert.Equal(t, []contracts.Metric{contracts.MetricWindOnshore, contracts.MetricWindOffshore, contracts.MetricSolar}, table.Sources)
}

func TestAlign_DuplicatesAndQuarterHours(t *testing.T) {
	w := window(t, "2024-01-08", "2024-01-08")
	index := HourlyIndex(w)
	series := completeSeries(index)

	// duplicate price rows are averaged
	series[0].Points = append(series[0].Points, contracts.Point{Timestamp: index[3], Value: ptr(100)})

	// quarter-hour energy: 4 x 250 MWh per hour -> 1000 MW
	var solar contracts.RawSeries
	solar.Metric = contracts.MetricSolar
	solar.Resolution = contracts.ResolutionQuarterHour
	solar.Unit = contracts.UnitMWh
	for _, ts := range index {
		for q := 0; q < 4; q++ {
			solar.Points = append(solar.Points, contracts.Point{
				Timestamp: ts.Add(time.Duration(q) * 15 * time.Minute),
				Value:     ptr(200 + 100*float64(q%2)),
			})
		}
	}
	series[4] = solar

	table, err := New(logger.Nop(), DefaultOptions()).Align(series, w)
	require.NoError(t, err)

	assert.Equal(t, (53.0+100.0)/2, table.Records[3].Price)
	assert.Equal(t, 1, table.Quality.Metrics[contracts.MetricPrice].Duplicates)
	for _, r := range table.Records {
		assert.Equal(t, 1000.0, r.Generation[contracts.MetricSolar])
	}
}

func TestAlign_PartialQuarterHours(t *testing.T) {
	w := window(t, "2024-01-08", "2024-01-09")
	index := HourlyIndex(w)

	quarterHourSolar := func(partial map[int]bool) contracts.RawSeries {
		s := contracts.RawSeries{
			Metric:     contracts.MetricSolar,
			Resolution: contracts.ResolutionQuarterHour,
			Unit:       contracts.UnitMWh,
		}
		for i, ts := range index {
			for q := 0; q < 4; q++ {
				v := ptr(250)
				if partial[i] {
					// only the first quarter is published, at twice the level
					v = ptr(500)
					if q > 0 {
						v = nil
					}
				}
				s.Points = append(s.Points, contracts.Point{
					Timestamp: ts.Add(time.Duration(q) * 15 * time.Minute),
					Value:     v,
				})
			}
		}
		return s
	}

	tests := []struct {
		name       string
		partial    map[int]bool
		incomplete []int
		reason     string
	}{
		{"single partial hour is interpolated", map[int]bool{1: true}, nil, ""},
		{"long partial run is flagged", map[int]bool{1: true, 2: true, 3: true}, []int{1, 2, 3}, "gap:solar:3h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := completeSeries(index)
			series[4] = quarterHourSolar(tt.partial)

			table, err := New(logger.Nop(), DefaultOptions()).Align(series, w)
			require.NoError(t, err)

			q := table.Quality.Metrics[contracts.MetricSolar]
			assert.Equal(t, len(tt.partial), q.Partial)
			assert.Equal(t, len(index)-len(tt.partial), q.Observed)

			for i := range tt.partial {
				r := table.Records[i]
				if len(tt.incomplete) == 0 {
					assert.False(t, r.Incomplete)
					assert.Equal(t, 1000.0, r.Generation[contracts.MetricSolar], "interpolated, not the lone quarter")
					continue
				}
				assert.True(t, r.Incomplete)
				assert.Contains(t, r.Reasons, tt.reason)
			}
			assert.False(t, table.Records[0].Incomplete)
		})
	}
}

func TestAlign_EdgeGapsAreFlagged(t *testing.T) {
	w := window(t, "2024-01-08", "2024-01-10")
	index := HourlyIndex(w)
	series := completeSeries(index)
	series[2] = synth(contracts.MetricWindOnshore, index, func(i int) *float64 {
		if i == 0 || i == 71 {
			return nil
		}
		return ptr(10000)
	})

	table, err := New(logger.Nop(), DefaultOptions()).Align(series, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"gap:wind_onshore:1h"}, table.Records[0].Reasons)
	assert.True(t, table.Records[71].Incomplete)
	assert.False(t, table.Records[1].Incomplete)
}

func TestAlign_InsufficientCoverage(t *testing.T) {
	w := window(t, "2024-01-08", "2024-01-10")
	index := HourlyIndex(w)
	series := completeSeries(index)
	series[0] = synth(contracts.MetricPrice, index, func(i int) *float64 {
		if i >= 20 && i < 40 {
			return nil
		}
		return ptr(40)
	})

	table, err := New(logger.Nop(), DefaultOptions()).Align(series, w)
	var alignErr *contracts.AlignmentError
	require.True(t, errors.As(err, &alignErr))
	assert.Equal(t, 52, alignErr.CompleteHours)
	assert.Equal(t, contracts.MetricPrice, alignErr.WorstMetric)
	require.NotNil(t, table, "table is returned for inspection")
	assert.False(t, table.Quality.Passed)
}

func TestAlign_MissingRequiredMetric(t *testing.T) {
	w := window(t, "2024-01-08", "2024-01-08")
	index := HourlyIndex(w)
	series := completeSeries(index)[:4] // no solar

	table, err := New(logger.Nop(), DefaultOptions()).Align(series, w)
	var alignErr *contracts.AlignmentError
	require.ErrorAs(t, err, &alignErr)
	assert.Contains(t, table.Records[0].Reasons, "missing:solar")
}

func TestAlign_InvalidInput(t *testing.T) {
	w := window(t, "2024-01-08", "2024-01-08")
	index := HourlyIndex(w)
	a := New(logger.Nop(), DefaultOptions())

	t.Run("price in MW", func(t *testing.T) {
		series := completeSeries(index)
		series[0].Unit = contracts.UnitMW
		_, err := a.Align(series, w)
		var dq *contracts.DataQualityError
		require.ErrorAs(t, err, &dq)
		assert.Equal(t, "price", dq.Column)
	})

	t.Run("duplicate series", func(t *testing.T) {
		series := append(completeSeries(index), completeSeries(index)[0])
		_, err := a.Align(series, w)
		var dq *contracts.DataQualityError
		require.ErrorAs(t, err, &dq)
	})

	t.Run("empty window", func(t *testing.T) {
		_, err := a.Align(nil, contracts.TimeRange{Start: index[0], End: index[0]})
		var alignErr *contracts.AlignmentError
		require.ErrorAs(t, err, &alignErr)
	})
}

func TestFillGaps(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name         string
		in           []float64
		maxGap       int
		want         []float64
		interpolated int
		flagged      int
	}{
		{"no gaps", []float64{1, 2, 3}, 2, []float64{1, 2, 3}, 0, 0},
		{"single", []float64{1, nan, 3}, 2, []float64{1, 2, 3}, 1, 0},
		{"double", []float64{0, nan, nan, 3}, 2, []float64{0, 1, 2, 3}, 2, 0},
		{"triple flagged", []float64{0, nan, nan, nan, 4}, 2, []float64{0, nan, nan, nan, 4}, 0, 3},
		{"leading", []float64{nan, 1, 2}, 2, []float64{nan, 1, 2}, 0, 1},
		{"trailing", []float64{1, 2, nan}, 2, []float64{1, 2, nan}, 0, 1},
		{"zero cutoff", []float64{1, nan, 3}, 0, []float64{1, nan, 3}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := append([]float64(nil), tt.in...)
			res := fillGaps(values, tt.maxGap, contracts.MetricTotalLoad)
			assert.Equal(t, tt.interpolated, res.interpolated)
			assert.Len(t, res.flagged, tt.flagged)
			for i := range tt.want {
				if math.IsNaN(tt.want[i]) {
					assert.True(t, math.IsNaN(values[i]), "index %d", i)
				} else {
					assert.InDelta(t, tt.want[i], values[i], 1e-12, "index %d", i)
				}
			}
		})
	}
}

func TestToCanonical(t *testing.T) {
	tests := []struct {
		v       float64
		unit    contracts.Unit
		res     contracts.Resolution
		metric  contracts.Metric
		want    float64
		wantErr bool
	}{
		{100, contracts.UnitMWh, contracts.ResolutionHour, contracts.MetricSolar, 100, false},
		{100, contracts.UnitMWh, contracts.ResolutionQuarterHour, contracts.MetricSolar, 400, false},
		{1.5, contracts.UnitGW, contracts.ResolutionHour, contracts.MetricTotalLoad, 1500, false},
		{5.5, contracts.UnitCtPerKWh, contracts.ResolutionHour, contracts.MetricPrice, 55, false},
		{80, contracts.UnitEURPerMWh, contracts.ResolutionHour, contracts.MetricPrice, 80, false},
		{80, contracts.UnitEURPerMWh, contracts.ResolutionHour, contracts.MetricSolar, 0, true},
		{80, contracts.UnitMW, contracts.ResolutionHour, contracts.MetricPrice, 0, true},
	}

	for _, tt := range tests {
		got, err := toCanonical(tt.v, tt.unit, tt.res, tt.metric)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
