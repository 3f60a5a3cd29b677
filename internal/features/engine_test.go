package features

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

var start = time.Date(2024, 1, 7, 23, 0, 0, 0, time.UTC) // Mon 2024-01-08 00:00 Berlin

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func hourlyTable(n int, price func(i int) float64) *contracts.HourlyTable {
	table := &contracts.HourlyTable{
		Window:  contracts.TimeRange{Start: start, End: start.Add(time.Duration(n) * time.Hour)},
		Sources: []contracts.Metric{contracts.MetricWindOnshore, contracts.MetricWindOffshore, contracts.MetricSolar},
	}
	for i := 0; i < n; i++ {
		load := 50000 + 10*float64(i%24)
		table.Records = append(table.Records, contracts.HourlyRecord{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Price:     price(i),
			TotalLoad: load,
			Generation: map[contracts.Metric]float64{
				contracts.MetricWindOnshore:  8000,
				contracts.MetricWindOffshore: 1000,
				contracts.MetricSolar:        float64(i % 7),
			},
			ResidualLoad: load - 9000 - float64(i%7),
		})
	}
	return table
}

func TestEngine_NoFutureSpike(t *testing.T) {
	const spikeAt = 300
	table := hourlyTable(400, func(i int) float64 {
		if i == spikeAt {
			return 1000
		}
		return 50
	})

	ft, err := NewEngine(logger.Nop(), berlin(t)).Compute(table)
	require.NoError(t, err)
	require.Len(t, ft.Rows, 400)

	for i := 0; i <= spikeAt; i++ {
		row := ft.Rows[i]
		for _, col := range contracts.LagColumns() {
			v, _ := row.Value(col)
			if math.IsNaN(v) {
				continue
			}
			assert.NotEqual(t, 1000.0, v, "row %d column %s", i, col)
		}
		if !math.IsNaN(row.RollingMean24hPrice) {
			assert.Equal(t, 50.0, row.RollingMean24hPrice, "row %d", i)
		}
	}

	assert.Equal(t, 1000.0, ft.Rows[spikeAt+1].Lag1hPrice)
	assert.Equal(t, 1000.0, ft.Rows[spikeAt+24].Lag24hPrice)
	assert.Greater(t, ft.Rows[spikeAt+1].RollingMean24hPrice, 50.0)
	assert.Equal(t, 50.0, ft.Rows[spikeAt+25].RollingMean24hPrice)
}

func TestEngine_WarmUpIsNaN(t *testing.T) {
	table := hourlyTable(200, func(i int) float64 { return float64(i) })
	ft, err := NewEngine(logger.Nop(), berlin(t)).Compute(table)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(ft.Rows[0].Lag1hPrice))
	assert.Equal(t, 0.0, ft.Rows[1].Lag1hPrice)
	assert.True(t, math.IsNaN(ft.Rows[23].Lag24hPrice))
	assert.Equal(t, 0.0, ft.Rows[24].Lag24hPrice)
	assert.True(t, math.IsNaN(ft.Rows[167].Lag168hPrice))
	assert.Equal(t, 0.0, ft.Rows[168].Lag168hPrice)
	assert.True(t, math.IsNaN(ft.Rows[23].RollingMean24hResidual))
	assert.False(t, math.IsNaN(ft.Rows[24].RollingMean24hResidual))
	assert.True(t, math.IsNaN(ft.Rows[167].RollingMean168hResidual))

	// trailing mean of 0..23 at row 24 excludes the current hour
	assert.InDelta(t, 11.5, ft.Rows[24].RollingMean24hPrice, 1e-12)
}

func TestEngine_IncompleteHoursPoisonWindows(t *testing.T) {
	table := hourlyTable(60, func(i int) float64 { return 40 })
	table.Records[30].Flag("gap:total_load:3h")

	ft, err := NewEngine(logger.Nop(), berlin(t)).Compute(table)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(ft.Rows[31].Lag1hPrice))
	assert.Equal(t, 40.0, ft.Rows[32].Lag1hPrice)
	assert.True(t, math.IsNaN(ft.Rows[54].Lag24hPrice))
	assert.True(t, math.IsNaN(ft.Rows[54].RollingMean24hPrice))
	assert.Equal(t, 40.0, ft.Rows[55].RollingMean24hPrice)
	assert.True(t, ft.Rows[30].Incomplete)
}

func TestEngine_Calendar(t *testing.T) {
	loc := berlin(t)
	tests := []struct {
		name    string
		utc     time.Time
		hour    int
		dow     int
		month   int
		weekend bool
		holiday bool
	}{
		{"monday midnight winter", time.Date(2024, 1, 7, 23, 0, 0, 0, time.UTC), 0, 0, 1, false, false},
		{"summer offset", time.Date(2024, 7, 6, 22, 0, 0, 0, time.UTC), 0, 6, 7, true, false},
		{"christmas", time.Date(2024, 12, 25, 9, 0, 0, 0, time.UTC), 10, 2, 12, false, true},
		{"good friday", time.Date(2024, 3, 29, 12, 0, 0, 0, time.UTC), 13, 4, 3, false, true},
		{"new year via local day", time.Date(2024, 12, 31, 23, 30, 0, 0, time.UTC), 0, 2, 1, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := &contracts.HourlyTable{Records: []contracts.HourlyRecord{{Timestamp: tt.utc}}}
			ft, err := NewEngine(logger.Nop(), loc).Compute(table)
			require.NoError(t, err)
			row := ft.Rows[0]
			assert.Equal(t, tt.hour, row.HourOfDay)
			assert.Equal(t, tt.dow, row.DayOfWeek)
			assert.Equal(t, tt.month, row.Month)
			assert.Equal(t, tt.weekend, row.IsWeekend)
			assert.Equal(t, tt.holiday, row.IsHoliday)
		})
	}
}

func TestEngine_RejectsUnorderedInput(t *testing.T) {
	table := hourlyTable(5, func(i int) float64 { return 1 })
	table.Records[3].Timestamp = table.Records[2].Timestamp

	_, err := NewEngine(logger.Nop(), berlin(t)).Compute(table)
	var dq *contracts.DataQualityError
	require.ErrorAs(t, err, &dq)
	assert.Equal(t, contracts.StageFeaturizing, dq.Stage)
}

func TestEngine_DoesNotMutateInput(t *testing.T) {
	table := hourlyTable(30, func(i int) float64 { return float64(i) })
	ft, err := NewEngine(logger.Nop(), berlin(t)).Compute(table)
	require.NoError(t, err)

	ft.Rows[0].Generation[contracts.MetricSolar] = -1
	assert.Equal(t, 0.0, table.Records[0].Generation[contracts.MetricSolar])
}

func TestAudit(t *testing.T) {
	table := hourlyTable(400, func(i int) float64 { return 30 + float64(i%24) })
	engine := NewEngine(logger.Nop(), berlin(t))

	t.Run("engine is causal", func(t *testing.T) {
		assert.NoError(t, Audit(engine.Compute, table, DefaultCuts(len(table.Records), 8)))
	})

	t.Run("leaky featurization is caught", func(t *testing.T) {
		leaky := func(tb *contracts.HourlyTable) (*contracts.FeatureTable, error) {
			ft, err := engine.Compute(tb)
			if err != nil {
				return nil, err
			}
			for i := 0; i+1 < len(ft.Rows); i++ {
				ft.Rows[i].Lag1hPrice = tb.Records[i+1].Price // reads the next hour
			}
			return ft, nil
		}

		err := Audit(leaky, table, []int{200})
		var leak *contracts.LeakageViolation
		require.True(t, errors.As(err, &leak))
		assert.Equal(t, contracts.ColLag1hPrice, leak.Feature)
		assert.Equal(t, table.Records[199].Timestamp, leak.At)
	})

	t.Run("same-hour rolling window is caught", func(t *testing.T) {
		inclusive := func(tb *contracts.HourlyTable) (*contracts.FeatureTable, error) {
			ft, err := engine.Compute(tb)
			if err != nil {
				return nil, err
			}
			for i := range ft.Rows {
				ft.Rows[i].RollingMean24hPrice = tb.Records[i].Price
			}
			return ft, nil
		}

		err := Audit(inclusive, table, []int{250})
		var leak *contracts.LeakageViolation
		require.ErrorAs(t, err, &leak)
		assert.Equal(t, table.Records[250].Timestamp, leak.At)
	})
}

func TestDefaultCuts(t *testing.T) {
	assert.Equal(t, []int{25, 50, 75}, DefaultCuts(100, 3))
	assert.Nil(t, DefaultCuts(1, 3))
	assert.Equal(t, []int{1}, DefaultCuts(2, 3))
}

func TestEasterSunday(t *testing.T) {
	tests := map[int]string{
		2000: "2000-04-23",
		2019: "2019-04-21",
		2024: "2024-03-31",
		2025: "2025-04-20",
		2038: "2038-04-25",
	}
	for year, want := range tests {
		assert.Equal(t, want, EasterSunday(year).Format("2006-01-02"), "year %d", year)
	}
}

func TestGermanHolidays(t *testing.T) {
	hs := GermanHolidays(2024)
	require.Len(t, hs, 9)

	dates := make(map[string]string)
	for _, h := range hs {
		dates[h.Date.Format("2006-01-02")] = h.Name
	}
	assert.Contains(t, dates, "2024-05-09") // Ascension
	assert.Contains(t, dates, "2024-05-20") // Whit Monday
	assert.Contains(t, dates, "2024-10-03")
	assert.NotContains(t, dates, "2024-01-06")
}
