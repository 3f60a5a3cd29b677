package csvimport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/logger"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func region(m contracts.Metric) string {
	if m == contracts.MetricPrice {
		return "DE-LU"
	}
	return "DE"
}

func TestParseGermanNumber(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		missing bool
		wantErr bool
	}{
		{"thousands and decimals", "1.234,56", 1234.56, false, false},
		{"millions", "12.345.678", 12345678, false, false},
		{"negative price", "-5,17", -5.17, false, false},
		{"plain", "42", 42, false, false},
		{"with spaces", " 7,5 ", 7.5, false, false},
		{"empty", "", 0, true, false},
		{"dash", "-", 0, true, false},
		{"invalid", "n/a", 0, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGermanNumber(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if tt.missing {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, tt.want, *got, 1e-9)
		})
	}
}

func TestMetricForColumn(t *testing.T) {
	tests := []struct {
		header string
		want   contracts.Metric
		ok     bool
	}{
		{"Wind onshore [MWh] Calculated resolutions", contracts.MetricWindOnshore, true},
		{"Photovoltaics [MWh] Calculated resolutions", contracts.MetricSolar, true},
		{"Fossil gas [MWh] Original resolutions", contracts.MetricNaturalGas, true},
		{"Grid load [MWh] Calculated resolutions", contracts.MetricTotalLoad, true},
		{"Germany/Luxembourg [€/MWh] Original resolutions", contracts.MetricPrice, true},
		{"Deutschland/Luxemburg [€/MWh] Originalauflösungen", contracts.MetricPrice, true},
		{"Residual load [MWh] Calculated resolutions", "", false},
		{"Total [MWh] Calculated resolutions", "", false},
		{"Photovoltaics and wind [MWh] Calculated resolutions", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := MetricForColumn(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

const generationCSV = "Start date;End date;Wind offshore [MWh] Calculated resolutions;Wind onshore [MWh] Calculated resolutions;Photovoltaics [MWh] Calculated resolutions;Other [MWh] Calculated resolutions\n" +
	"Jan 1, 2024 12:00 AM;Jan 1, 2024 1:00 AM;1.234,5;20.100,25;0;500\n" +
	"Jan 1, 2024 1:00 AM;Jan 1, 2024 2:00 AM;1.300;-;0;510\n" +
	"not a date;;1;2;3;4\n" +
	"Jan 1, 2024 2:00 AM;Jan 1, 2024 3:00 AM;1.310,75;19.000;x;520\n"

func TestParse_Generation(t *testing.T) {
	f, err := Parse(strings.NewReader(generationCSV), berlin(t), region)
	require.NoError(t, err)

	assert.Equal(t, 4, f.Rows)
	assert.Equal(t, 1, f.Skipped)
	assert.Equal(t, 1, f.BadCells)
	assert.Equal(t, contracts.ResolutionHour, f.Resolution)
	assert.Equal(t, []string{"Other [MWh] Calculated resolutions"}, f.Ignored)
	require.Len(t, f.Series, 3)

	// sorted by metric name
	assert.Equal(t, contracts.MetricSolar, f.Series[0].Metric)
	assert.Equal(t, contracts.MetricWindOffshore, f.Series[1].Metric)
	assert.Equal(t, contracts.MetricWindOnshore, f.Series[2].Metric)

	onshore := f.Series[2]
	assert.Equal(t, "DE", onshore.Region)
	assert.Equal(t, contracts.UnitMWh, onshore.Unit)
	require.Len(t, onshore.Points, 3)
	// local midnight in winter is 23:00 UTC the day before
	assert.Equal(t, time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), onshore.Points[0].Timestamp)
	assert.InDelta(t, 20100.25, *onshore.Points[0].Value, 1e-9)
	assert.Nil(t, onshore.Points[1].Value)
	assert.Equal(t, onshore.Points[2].Timestamp.Add(time.Hour), onshore.End)

	assert.Nil(t, f.Series[0].Points[2].Value)
}

func TestParse_PriceAcrossFallBack(t *testing.T) {
	csv := "Start date;End date;Germany/Luxembourg [€/MWh] Original resolutions\n" +
		"Oct 27, 2024 1:00 AM;Oct 27, 2024 2:00 AM;80,1\n" +
		"Oct 27, 2024 2:00 AM;Oct 27, 2024 2:00 AM;81,2\n" +
		"Oct 27, 2024 2:00 AM;Oct 27, 2024 3:00 AM;82,3\n" +
		"Oct 27, 2024 3:00 AM;Oct 27, 2024 4:00 AM;83,4\n"

	f, err := Parse(strings.NewReader(csv), berlin(t), region)
	require.NoError(t, err)
	require.Len(t, f.Series, 1)

	price := f.Series[0]
	assert.Equal(t, contracts.MetricPrice, price.Metric)
	assert.Equal(t, "DE-LU", price.Region)
	assert.Equal(t, contracts.UnitEURPerMWh, price.Unit)
	require.Len(t, price.Points, 4)
	for i := 1; i < len(price.Points); i++ {
		assert.Equal(t, time.Hour, price.Points[i].Timestamp.Sub(price.Points[i-1].Timestamp), "step %d", i)
	}
	assert.Equal(t, time.Date(2024, 10, 26, 23, 0, 0, 0, time.UTC), price.Points[0].Timestamp)
	assert.InDelta(t, 81.2, *price.Points[1].Value, 1e-9)
	assert.InDelta(t, 82.3, *price.Points[2].Value, 1e-9)
}

func TestParse_QuarterHour(t *testing.T) {
	csv := "Start date;End date;Grid load [MWh] Original resolutions\n" +
		"Jun 3, 2024 12:00 AM;Jun 3, 2024 12:15 AM;12.000\n" +
		"Jun 3, 2024 12:15 AM;Jun 3, 2024 12:30 AM;12.100\n"
	f, err := Parse(strings.NewReader(csv), berlin(t), region)
	require.NoError(t, err)
	assert.Equal(t, contracts.ResolutionQuarterHour, f.Resolution)
	assert.Equal(t, contracts.ResolutionQuarterHour, f.Series[0].Resolution)
	assert.Equal(t, contracts.MetricTotalLoad, f.Series[0].Metric)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader("Date;Value\n1;2\n"), berlin(t), region)
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("Start date;Total [MWh]\nJan 1, 2024 12:00 AM;1\n"), berlin(t), region)
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(""), berlin(t), region)
	assert.Error(t, err)
}

func TestStore_SaveMergeFetch(t *testing.T) {
	store := NewStore(t.TempDir(), logger.Nop())
	loc := berlin(t)

	f, err := Parse(strings.NewReader(generationCSV), loc, region)
	require.NoError(t, err)
	require.NoError(t, store.Save(f.Series))

	// a later export overlapping the last hour replaces it
	later := "Start date;End date;Wind onshore [MWh] Calculated resolutions\n" +
		"Jan 1, 2024 2:00 AM;Jan 1, 2024 3:00 AM;18.000\n" +
		"Jan 1, 2024 3:00 AM;Jan 1, 2024 4:00 AM;17.500\n"
	f2, err := Parse(strings.NewReader(later), loc, region)
	require.NoError(t, err)
	require.NoError(t, store.Save(f2.Series))

	onshore, ok, err := store.Load(contracts.MetricWindOnshore)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, onshore.Points, 4)
	assert.InDelta(t, 18000, *onshore.Points[2].Value, 1e-9)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := store.Fetch(context.Background(), contracts.FetchRequest{
		Metrics: []contracts.Metric{contracts.MetricWindOnshore, contracts.MetricPrice},
		Start:   start,
		End:     start.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 1, "price was never imported")
	assert.Len(t, got[0].Points, 2)
	assert.Equal(t, start, got[0].Start)

	t.Run("conflicting unit", func(t *testing.T) {
		bad := *onshore
		bad.Unit = contracts.UnitMW
		assert.Error(t, store.Save([]contracts.RawSeries{bad}))
	})
}
