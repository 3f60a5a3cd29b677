package csvimport

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
)

// SMARD export layout
const (
	StartColumn = "Start date"
	EndColumn   = "End date"

	// Jan 1, 2021 12:00 AM, Europe/Berlin wall clock
	TimestampLayout = "Jan 2, 2006 3:04 PM"
)

// columnAliases maps normalized SMARD column names to metrics.
// Columns not listed here (Total, Other, Residual load, ...) are skipped.
var columnAliases = map[string]contracts.Metric{
	"grid load":                  contracts.MetricTotalLoad,
	"total (grid load)":          contracts.MetricTotalLoad,
	"netzlast":                   contracts.MetricTotalLoad,
	"wind onshore":               contracts.MetricWindOnshore,
	"wind offshore":              contracts.MetricWindOffshore,
	"photovoltaics":              contracts.MetricSolar,
	"photovoltaik":               contracts.MetricSolar,
	"biomass":                    contracts.MetricBiomass,
	"biomasse":                   contracts.MetricBiomass,
	"hydropower":                 contracts.MetricHydro,
	"wasserkraft":                contracts.MetricHydro,
	"lignite":                    contracts.MetricLignite,
	"braunkohle":                 contracts.MetricLignite,
	"hard coal":                  contracts.MetricHardCoal,
	"steinkohle":                 contracts.MetricHardCoal,
	"fossil gas":                 contracts.MetricNaturalGas,
	"erdgas":                     contracts.MetricNaturalGas,
	"nuclear":                    contracts.MetricNuclear,
	"kernenergie":                contracts.MetricNuclear,
	"germany/luxembourg":         contracts.MetricPrice,
	"deutschland/luxemburg":      contracts.MetricPrice,
	"germany/austria/luxembourg": contracts.MetricPrice,
}

// NormalizeColumn returns the lower-case column name without the unit
// suffix ("Wind onshore [MWh] Calculated resolutions" -> "wind onshore")
func NormalizeColumn(header string) string {
	name := header
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// MetricForColumn maps a SMARD header to a metric
func MetricForColumn(header string) (contracts.Metric, bool) {
	name := NormalizeColumn(header)
	if strings.Contains(name, "residual") {
		return "", false // derived by the aligner
	}
	if m, ok := columnAliases[name]; ok {
		return m, true
	}
	if strings.Contains(header, "€") || strings.Contains(header, "Deutschland") {
		return contracts.MetricPrice, true
	}
	return "", false
}

// unitForColumn reads the unit from the bracketed header suffix
func unitForColumn(header string, m contracts.Metric) contracts.Unit {
	from := strings.IndexByte(header, '[')
	to := strings.IndexByte(header, ']')
	if from >= 0 && to > from {
		switch strings.TrimSpace(header[from+1 : to]) {
		case "MWh":
			return contracts.UnitMWh
		case "MW":
			return contracts.UnitMW
		case "GW":
			return contracts.UnitGW
		case "€/MWh", "Euro/MWh", "EUR/MWh":
			return contracts.UnitEURPerMWh
		}
	}
	if m == contracts.MetricPrice {
		return contracts.UnitEURPerMWh
	}
	return contracts.UnitMWh
}

// ParseGermanNumber parses "1.234,56". Empty cells and "-" are missing.
func ParseGermanNumber(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil, nil
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", s, err)
	}
	return &v, nil
}

// File is the parsed content of one SMARD export
type File struct {
	Series     []contracts.RawSeries
	Resolution contracts.Resolution
	Rows       int
	Skipped    int      // rows with an unparseable start date
	BadCells   int      // cells that were neither empty nor a number
	Ignored    []string // headers with no metric
}

// Parse reads a SMARD CSV export. Timestamps are wall-clock times in loc;
// the repeated hour at the end of daylight saving time is resolved by
// continuing the previous row's step.
func Parse(r io.Reader, loc *time.Location, regionFor func(contracts.Metric) string) (*File, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	startIdx, endIdx := -1, -1
	type target struct {
		col    int
		series *contracts.RawSeries
	}
	var targets []target
	seen := make(map[contracts.Metric]bool)
	file := &File{Resolution: contracts.ResolutionHour}

	for i, h := range header {
		switch strings.TrimSpace(h) {
		case StartColumn:
			startIdx = i
			continue
		case EndColumn:
			endIdx = i
			continue
		}
		m, ok := MetricForColumn(h)
		if !ok || seen[m] {
			file.Ignored = append(file.Ignored, h)
			continue
		}
		seen[m] = true
		targets = append(targets, target{col: i, series: &contracts.RawSeries{
			Metric: m,
			Region: regionFor(m),
			Unit:   unitForColumn(h, m),
		}})
	}
	if startIdx < 0 {
		return nil, fmt.Errorf("csv has no %q column", StartColumn)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("csv has no known metric column (headers %v)", header)
	}

	var prev time.Time
	step := time.Duration(0)
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", file.Rows+2, err)
		}
		file.Rows++
		if startIdx >= len(rec) {
			file.Skipped++
			continue
		}

		ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(rec[startIdx]), loc)
		if err != nil {
			file.Skipped++
			continue
		}
		if step == 0 && endIdx >= 0 && endIdx < len(rec) {
			if end, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(rec[endIdx]), loc); err == nil {
				if d := end.Sub(ts); d == 15*time.Minute {
					step, file.Resolution = d, contracts.ResolutionQuarterHour
				} else if d == time.Hour {
					step = d
				}
			}
		}
		if !prev.IsZero() {
			ts = resolveAmbiguous(prev, ts, step, loc)
		}
		prev = ts

		for _, tg := range targets {
			var cell string
			if tg.col < len(rec) {
				cell = rec[tg.col]
			}
			v, err := ParseGermanNumber(cell)
			if err != nil {
				file.BadCells++
			}
			tg.series.Points = append(tg.series.Points, contracts.Point{Timestamp: ts.UTC(), Value: v})
		}
	}

	for _, tg := range targets {
		s := tg.series
		s.Resolution = file.Resolution
		sort.SliceStable(s.Points, func(a, b int) bool { return s.Points[a].Timestamp.Before(s.Points[b].Timestamp) })
		if n := len(s.Points); n > 0 {
			s.Start = s.Points[0].Timestamp
			s.End = s.Points[n-1].Timestamp.Add(file.Resolution.Duration())
		}
		file.Series = append(file.Series, *s)
	}
	sort.Slice(file.Series, func(a, b int) bool { return file.Series[a].Metric < file.Series[b].Metric })
	return file, nil
}

// resolveAmbiguous returns prev+step when that instant shows the same wall
// clock as ts. During the autumn fall-back both occurrences of 02:00 parse
// to the same instant; this keeps them one step apart.
func resolveAmbiguous(prev, ts time.Time, step time.Duration, loc *time.Location) time.Time {
	if step == 0 {
		step = time.Hour
	}
	next := prev.Add(step)
	if next.Equal(ts) {
		return ts
	}
	a, b := next.In(loc), ts.In(loc)
	if a.Year() == b.Year() && a.YearDay() == b.YearDay() && a.Hour() == b.Hour() && a.Minute() == b.Minute() {
		return next
	}
	return ts
}
