package contracts

import (
	"fmt"
	"time"
)

// Metric identifies one raw market series
// ⭐ SSOT: 모든 시계열 이름은 이 상수를 사용
type Metric string

const (
	MetricPrice        Metric = "price"
	MetricTotalLoad    Metric = "total_load"
	MetricWindOnshore  Metric = "wind_onshore"
	MetricWindOffshore Metric = "wind_offshore"
	MetricSolar        Metric = "solar"
	MetricBiomass      Metric = "biomass"
	MetricHydro        Metric = "hydro"
	MetricLignite      Metric = "lignite"
	MetricHardCoal     Metric = "hard_coal"
	MetricNaturalGas   Metric = "natural_gas"
	MetricNuclear      Metric = "nuclear"
)

// AllMetrics returns every known metric in canonical column order
func AllMetrics() []Metric {
	return []Metric{
		MetricPrice,
		MetricTotalLoad,
		MetricWindOnshore,
		MetricWindOffshore,
		MetricSolar,
		MetricBiomass,
		MetricHydro,
		MetricLignite,
		MetricHardCoal,
		MetricNaturalGas,
		MetricNuclear,
	}
}

// RequiredMetrics must be present for an hour to count as complete
func RequiredMetrics() []Metric {
	return []Metric{
		MetricPrice,
		MetricTotalLoad,
		MetricWindOnshore,
		MetricWindOffshore,
		MetricSolar,
	}
}

// ParseMetric parses a metric name
func ParseMetric(s string) (Metric, error) {
	for _, m := range AllMetrics() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// IsGeneration reports whether the metric is a generation source
func (m Metric) IsGeneration() bool {
	return m != MetricPrice && m != MetricTotalLoad && m != ""
}

// IsVariableRenewable reports whether the metric is subtracted for residual load
func (m Metric) IsVariableRenewable() bool {
	switch m {
	case MetricWindOnshore, MetricWindOffshore, MetricSolar:
		return true
	}
	return false
}

// CanonicalUnit returns the unit every value of this metric is normalized to
func (m Metric) CanonicalUnit() Unit {
	if m == MetricPrice {
		return UnitEURPerMWh
	}
	return UnitMW
}

// Unit of a raw value
type Unit string

const (
	UnitMW        Unit = "MW"
	UnitGW        Unit = "GW"
	UnitMWh       Unit = "MWh" // energy per interval, depends on resolution
	UnitEURPerMWh Unit = "EUR/MWh"
	UnitCtPerKWh  Unit = "ct/kWh"
)

// Resolution is the spacing of a raw series
type Resolution string

const (
	ResolutionHour        Resolution = "hour"
	ResolutionQuarterHour Resolution = "quarterhour"
)

// Duration returns the interval length
func (r Resolution) Duration() time.Duration {
	if r == ResolutionQuarterHour {
		return 15 * time.Minute
	}
	return time.Hour
}

// Point is one observation. Value is nil when the source reported no value.
type Point struct {
	Timestamp time.Time `json:"ts"`
	Value     *float64  `json:"v"`
}

// RawSeries is one fetched series. Treat as immutable once returned.
// ⭐ SSOT: Fetcher → Aligner 원본 시계열 전달
type RawSeries struct {
	Metric     Metric     `json:"metric"`
	Region     string     `json:"region"`
	Resolution Resolution `json:"resolution"`
	Unit       Unit       `json:"unit"`
	Start      time.Time  `json:"start"` // inclusive, UTC
	End        time.Time  `json:"end"`   // exclusive, UTC
	Points     []Point    `json:"points"`
}

// Range returns the requested range of the series
func (s *RawSeries) Range() TimeRange {
	return TimeRange{Start: s.Start, End: s.End}
}

// Present counts points with a value
func (s *RawSeries) Present() int {
	n := 0
	for _, p := range s.Points {
		if p.Value != nil {
			n++
		}
	}
	return n
}

// FetchRequest describes what the fetcher should retrieve
type FetchRequest struct {
	Metrics []Metric
	Start   time.Time // inclusive
	End     time.Time // exclusive
}

// TimeRange is a half-open [Start, End) interval
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies in the range
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// IsZero reports whether the range is unset
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

func (r TimeRange) String() string {
	const layout = "2006-01-02T15:04Z"
	return fmt.Sprintf("[%s, %s)", r.Start.UTC().Format(layout), r.End.UTC().Format(layout))
}
