package contracts

import (
	"math"
	"strings"
	"time"
)

// HourlyRecord is one hour of the cleaned table. Missing values are NaN.
// ⭐ SSOT: Aligner → Feature Engine 정제 데이터 전달
type HourlyRecord struct {
	Timestamp    time.Time          `json:"timestamp"` // hour start, UTC
	Price        float64            `json:"price"`
	TotalLoad    float64            `json:"total_load"`
	Generation   map[Metric]float64 `json:"generation"`
	ResidualLoad float64            `json:"residual_load"`
	Incomplete   bool               `json:"incomplete"`
	Reasons      []string           `json:"reasons,omitempty"`
}

// Value returns the cleaned value of a metric
func (r *HourlyRecord) Value(m Metric) float64 {
	switch m {
	case MetricPrice:
		return r.Price
	case MetricTotalLoad:
		return r.TotalLoad
	}
	if v, ok := r.Generation[m]; ok {
		return v
	}
	return math.NaN()
}

// Flag marks the record incomplete with a reason
func (r *HourlyRecord) Flag(reason string) {
	r.Incomplete = true
	for _, existing := range r.Reasons {
		if existing == reason {
			return
		}
	}
	r.Reasons = append(r.Reasons, reason)
}

// Reason joins all reasons with ';'
func (r *HourlyRecord) Reason() string {
	return strings.Join(r.Reasons, ";")
}

// HourlyTable is the aligned output for one study window
type HourlyTable struct {
	Window  TimeRange      `json:"window"`
	Sources []Metric       `json:"sources"` // generation columns, canonical order
	Records []HourlyRecord `json:"records"`
	Quality *QualityReport `json:"quality,omitempty"`
}

// Len returns the number of hours
func (t *HourlyTable) Len() int {
	return len(t.Records)
}

// CompleteCount returns the number of hours not flagged incomplete
func (t *HourlyTable) CompleteCount() int {
	n := 0
	for i := range t.Records {
		if !t.Records[i].Incomplete {
			n++
		}
	}
	return n
}

// MetricQuality holds per-metric cleaning statistics
type MetricQuality struct {
	Observed     int     `json:"observed"`     // hours with a source value
	Interpolated int     `json:"interpolated"` // hours filled from a short gap
	Flagged      int     `json:"flagged"`      // hours left missing
	Duplicates   int     `json:"duplicates"`   // collapsed source rows
	Partial      int     `json:"partial"`      // hours missing some sub-hourly values
	Coverage     float64 `json:"coverage"`     // (observed+interpolated)/hours
}

// QualityReport summarizes the cleaning of one window
// ⭐ SSOT: CLEANING 단계 데이터 품질 정보
type QualityReport struct {
	Window        TimeRange                `json:"window"`
	TotalHours    int                      `json:"total_hours"`
	CompleteHours int                      `json:"complete_hours"`
	Coverage      float64                  `json:"coverage"` // complete/total
	MinCoverage   float64                  `json:"min_coverage"`
	Metrics       map[Metric]MetricQuality `json:"metrics"`
	Passed        bool                     `json:"passed"`
}

// IsValid checks if the report meets the minimum coverage
func (q *QualityReport) IsValid() bool {
	return q.TotalHours > 0 && q.Coverage >= q.MinCoverage
}

// CoverageRate returns the average per-metric coverage
func (q *QualityReport) CoverageRate() float64 {
	if len(q.Metrics) == 0 {
		return 0.0
	}

	total := 0.0
	for _, m := range q.Metrics {
		total += m.Coverage
	}

	return total / float64(len(q.Metrics))
}
