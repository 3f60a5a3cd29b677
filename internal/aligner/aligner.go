package aligner

import (
	"fmt"
	"math"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/logger"
)

// Options holds cleaning policy
// ⭐ SSOT: 결측/보간 정책은 이 패키지에서만 결정
type Options struct {
	MaxInterpolationGap int     // hours, runs up to this length are interpolated
	MinCoverage         float64 // minimum fraction of complete hours
	Required            []contracts.Metric
}

// DefaultOptions returns the default cleaning policy
func DefaultOptions() Options {
	return Options{
		MaxInterpolationGap: 2,
		MinCoverage:         0.9,
		Required:            contracts.RequiredMetrics(),
	}
}

// Aligner merges raw series onto the canonical hourly index
type Aligner struct {
	logger *logger.Logger
	opts   Options
}

// New creates a new Aligner
func New(log *logger.Logger, opts Options) *Aligner {
	if len(opts.Required) == 0 {
		opts.Required = contracts.RequiredMetrics()
	}
	return &Aligner{
		logger: log.WithStage(string(contracts.StageCleaning)),
		opts:   opts,
	}
}

// Align builds the hourly table for window. On insufficient coverage the
// table is still returned alongside an *contracts.AlignmentError.
func (a *Aligner) Align(series []contracts.RawSeries, window contracts.TimeRange) (*contracts.HourlyTable, error) {
	index := HourlyIndex(window)
	if len(index) == 0 {
		return nil, &contracts.AlignmentError{Window: window, MinCoverage: a.opts.MinCoverage, Message: "window contains no hours"}
	}

	// 1. Normalize and project every series
	projected := make(map[contracts.Metric]*hourlySeries, len(series))
	for _, s := range series {
		if _, dup := projected[s.Metric]; dup {
			return nil, &contracts.DataQualityError{
				Stage:     contracts.StageCleaning,
				Column:    string(s.Metric),
				Invariant: "one raw series per metric",
				Count:     1,
			}
		}
		p, err := project(s, index)
		if err != nil {
			return nil, &contracts.DataQualityError{
				Stage:     contracts.StageCleaning,
				Column:    string(s.Metric),
				Invariant: err.Error(),
				Count:     len(s.Points),
			}
		}
		projected[s.Metric] = p
	}

	// 2. Build records
	table := &contracts.HourlyTable{Window: window}
	for _, m := range contracts.AllMetrics() {
		if _, ok := projected[m]; ok && m.IsGeneration() {
			table.Sources = append(table.Sources, m)
		}
	}

	table.Records = make([]contracts.HourlyRecord, len(index))
	for i, t := range index {
		table.Records[i] = contracts.HourlyRecord{
			Timestamp:    t,
			Price:        math.NaN(),
			TotalLoad:    math.NaN(),
			ResidualLoad: math.NaN(),
			Generation:   make(map[contracts.Metric]float64, len(table.Sources)),
		}
	}

	// 3. Gap policy per metric, in canonical order so reasons are stable
	report := &contracts.QualityReport{
		Window:      window,
		TotalHours:  len(index),
		MinCoverage: a.opts.MinCoverage,
		Metrics:     make(map[contracts.Metric]contracts.MetricQuality),
	}

	for _, m := range contracts.AllMetrics() {
		p, ok := projected[m]
		if !ok {
			if a.isRequired(m) {
				for i := range table.Records {
					table.Records[i].Flag("missing:" + string(m))
				}
				report.Metrics[m] = contracts.MetricQuality{Flagged: len(index)}
			}
			continue
		}

		fill := fillGaps(p.values, a.opts.MaxInterpolationGap, m)
		for k, pos := range fill.flagged {
			table.Records[pos].Flag(fill.reasons[k])
		}
		for i := range table.Records {
			setValue(&table.Records[i], m, p.values[i])
		}

		report.Metrics[m] = contracts.MetricQuality{
			Observed:     p.observed,
			Interpolated: fill.interpolated,
			Flagged:      len(fill.flagged),
			Duplicates:   p.duplicates,
			Partial:      p.partial,
			Coverage:     float64(p.observed+fill.interpolated) / float64(len(index)),
		}
	}

	// 4. Derived residual load
	for i := range table.Records {
		table.Records[i].ResidualLoad = ResidualLoad(&table.Records[i])
	}

	report.CompleteHours = table.CompleteCount()
	report.Coverage = float64(report.CompleteHours) / float64(report.TotalHours)
	report.Passed = report.IsValid()
	table.Quality = report

	a.logger.WithFields(map[string]interface{}{
		"window":   window.String(),
		"hours":    report.TotalHours,
		"complete": report.CompleteHours,
		"coverage": fmt.Sprintf("%.4f", report.Coverage),
		"sources":  len(table.Sources),
	}).Info("Aligned hourly table")

	if !report.Passed {
		worst, worstCov := worstMetric(report)
		return table, &contracts.AlignmentError{
			Window:        window,
			TotalHours:    report.TotalHours,
			CompleteHours: report.CompleteHours,
			MinCoverage:   a.opts.MinCoverage,
			WorstMetric:   worst,
			WorstCoverage: worstCov,
		}
	}

	return table, nil
}

func (a *Aligner) isRequired(m contracts.Metric) bool {
	for _, r := range a.opts.Required {
		if r == m {
			return true
		}
	}
	return false
}

func setValue(r *contracts.HourlyRecord, m contracts.Metric, v float64) {
	switch m {
	case contracts.MetricPrice:
		r.Price = v
	case contracts.MetricTotalLoad:
		r.TotalLoad = v
	default:
		r.Generation[m] = v
	}
}

// ResidualLoad is total load minus wind and solar generation.
// NaN if any input is missing.
func ResidualLoad(r *contracts.HourlyRecord) float64 {
	res := r.TotalLoad
	for _, m := range []contracts.Metric{
		contracts.MetricWindOnshore,
		contracts.MetricWindOffshore,
		contracts.MetricSolar,
	} {
		v, ok := r.Generation[m]
		if !ok {
			return math.NaN()
		}
		res -= v
	}
	return res // NaN propagates
}

func worstMetric(q *contracts.QualityReport) (contracts.Metric, float64) {
	var worst contracts.Metric
	worstCov := math.Inf(1)
	for _, m := range contracts.AllMetrics() {
		mq, ok := q.Metrics[m]
		if ok && mq.Coverage < worstCov {
			worst, worstCov = m, mq.Coverage
		}
	}
	if worst == "" {
		return "", 0
	}
	return worst, worstCov
}
