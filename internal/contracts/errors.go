package contracts

import (
	"fmt"
	"strings"
	"time"
)

// Pipeline error taxonomy
// ⭐ SSOT: 모든 단계 실패는 아래 타입 중 하나로 보고
//
// 각 에러는 단계, 문제 구간(또는 컬럼), 위반된 불변식을 포함해야 함

// FetchError is returned when a chunk still fails after all retries
type FetchError struct {
	Metric   Metric
	Range    TimeRange
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s %s failed after %d attempts: %v", e.Metric, e.Range, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AlignmentError is returned when too few hours of the window are complete
type AlignmentError struct {
	Window        TimeRange
	TotalHours    int
	CompleteHours int
	MinCoverage   float64
	// WorstMetric has the lowest coverage; empty if the window itself is invalid
	WorstMetric   Metric
	WorstCoverage float64
	Message       string
}

func (e *AlignmentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("alignment %s: %s", e.Window, e.Message)
	}
	coverage := 0.0
	if e.TotalHours > 0 {
		coverage = float64(e.CompleteHours) / float64(e.TotalHours)
	}
	msg := fmt.Sprintf("alignment %s: coverage %.3f (%d/%d complete hours) below minimum %.3f",
		e.Window, coverage, e.CompleteHours, e.TotalHours, e.MinCoverage)
	if e.WorstMetric != "" {
		msg += fmt.Sprintf(", worst metric %s at %.3f", e.WorstMetric, e.WorstCoverage)
	}
	return msg
}

// DataQualityError is returned when invalid values reach a stage that requires completeness
type DataQualityError struct {
	Stage      Stage
	Column     string
	Invariant  string
	Timestamps []time.Time // offending rows, may be truncated
	Count      int         // total offending rows
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality [%s] column %s: %s (%d rows%s)",
		e.Stage, e.Column, e.Invariant, e.Count, formatTimestamps(e.Timestamps))
}

// LeakageViolation is raised when a feature at t depends on data at or after t
type LeakageViolation struct {
	Feature   string
	At        time.Time // row whose feature changed
	Perturbed time.Time // first perturbed hour
	Before    float64
	After     float64
}

func (e *LeakageViolation) Error() string {
	return fmt.Sprintf("leakage: feature %s at %s changed (%v -> %v) when data from %s onward was perturbed",
		e.Feature, e.At.UTC().Format(time.RFC3339), e.Before, e.After, e.Perturbed.UTC().Format(time.RFC3339))
}

// SchemaMismatch is returned when a feature table does not match the declared schema
type SchemaMismatch struct {
	Expected   []string
	Got        []string
	Missing    []string
	Unexpected []string
}

// NewSchemaMismatch builds a mismatch with missing/unexpected columns filled in
func NewSchemaMismatch(expected, got []string) *SchemaMismatch {
	e := &SchemaMismatch{Expected: expected, Got: got}
	gotSet := make(map[string]bool, len(got))
	for _, c := range got {
		gotSet[c] = true
	}
	expSet := make(map[string]bool, len(expected))
	for _, c := range expected {
		expSet[c] = true
		if !gotSet[c] {
			e.Missing = append(e.Missing, c)
		}
	}
	for _, c := range got {
		if !expSet[c] {
			e.Unexpected = append(e.Unexpected, c)
		}
	}
	return e
}

func (e *SchemaMismatch) Error() string {
	if len(e.Missing) == 0 && len(e.Unexpected) == 0 {
		return fmt.Sprintf("schema mismatch: column order differs, expected [%s] got [%s]",
			strings.Join(e.Expected, ","), strings.Join(e.Got, ","))
	}
	return fmt.Sprintf("schema mismatch: missing [%s] unexpected [%s]",
		strings.Join(e.Missing, ","), strings.Join(e.Unexpected, ","))
}

// StageError wraps a failure with the pipeline stage it halted
type StageError struct {
	Stage Stage
	Range TimeRange
	Err   error
}

func (e *StageError) Error() string {
	if e.Range.IsZero() {
		return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed for %s: %v", e.Stage, e.Range, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

const maxReportedTimestamps = 5

func formatTimestamps(ts []time.Time) string {
	if len(ts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ts))
	for i, t := range ts {
		if i == maxReportedTimestamps {
			parts = append(parts, "...")
			break
		}
		parts = append(parts, t.UTC().Format(time.RFC3339))
	}
	return ": " + strings.Join(parts, ", ")
}

// CollectTimestamps keeps the first few offending timestamps for an error report
func CollectTimestamps(dst []time.Time, t time.Time) []time.Time {
	if len(dst) > maxReportedTimestamps {
		return dst
	}
	return append(dst, t)
}
