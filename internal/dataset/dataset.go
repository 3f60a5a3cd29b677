package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/logger"
)

// Split names
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

// Drop reason prefixes
const (
	ReasonIncomplete = "incomplete"
	ReasonUndefined  = "undefined"
)

// SplitSpec selects split boundaries. Boundaries win over ratios.
type SplitSpec struct {
	TrainEnd        time.Time // first validation hour
	ValidationEnd   time.Time // first test hour
	TrainRatio      float64
	ValidationRatio float64
}

// UsesBoundaries reports whether explicit timestamps are set
func (s SplitSpec) UsesBoundaries() bool {
	return !s.TrainEnd.IsZero() && !s.ValidationEnd.IsZero()
}

// Drop records one excluded row
type Drop struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// Category returns the reason prefix (incomplete, undefined)
func (d Drop) Category() string {
	if i := strings.IndexByte(d.Reason, ':'); i >= 0 {
		return d.Reason[:i]
	}
	return d.Reason
}

// Dataset holds time-ordered splits over one feature table
// ⭐ SSOT: Dataset Builder → Trainer 전달 (스키마 포함)
type Dataset struct {
	Schema     contracts.Schema
	Sources    []contracts.Metric
	Window     contracts.TimeRange
	Train      []contracts.FeatureRow
	Validation []contracts.FeatureRow
	Test       []contracts.FeatureRow
	Dropped    []Drop
}

// Split returns rows of a named split
func (d *Dataset) Split(name string) []contracts.FeatureRow {
	switch name {
	case SplitTrain:
		return d.Train
	case SplitValidation:
		return d.Validation
	case SplitTest:
		return d.Test
	}
	return nil
}

// DroppedByReason counts drops per reason category
func (d *Dataset) DroppedByReason() map[string]int {
	counts := make(map[string]int)
	for _, drop := range d.Dropped {
		counts[drop.Category()]++
	}
	return counts
}

// Summary returns range and size of a split
func Summary(rows []contracts.FeatureRow) contracts.SplitSummary {
	if len(rows) == 0 {
		return contracts.SplitSummary{}
	}
	return contracts.SplitSummary{
		Range: contracts.TimeRange{Start: rows[0].Timestamp, End: rows[len(rows)-1].Timestamp.Add(time.Hour)},
		Rows:  len(rows),
	}
}

// Matrix extracts the declared feature columns and the target.
// Values are returned as-is; null targets are for the trainer to reject.
func (d *Dataset) Matrix(rows []contracts.FeatureRow) ([][]float64, []float64, []time.Time) {
	X := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	ts := make([]time.Time, len(rows))
	for i := range rows {
		X[i] = make([]float64, len(d.Schema.Features))
		for j, col := range d.Schema.Features {
			X[i][j], _ = rows[i].Value(col)
		}
		y[i], _ = rows[i].Value(d.Schema.Target)
		ts[i] = rows[i].Timestamp
	}
	return X, y, ts
}

// Builder produces splits from a feature table
type Builder struct {
	logger *logger.Logger
}

// NewBuilder creates a new dataset builder
func NewBuilder(log *logger.Logger) *Builder {
	return &Builder{logger: log.WithStage(string(contracts.StageSplitting))}
}

// Build drops incomplete and warm-up rows, then partitions the rest by time
func (b *Builder) Build(ft *contracts.FeatureTable, schema contracts.Schema, spec SplitSpec) (*Dataset, error) {
	if err := checkSchema(ft, schema); err != nil {
		return nil, err
	}
	if err := checkOrdering(ft.Rows); err != nil {
		return nil, err
	}

	ds := &Dataset{
		Schema:  contracts.Schema{Features: append([]string(nil), schema.Features...), Target: schema.Target},
		Sources: append([]contracts.Metric(nil), ft.Sources...),
	}
	if n := len(ft.Rows); n > 0 {
		ds.Window = contracts.TimeRange{Start: ft.Rows[0].Timestamp, End: ft.Rows[n-1].Timestamp.Add(time.Hour)}
	}

	// 1. Exclusions
	kept := make([]contracts.FeatureRow, 0, len(ft.Rows))
	for i := range ft.Rows {
		row := ft.Rows[i]
		if reason, drop := dropReason(&row, schema); drop {
			ds.Dropped = append(ds.Dropped, Drop{Timestamp: row.Timestamp, Reason: reason})
			continue
		}
		kept = append(kept, row)
	}

	// 2. Boundaries
	trainEnd, validationEnd, err := boundaries(kept, spec)
	if err != nil {
		return nil, err
	}

	// 3. Partition, preserving order
	for _, row := range kept {
		switch {
		case row.Timestamp.Before(trainEnd):
			ds.Train = append(ds.Train, row)
		case row.Timestamp.Before(validationEnd):
			ds.Validation = append(ds.Validation, row)
		default:
			ds.Test = append(ds.Test, row)
		}
	}

	for _, split := range []string{SplitTrain, SplitValidation, SplitTest} {
		if len(ds.Split(split)) == 0 {
			return nil, &contracts.DataQualityError{
				Stage:     contracts.StageSplitting,
				Column:    contracts.ColTimestamp,
				Invariant: fmt.Sprintf("%s split is empty (boundaries %s / %s, %d usable rows)", split, trainEnd.Format(time.RFC3339), validationEnd.Format(time.RFC3339), len(kept)),
			}
		}
	}

	if err := ds.Verify(ft); err != nil {
		return nil, err
	}

	b.logger.WithFields(map[string]interface{}{
		"rows":       len(ft.Rows),
		"train":      len(ds.Train),
		"validation": len(ds.Validation),
		"test":       len(ds.Test),
		"dropped":    ds.DroppedByReason(),
		"features":   len(ds.Schema.Features),
	}).Info("Built dataset")

	return ds, nil
}

// Verify checks strict temporal ordering between splits and that splits
// plus drops partition the feature table exactly
func (d *Dataset) Verify(ft *contracts.FeatureTable) error {
	last := func(rows []contracts.FeatureRow) time.Time { return rows[len(rows)-1].Timestamp }
	if len(d.Train) > 0 && len(d.Validation) > 0 && !last(d.Train).Before(d.Validation[0].Timestamp) {
		return orderingError("max(train) must be before min(validation)", last(d.Train), d.Validation[0].Timestamp)
	}
	if len(d.Validation) > 0 && len(d.Test) > 0 && !last(d.Validation).Before(d.Test[0].Timestamp) {
		return orderingError("max(validation) must be before min(test)", last(d.Validation), d.Test[0].Timestamp)
	}

	seen := make(map[int64]int, len(ft.Rows))
	for _, rows := range [][]contracts.FeatureRow{d.Train, d.Validation, d.Test} {
		for i := range rows {
			seen[rows[i].Timestamp.Unix()]++
		}
	}
	for _, drop := range d.Dropped {
		seen[drop.Timestamp.Unix()]++
	}

	var missing []time.Time
	count := 0
	for i := range ft.Rows {
		if seen[ft.Rows[i].Timestamp.Unix()] != 1 {
			missing = contracts.CollectTimestamps(missing, ft.Rows[i].Timestamp)
			count++
		}
	}
	if count > 0 || len(seen) != len(ft.Rows) {
		return &contracts.DataQualityError{
			Stage:      contracts.StageSplitting,
			Column:     contracts.ColTimestamp,
			Invariant:  "splits plus dropped rows must equal the feature table exactly once",
			Timestamps: missing,
			Count:      count,
		}
	}
	return nil
}

func orderingError(invariant string, a, b time.Time) error {
	return &contracts.DataQualityError{
		Stage:      contracts.StageSplitting,
		Column:     contracts.ColTimestamp,
		Invariant:  invariant,
		Timestamps: []time.Time{a, b},
		Count:      1,
	}
}

// dropReason decides whether a row is excluded. Null targets are kept so the
// trainer can reject them.
func dropReason(row *contracts.FeatureRow, schema contracts.Schema) (string, bool) {
	if row.Incomplete {
		return ReasonIncomplete + ":" + row.Reason(), true
	}
	for _, col := range schema.Features {
		v, _ := row.Value(col)
		if math.IsNaN(v) {
			return ReasonUndefined + ":" + col, true
		}
	}
	return "", false
}

func boundaries(kept []contracts.FeatureRow, spec SplitSpec) (time.Time, time.Time, error) {
	if spec.UsesBoundaries() {
		if !spec.TrainEnd.Before(spec.ValidationEnd) {
			return time.Time{}, time.Time{}, fmt.Errorf("split: train end %s must be before validation end %s",
				spec.TrainEnd.Format(time.RFC3339), spec.ValidationEnd.Format(time.RFC3339))
		}
		return spec.TrainEnd.UTC(), spec.ValidationEnd.UTC(), nil
	}

	if spec.TrainRatio <= 0 || spec.ValidationRatio <= 0 || spec.TrainRatio+spec.ValidationRatio >= 1 {
		return time.Time{}, time.Time{}, fmt.Errorf("split: ratios train=%.3f validation=%.3f must be positive and sum below 1",
			spec.TrainRatio, spec.ValidationRatio)
	}
	n := len(kept)
	nTrain := int(math.Floor(float64(n) * spec.TrainRatio))
	nVal := int(math.Floor(float64(n) * spec.ValidationRatio))
	if nTrain < 1 || nVal < 1 || nTrain+nVal >= n {
		return time.Time{}, time.Time{}, &contracts.DataQualityError{
			Stage:     contracts.StageSplitting,
			Column:    contracts.ColTimestamp,
			Invariant: fmt.Sprintf("%d usable rows are too few for ratios %.2f/%.2f", n, spec.TrainRatio, spec.ValidationRatio),
			Count:     n,
		}
	}
	return kept[nTrain].Timestamp, kept[nTrain+nVal].Timestamp, nil
}

func checkSchema(ft *contracts.FeatureTable, schema contracts.Schema) error {
	if schema.Target != contracts.TargetColumn {
		return contracts.NewSchemaMismatch([]string{contracts.TargetColumn}, []string{schema.Target})
	}
	if len(schema.Features) == 0 {
		return fmt.Errorf("schema declares no feature columns")
	}

	available := ft.Columns()
	set := make(map[string]bool, len(available))
	for _, c := range available {
		set[c] = true
	}
	seen := make(map[string]bool, len(schema.Features))
	for _, c := range schema.Features {
		if c == schema.Target || !set[c] || seen[c] || c == contracts.ColTimestamp || c == contracts.ColIncomplete || c == contracts.ColIncompleteReason {
			return contracts.NewSchemaMismatch(schema.Features, featureCandidates(available))
		}
		seen[c] = true
	}
	return nil
}

// featureCandidates lists the columns a schema may declare
func featureCandidates(columns []string) []string {
	var out []string
	for _, c := range columns {
		switch c {
		case contracts.ColTimestamp, contracts.ColIncomplete, contracts.ColIncompleteReason, contracts.TargetColumn:
			continue
		}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func checkOrdering(rows []contracts.FeatureRow) error {
	for i := 1; i < len(rows); i++ {
		if !rows[i-1].Timestamp.Before(rows[i].Timestamp) {
			return orderingError("feature rows must be strictly increasing in time", rows[i-1].Timestamp, rows[i].Timestamp)
		}
	}
	return nil
}
