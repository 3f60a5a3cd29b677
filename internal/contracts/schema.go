package contracts

import (
	"fmt"
	"strings"
)

// Column names of the persisted tables. Suffixes name the unit.
// ⭐ SSOT: hourly.csv / features.csv 헤더
const (
	ColTimestamp    = "timestamp_utc"
	ColPrice        = "price_eur_mwh"
	ColTotalLoad    = "total_load_mw"
	ColResidualLoad = "residual_load_mw"

	ColLag1hPrice           = "lag_1h_price_eur_mwh"
	ColLag24hPrice          = "lag_24h_price_eur_mwh"
	ColLag168hPrice         = "lag_168h_price_eur_mwh"
	ColRollMean24hResidual  = "rolling_mean_24h_residual_load_mw"
	ColRollStd24hResidual   = "rolling_std_24h_residual_load_mw"
	ColRollMean168hResidual = "rolling_mean_168h_residual_load_mw"
	ColRollMean24hPrice     = "rolling_mean_24h_price_eur_mwh"

	ColHourOfDay = "hour_of_day"
	ColDayOfWeek = "day_of_week"
	ColMonth     = "month"
	ColIsWeekend = "is_weekend"
	ColIsHoliday = "is_holiday"

	ColIncomplete       = "incomplete"
	ColIncompleteReason = "incomplete_reason"

	// TargetColumn is what the trainer predicts
	TargetColumn = ColPrice
)

// GenerationColumn returns the column name of a generation source
func GenerationColumn(m Metric) string {
	return "gen_" + string(m) + "_mw"
}

// GenerationMetricFromColumn parses gen_<metric>_mw
func GenerationMetricFromColumn(column string) (Metric, bool) {
	if !strings.HasPrefix(column, "gen_") || !strings.HasSuffix(column, "_mw") {
		return "", false
	}
	m, err := ParseMetric(strings.TrimSuffix(strings.TrimPrefix(column, "gen_"), "_mw"))
	if err != nil || !m.IsGeneration() {
		return "", false
	}
	return m, true
}

// HourlyTableColumns returns the header of hourly.csv
func HourlyTableColumns(sources []Metric) []string {
	cols := []string{ColTimestamp, ColPrice, ColTotalLoad, ColResidualLoad}
	for _, m := range sources {
		cols = append(cols, GenerationColumn(m))
	}
	return append(cols, ColIncomplete, ColIncompleteReason)
}

// FeatureTableColumns returns the header of features.csv
func FeatureTableColumns(sources []Metric) []string {
	cols := []string{ColTimestamp, ColPrice, ColTotalLoad, ColResidualLoad}
	for _, m := range sources {
		cols = append(cols, GenerationColumn(m))
	}
	cols = append(cols, LagColumns()...)
	cols = append(cols,
		ColHourOfDay, ColDayOfWeek, ColMonth, ColIsWeekend, ColIsHoliday,
		ColIncomplete, ColIncompleteReason,
	)
	return cols
}

// DefaultFeatureColumns returns the model inputs used when the study
// definition does not list them. Total load is left out because it is
// a linear combination of residual load and the renewable columns.
func DefaultFeatureColumns(sources []Metric) []string {
	cols := []string{ColResidualLoad}
	for _, m := range sources {
		if m.IsVariableRenewable() {
			cols = append(cols, GenerationColumn(m))
		}
	}
	cols = append(cols, LagColumns()...)
	return append(cols, ColHourOfDay, ColDayOfWeek, ColMonth, ColIsWeekend, ColIsHoliday)
}

// Schema is the declared model input contract of a dataset
// ⭐ SSOT: Dataset Builder → Trainer 스키마 계약
type Schema struct {
	Features []string `json:"features"`
	Target   string   `json:"target"`
}

// Validate checks that a column list matches the declared features exactly,
// including order
func (s Schema) Validate(columns []string) error {
	if len(columns) == len(s.Features) {
		same := true
		for i := range columns {
			if columns[i] != s.Features[i] {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}
	return NewSchemaMismatch(s.Features, columns)
}

// Contains reports whether a feature is part of the schema
func (s Schema) Contains(column string) bool {
	for _, c := range s.Features {
		if c == column {
			return true
		}
	}
	return false
}

func (s Schema) String() string {
	return fmt.Sprintf("target=%s features=[%s]", s.Target, strings.Join(s.Features, ","))
}
