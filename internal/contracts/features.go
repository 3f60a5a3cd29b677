package contracts

import (
	"math"
	"strings"
)

// FeatureRow is an HourlyRecord plus causal features.
// Undefined lag/rolling values (warm-up, incomplete neighbours) are NaN.
// ⭐ SSOT: Feature Engine → Dataset Builder 전달
type FeatureRow struct {
	HourlyRecord

	Lag1hPrice   float64 `json:"lag_1h_price"`
	Lag24hPrice  float64 `json:"lag_24h_price"`
	Lag168hPrice float64 `json:"lag_168h_price"`

	RollingMean24hResidual  float64 `json:"rolling_mean_24h_residual_load"`
	RollingStd24hResidual   float64 `json:"rolling_std_24h_residual_load"`
	RollingMean168hResidual float64 `json:"rolling_mean_168h_residual_load"`
	RollingMean24hPrice     float64 `json:"rolling_mean_24h_price"`

	HourOfDay int  `json:"hour_of_day"` // 0-23, Europe/Berlin
	DayOfWeek int  `json:"day_of_week"` // 0=Monday
	Month     int  `json:"month"`       // 1-12
	IsWeekend bool `json:"is_weekend"`
	IsHoliday bool `json:"is_holiday"`
}

// Value returns the numeric value of a named column
func (r *FeatureRow) Value(column string) (float64, bool) {
	switch column {
	case ColPrice:
		return r.Price, true
	case ColTotalLoad:
		return r.TotalLoad, true
	case ColResidualLoad:
		return r.ResidualLoad, true
	case ColLag1hPrice:
		return r.Lag1hPrice, true
	case ColLag24hPrice:
		return r.Lag24hPrice, true
	case ColLag168hPrice:
		return r.Lag168hPrice, true
	case ColRollMean24hResidual:
		return r.RollingMean24hResidual, true
	case ColRollStd24hResidual:
		return r.RollingStd24hResidual, true
	case ColRollMean168hResidual:
		return r.RollingMean168hResidual, true
	case ColRollMean24hPrice:
		return r.RollingMean24hPrice, true
	case ColHourOfDay:
		return float64(r.HourOfDay), true
	case ColDayOfWeek:
		return float64(r.DayOfWeek), true
	case ColMonth:
		return float64(r.Month), true
	case ColIsWeekend:
		return boolToFloat(r.IsWeekend), true
	case ColIsHoliday:
		return boolToFloat(r.IsHoliday), true
	}

	if m, ok := GenerationMetricFromColumn(column); ok {
		v, present := r.Generation[m]
		if !present {
			return math.NaN(), true
		}
		return v, true
	}
	return 0, false
}

// LagColumns are the columns undefined during warm-up
func LagColumns() []string {
	return []string{
		ColLag1hPrice,
		ColLag24hPrice,
		ColLag168hPrice,
		ColRollMean24hResidual,
		ColRollStd24hResidual,
		ColRollMean168hResidual,
		ColRollMean24hPrice,
	}
}

// IsLagColumn reports whether the column is lag or rolling derived
func IsLagColumn(column string) bool {
	return strings.HasPrefix(column, "lag_") || strings.HasPrefix(column, "rolling_")
}

// FeatureTable is the featurized output for one window
type FeatureTable struct {
	Sources []Metric     `json:"sources"`
	Rows    []FeatureRow `json:"rows"`
}

// Columns returns the persisted column order of the table
func (t *FeatureTable) Columns() []string {
	return FeatureTableColumns(t.Sources)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
