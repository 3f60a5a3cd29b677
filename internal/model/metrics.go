package model

import (
	"math"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
)

// Evaluate scores predictions. Directional accuracy compares the sign of
// the predicted and the actual move against the previous actual hour and
// only counts consecutive hours.
func Evaluate(actual, predicted []float64, ts []time.Time) contracts.EvaluationMetrics {
	var m contracts.EvaluationMetrics
	var absSum, sqSum float64
	for i := range actual {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			continue
		}
		d := predicted[i] - actual[i]
		absSum += math.Abs(d)
		sqSum += d * d
		m.N++
	}
	if m.N == 0 {
		return m
	}
	m.MAE = absSum / float64(m.N)
	m.RMSE = math.Sqrt(sqSum / float64(m.N))

	moves, hits := 0, 0
	for i := 1; i < len(actual); i++ {
		if ts != nil && ts[i].Sub(ts[i-1]) != time.Hour {
			continue
		}
		prev := actual[i-1]
		if math.IsNaN(prev) || math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			continue
		}
		moves++
		if sign(actual[i]-prev) == sign(predicted[i]-prev) {
			hits++
		}
	}
	if moves > 0 {
		m.DirectionalAccuracy = float64(hits) / float64(moves)
	}
	return m
}

// MAE is the mean absolute error over non-NaN pairs
func MAE(actual, predicted []float64) float64 {
	return Evaluate(actual, predicted, nil).MAE
}

// NaiveBaseline predicts the price of the same hour one day earlier
// (lag_24h). Rows without a defined lag are skipped.
func NaiveBaseline(rows []contracts.FeatureRow) contracts.EvaluationMetrics {
	actual := make([]float64, 0, len(rows))
	predicted := make([]float64, 0, len(rows))
	ts := make([]time.Time, 0, len(rows))
	for i := range rows {
		if math.IsNaN(rows[i].Lag24hPrice) {
			continue
		}
		actual = append(actual, rows[i].Price)
		predicted = append(predicted, rows[i].Lag24hPrice)
		ts = append(ts, rows[i].Timestamp)
	}
	return Evaluate(actual, predicted, ts)
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
