package features

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/pkg/logger"
)

// Window sizes in hours
const (
	Lag1h   = 1
	Lag24h  = 24
	Lag168h = 168

	Rolling24h  = 24
	Rolling168h = 168
)

// Engine derives causal features from an hourly table
// ⭐ SSOT: 피처 계산은 여기서만 (t 시점 피처는 t 이전 데이터만 읽음)
type Engine struct {
	logger   *logger.Logger
	location *time.Location
}

// NewEngine creates a feature engine; calendar features use loc
func NewEngine(log *logger.Logger, loc *time.Location) *Engine {
	return &Engine{
		logger:   log.WithStage(string(contracts.StageFeaturizing)),
		location: loc,
	}
}

// Compute returns one FeatureRow per record, same order.
// The input table is not modified.
func (e *Engine) Compute(table *contracts.HourlyTable) (*contracts.FeatureTable, error) {
	if err := checkOrdering(table.Records); err != nil {
		return nil, err
	}

	records := table.Records
	out := &contracts.FeatureTable{
		Sources: append([]contracts.Metric(nil), table.Sources...),
		Rows:    make([]contracts.FeatureRow, len(records)),
	}

	price := make([]float64, len(records))
	residual := make([]float64, len(records))
	for i := range records {
		price[i] = usable(&records[i], records[i].Price)
		residual[i] = usable(&records[i], records[i].ResidualLoad)
	}

	calendar := newHolidayCalendar()
	for i := range records {
		row := contracts.FeatureRow{HourlyRecord: copyRecord(&records[i])}

		row.Lag1hPrice = lag(price, i, Lag1h)
		row.Lag24hPrice = lag(price, i, Lag24h)
		row.Lag168hPrice = lag(price, i, Lag168h)

		row.RollingMean24hResidual, row.RollingStd24hResidual = trailing(residual, i, Rolling24h)
		row.RollingMean168hResidual, _ = trailing(residual, i, Rolling168h)
		row.RollingMean24hPrice, _ = trailing(price, i, Rolling24h)

		local := records[i].Timestamp.In(e.location)
		row.HourOfDay = local.Hour()
		row.DayOfWeek = (int(local.Weekday()) + 6) % 7
		row.Month = int(local.Month())
		row.IsWeekend = local.Weekday() == time.Saturday || local.Weekday() == time.Sunday
		row.IsHoliday = calendar.isHoliday(local)

		out.Rows[i] = row
	}

	e.logger.WithFields(map[string]interface{}{
		"rows":    len(out.Rows),
		"warm_up": warmUpRows(out.Rows),
	}).Info("Computed features")

	return out, nil
}

// usable hides values of incomplete hours from lag and rolling reads
func usable(r *contracts.HourlyRecord, v float64) float64 {
	if r.Incomplete {
		return math.NaN()
	}
	return v
}

// lag reads only position i-k; NaN during warm-up
func lag(values []float64, i, k int) float64 {
	j := i - k
	if j < 0 {
		return math.NaN()
	}
	return values[j]
}

// trailing returns mean and sample std of values[i-w .. i-1].
// The current hour is never part of its own window.
func trailing(values []float64, i, w int) (float64, float64) {
	if i-w < 0 {
		return math.NaN(), math.NaN()
	}
	window := values[i-w : i]
	for _, v := range window {
		if math.IsNaN(v) {
			return math.NaN(), math.NaN()
		}
	}
	return stat.MeanStdDev(window, nil)
}

func copyRecord(r *contracts.HourlyRecord) contracts.HourlyRecord {
	c := *r
	c.Generation = make(map[contracts.Metric]float64, len(r.Generation))
	for k, v := range r.Generation {
		c.Generation[k] = v
	}
	c.Reasons = append([]string(nil), r.Reasons...)
	return c
}

// checkOrdering enforces strictly increasing hourly timestamps
func checkOrdering(records []contracts.HourlyRecord) error {
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp.Sub(records[i-1].Timestamp) != time.Hour {
			return &contracts.DataQualityError{
				Stage:      contracts.StageFeaturizing,
				Column:     contracts.ColTimestamp,
				Invariant:  fmt.Sprintf("timestamps must be strictly increasing in steps of 1h (got %s)", records[i].Timestamp.Sub(records[i-1].Timestamp)),
				Timestamps: []time.Time{records[i-1].Timestamp, records[i].Timestamp},
				Count:      1,
			}
		}
	}
	return nil
}

func warmUpRows(rows []contracts.FeatureRow) int {
	n := 0
	for i := range rows {
		if math.IsNaN(rows[i].Lag168hPrice) || math.IsNaN(rows[i].RollingMean168hResidual) {
			n++
		}
	}
	return n
}
