package aligner

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
)

// toCanonical converts a raw value into MW or EUR/MWh.
// Energy per interval is divided by the interval length in hours.
func toCanonical(v float64, unit contracts.Unit, res contracts.Resolution, metric contracts.Metric) (float64, error) {
	canonical := metric.CanonicalUnit()

	switch unit {
	case contracts.UnitEURPerMWh:
		if canonical == contracts.UnitEURPerMWh {
			return v, nil
		}
	case contracts.UnitCtPerKWh:
		if canonical == contracts.UnitEURPerMWh {
			return v * 10, nil
		}
	case contracts.UnitMW:
		if canonical == contracts.UnitMW {
			return v, nil
		}
	case contracts.UnitGW:
		if canonical == contracts.UnitMW {
			return v * 1000, nil
		}
	case contracts.UnitMWh:
		if canonical == contracts.UnitMW {
			return v / res.Duration().Hours(), nil
		}
	}
	return 0, fmt.Errorf("unit %q cannot be converted to %s for %s", unit, canonical, metric)
}

// bucket collects the values falling into one index hour
type bucket struct {
	byStamp map[int64][]float64 // exact source timestamp -> values
}

// hourlySeries is one metric projected onto the index, NaN = missing
type hourlySeries struct {
	values     []float64
	observed   int
	duplicates int
	partial    int // hours with only some sub-hourly stamps present
}

// project normalizes a raw series and left-joins it onto the index.
// Repeated source timestamps are averaged (counted as duplicates); several
// sub-hourly values in one hour are averaged into the hourly mean. An hour
// counts as observed only when every sub-hourly stamp is present, otherwise
// it stays NaN and the gap policy decides.
func project(s contracts.RawSeries, index []time.Time) (*hourlySeries, error) {
	pos := make(map[int64]int, len(index))
	for i, t := range index {
		pos[t.Unix()] = i
	}

	buckets := make([]bucket, len(index))
	duplicates := 0

	for _, p := range s.Points {
		if p.Value == nil || math.IsNaN(*p.Value) || math.IsInf(*p.Value, 0) {
			continue
		}
		ts := p.Timestamp.UTC()
		i, ok := pos[ts.Truncate(time.Hour).Unix()]
		if !ok {
			continue // outside the window
		}

		v, err := toCanonical(*p.Value, s.Unit, s.Resolution, s.Metric)
		if err != nil {
			return nil, err
		}

		b := &buckets[i]
		if b.byStamp == nil {
			b.byStamp = make(map[int64][]float64)
		}
		key := ts.UnixNano()
		if len(b.byStamp[key]) > 0 {
			duplicates++
		}
		b.byStamp[key] = append(b.byStamp[key], v)
	}

	perHour := stampsPerHour(s.Resolution)
	out := &hourlySeries{values: make([]float64, len(index)), duplicates: duplicates}
	for i, b := range buckets {
		if len(b.byStamp) < perHour {
			if len(b.byStamp) > 0 {
				out.partial++
			}
			out.values[i] = math.NaN()
			continue
		}
		// 합산 순서를 고정해야 실행마다 비트 단위로 같은 결과가 나옴
		stamps := make([]int64, 0, len(b.byStamp))
		for k := range b.byStamp {
			stamps = append(stamps, k)
		}
		sort.Slice(stamps, func(a, c int) bool { return stamps[a] < stamps[c] })

		sum := 0.0
		for _, k := range stamps {
			sum += mean(b.byStamp[k])
		}
		out.values[i] = sum / float64(len(b.byStamp))
		out.observed++
	}
	return out, nil
}

// stampsPerHour is the number of distinct source stamps a full hour has
func stampsPerHour(res contracts.Resolution) int {
	n := int(time.Hour / res.Duration())
	if n < 1 {
		return 1
	}
	return n
}

func mean(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
