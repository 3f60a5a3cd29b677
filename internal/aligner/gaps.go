package aligner

import (
	"fmt"
	"math"

	"github.com/wonny/meritorder/internal/contracts"
)

// gapRun is a maximal run of missing hours [from, to)
type gapRun struct {
	from, to int
	bounded  bool // observed values on both sides
}

func (g gapRun) length() int { return g.to - g.from }

// findGaps returns the runs of NaN in values
func findGaps(values []float64) []gapRun {
	var runs []gapRun
	for i := 0; i < len(values); {
		if !math.IsNaN(values[i]) {
			i++
			continue
		}
		j := i
		for j < len(values) && math.IsNaN(values[j]) {
			j++
		}
		runs = append(runs, gapRun{from: i, to: j, bounded: i > 0 && j < len(values)})
		i = j
	}
	return runs
}

// fillResult reports what fillGaps did to one metric
type fillResult struct {
	interpolated int
	flagged      []int    // index positions left missing
	reasons      []string // reason per flagged position
}

// fillGaps linearly interpolates bounded runs of at most maxGap hours in
// place. Longer runs and runs touching the window edge stay NaN and are
// reported as flagged with reason gap:<metric>:<n>h.
func fillGaps(values []float64, maxGap int, metric contracts.Metric) fillResult {
	var res fillResult
	for _, g := range findGaps(values) {
		if g.bounded && g.length() <= maxGap {
			left := values[g.from-1]
			right := values[g.to]
			span := float64(g.length() + 1)
			for k := g.from; k < g.to; k++ {
				frac := float64(k-g.from+1) / span
				values[k] = left + (right-left)*frac
			}
			res.interpolated += g.length()
			continue
		}

		reason := fmt.Sprintf("gap:%s:%dh", metric, g.length())
		for k := g.from; k < g.to; k++ {
			res.flagged = append(res.flagged, k)
			res.reasons = append(res.reasons, reason)
		}
	}
	return res
}
