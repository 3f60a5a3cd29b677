package features

import (
	"math"

	"github.com/wonny/meritorder/internal/contracts"
)

// ComputeFunc is any featurization of an hourly table
type ComputeFunc func(*contracts.HourlyTable) (*contracts.FeatureTable, error)

// perturbation added to every raw value from the cut onward
const perturbation = 1e6

// Audit checks causality by recomputing features with all data from each
// cut onward perturbed. Every row before the cut must be unchanged, and
// lag/rolling features of the row at the cut must be unchanged too.
// Returns *contracts.LeakageViolation on the first difference.
func Audit(compute ComputeFunc, table *contracts.HourlyTable, cuts []int) error {
	base, err := compute(table)
	if err != nil {
		return err
	}
	columns := base.Columns()

	for _, cut := range cuts {
		if cut <= 0 || cut >= len(table.Records) {
			continue
		}

		perturbed, err := compute(perturbFrom(table, cut))
		if err != nil {
			return err
		}

		perturbedAt := table.Records[cut].Timestamp
		for i := 0; i <= cut; i++ {
			for _, col := range columns {
				if i == cut && !contracts.IsLagColumn(col) {
					continue
				}
				before, ok := base.Rows[i].Value(col)
				if !ok {
					continue
				}
				after, _ := perturbed.Rows[i].Value(col)
				if !sameValue(before, after) {
					return &contracts.LeakageViolation{
						Feature:   col,
						At:        table.Records[i].Timestamp,
						Perturbed: perturbedAt,
						Before:    before,
						After:     after,
					}
				}
			}
		}
	}
	return nil
}

// DefaultCuts spreads n audit points over a table
func DefaultCuts(rows, n int) []int {
	if rows < 2 || n < 1 {
		return nil
	}
	cuts := make([]int, 0, n)
	for k := 1; k <= n; k++ {
		c := rows * k / (n + 1)
		if c > 0 && (len(cuts) == 0 || cuts[len(cuts)-1] != c) {
			cuts = append(cuts, c)
		}
	}
	return cuts
}

// perturbFrom returns a deep copy with every value from cut onward shifted
func perturbFrom(table *contracts.HourlyTable, cut int) *contracts.HourlyTable {
	out := *table
	out.Records = make([]contracts.HourlyRecord, len(table.Records))
	for i := range table.Records {
		r := copyRecord(&table.Records[i])
		if i >= cut {
			r.Price += perturbation
			r.TotalLoad += perturbation
			r.ResidualLoad += perturbation
			for m := range r.Generation {
				r.Generation[m] += perturbation
			}
		}
		out.Records[i] = r
	}
	return &out
}

func sameValue(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Float64bits(a) == math.Float64bits(b)
}
