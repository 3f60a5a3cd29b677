package model

import (
	"fmt"
	"math"
)

// Fold trains on rows [0, TrainEnd) and validates on [TrainEnd, ValidEnd)
type Fold struct {
	TrainEnd int
	ValidEnd int
}

// ExpandingFolds splits n time-ordered rows into k folds. The first fold
// trains on the first minTrainFraction of the rows; every later fold adds
// the previous validation block to its training window.
func ExpandingFolds(n, k int, minTrainFraction float64) ([]Fold, error) {
	if k < 1 {
		return nil, fmt.Errorf("cv: folds must be >= 1, got %d", k)
	}
	if minTrainFraction <= 0 || minTrainFraction >= 1 {
		return nil, fmt.Errorf("cv: min train fraction must be in (0,1), got %v", minTrainFraction)
	}
	minTrain := int(math.Floor(float64(n) * minTrainFraction))
	block := (n - minTrain) / k
	if minTrain < 2 || block < 1 {
		return nil, fmt.Errorf("cv: %d rows are too few for %d folds", n, k)
	}

	folds := make([]Fold, k)
	for i := range folds {
		folds[i].TrainEnd = minTrain + i*block
		folds[i].ValidEnd = folds[i].TrainEnd + block
	}
	folds[k-1].ValidEnd = n
	return folds, nil
}
