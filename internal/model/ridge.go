package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrEmptyDesign is returned when there is nothing to fit
var ErrEmptyDesign = errors.New("design matrix is empty")

// Scaler standardizes columns to zero mean and unit sample std
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler learns column statistics from X. Constant columns get scale 1.
func FitScaler(X [][]float64) Scaler {
	if len(X) == 0 {
		return Scaler{}
	}
	p := len(X[0])
	s := Scaler{Mean: make([]float64, p), Scale: make([]float64, p)}
	col := make([]float64, len(X))
	for j := 0; j < p; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if len(col) < 2 || math.IsNaN(std) || std < 1e-12 {
			std = 1
		}
		s.Mean[j], s.Scale[j] = mean, std
	}
	return s
}

// Transform returns the standardized copy of x
func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - s.Mean[j]) / s.Scale[j]
	}
	return out
}

// Ridge is a linear model fitted on standardized features.
// The intercept is not penalized; Alpha = 0 is ordinary least squares.
type Ridge struct {
	Alpha        float64   `json:"alpha"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"` // per standardized feature
	Scaler       Scaler    `json:"scaler"`
}

// FitRidge solves (ZᵀZ + αI)β = Zᵀ(y - ȳ) on the standardized design Z
func FitRidge(X [][]float64, y []float64, alpha float64) (*Ridge, error) {
	n := len(X)
	if n == 0 || len(X[0]) == 0 {
		return nil, ErrEmptyDesign
	}
	if len(y) != n {
		return nil, fmt.Errorf("ridge: %d rows but %d targets", n, len(y))
	}
	if alpha < 0 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("ridge: alpha must be >= 0, got %v", alpha)
	}
	p := len(X[0])

	scaler := FitScaler(X)
	Z := mat.NewDense(n, p, nil)
	for i := range X {
		if len(X[i]) != p {
			return nil, fmt.Errorf("ridge: row %d has %d columns, want %d", i, len(X[i]), p)
		}
		Z.SetRow(i, scaler.Transform(X[i]))
	}

	yMean := stat.Mean(y, nil)
	yc := mat.NewVecDense(n, nil)
	for i := range y {
		yc.SetVec(i, y[i]-yMean)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, Z.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(Z.T(), yc)

	beta, err := solve(&gram, &rhs)
	if err != nil {
		return nil, fmt.Errorf("ridge: alpha=%v: %w", alpha, err)
	}

	coef := make([]float64, p)
	for j := range coef {
		coef[j] = beta.AtVec(j)
	}
	return &Ridge{Alpha: alpha, Intercept: yMean, Coefficients: coef, Scaler: scaler}, nil
}

// solve uses Cholesky and falls back to the minimum-norm SVD solution
// when the system is singular (collinear columns with alpha = 0)
func solve(a *mat.SymDense, b *mat.VecDense) (*mat.VecDense, error) {
	var x mat.VecDense

	var chol mat.Cholesky
	if chol.Factorize(a) && chol.Cond() < 1e12 {
		if err := chol.SolveVecTo(&x, b); err == nil {
			return &x, nil
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("SVD factorization failed")
	}
	rank := svd.Rank(1e-10)
	if rank == 0 {
		return nil, errors.New("design has rank 0")
	}
	svd.SolveVecTo(&x, b, rank)
	return &x, nil
}

// Predict returns the prediction for one raw feature vector
func (r *Ridge) Predict(x []float64) float64 {
	out := r.Intercept
	for j, v := range x {
		out += r.Coefficients[j] * (v - r.Scaler.Mean[j]) / r.Scaler.Scale[j]
	}
	return out
}

// PredictAll predicts every row of X
func (r *Ridge) PredictAll(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i := range X {
		out[i] = r.Predict(X[i])
	}
	return out
}
