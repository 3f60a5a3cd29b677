package model

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/dataset"
	"github.com/wonny/meritorder/pkg/logger"
)

var noiseColumn = contracts.GenerationColumn(contracts.MetricBiomass)

// meritOrderDataset builds hourly rows where price follows residual load
// along a linear supply curve and biomass is unrelated noise
func meritOrderDataset(t *testing.T, hours int) *dataset.Dataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	rows := make([]contracts.FeatureRow, hours)
	for i := range rows {
		residual := 30000 + 40000*rng.Float64()
		price := 20 + 0.002*residual + rng.NormFloat64()*2
		rows[i] = contracts.FeatureRow{
			HourlyRecord: contracts.HourlyRecord{
				Timestamp:    start.Add(time.Duration(i) * time.Hour),
				Price:        price,
				ResidualLoad: residual,
				Generation:   map[contracts.Metric]float64{contracts.MetricBiomass: 4000 + 500*rng.Float64()},
			},
			Lag24hPrice: math.NaN(),
		}
		if i >= 24 {
			rows[i].Lag24hPrice = rows[i-24].Price
		}
	}

	nTrain, nVal := hours*6/10, hours*2/10
	return &dataset.Dataset{
		Schema:     meritSchema(),
		Window:     contracts.TimeRange{Start: start, End: start.Add(time.Duration(hours) * time.Hour)},
		Train:      rows[:nTrain],
		Validation: rows[nTrain : nTrain+nVal],
		Test:       rows[nTrain+nVal:],
	}
}

func meritSchema() contracts.Schema {
	return contracts.Schema{
		Features: []string{contracts.ColResidualLoad, noiseColumn},
		Target:   contracts.TargetColumn,
	}
}

func TestTrain_SyntheticMeritOrder(t *testing.T) {
	ds := meritOrderDataset(t, 1000)
	trainer := NewTrainer(logger.Nop(), DefaultConfig())

	art, err := trainer.Train(ds, meritSchema(), RunInfo{RunID: "run-1", ConfigHash: "h", CreatedAt: time.Now()})
	require.NoError(t, err)

	m := art.Manifest
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, ModelType, m.ModelType)
	assert.Equal(t, len(ds.Test), m.Metrics.N)
	assert.Less(t, m.Metrics.MAE, m.Baseline.MAE)
	assert.True(t, m.BeatsBaseline())
	assert.Less(t, m.Metrics.MAE, 3.0)
	assert.Greater(t, m.Metrics.DirectionalAccuracy, 0.8)
	assert.Len(t, m.CV, len(DefaultConfig().AlphaGrid))

	require.Len(t, m.Importance, 2)
	assert.Equal(t, contracts.ColResidualLoad, m.Importance[0].Feature)
	assert.Equal(t, 1, m.Importance[0].Rank)
	byName := map[string]contracts.FeatureImportance{}
	for _, fi := range m.Importance {
		byName[fi.Feature] = fi
	}
	assert.Greater(t, byName[contracts.ColResidualLoad].AbsCoefficient, byName[noiseColumn].AbsCoefficient)
	assert.Greater(t, byName[contracts.ColResidualLoad].PermutationDelta, byName[noiseColumn].PermutationDelta)

	assert.Equal(t, ds.Train[0].Timestamp, m.TrainingRange().Start)
	assert.Equal(t, ds.Validation[0].Timestamp, m.TrainingRange().End)
	assert.Equal(t, ds.Test[0].Timestamp, m.SelectionRange().End)
}

func TestTrain_FinalFitUsesTrainSplitOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlphaGrid = []float64{1}

	ds := meritOrderDataset(t, 600)
	a, err := NewTrainer(logger.Nop(), cfg).Train(ds, meritSchema(), RunInfo{})
	require.NoError(t, err)

	// shifting validation targets must not move the fitted coefficients
	shifted := *ds
	shifted.Validation = make([]contracts.FeatureRow, len(ds.Validation))
	copy(shifted.Validation, ds.Validation)
	for i := range shifted.Validation {
		shifted.Validation[i].Price += 500
	}
	b, err := NewTrainer(logger.Nop(), cfg).Train(&shifted, meritSchema(), RunInfo{})
	require.NoError(t, err)

	assert.Equal(t, a.Model.Ridge, b.Model.Ridge)
	assert.Equal(t, a.Manifest.Metrics, b.Manifest.Metrics)
	assert.NotEqual(t, a.Manifest.CV[0].MeanMAE, b.Manifest.CV[0].MeanMAE, "validation rows still take part in CV")
}

func TestTrain_Deterministic(t *testing.T) {
	ds := meritOrderDataset(t, 600)
	info := RunInfo{RunID: "r", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	a, err := NewTrainer(logger.Nop(), DefaultConfig()).Train(ds, meritSchema(), info)
	require.NoError(t, err)
	b, err := NewTrainer(logger.Nop(), DefaultConfig()).Train(ds, meritSchema(), info)
	require.NoError(t, err)
	assert.Equal(t, a.Manifest, b.Manifest)
}

func TestTrain_NullTarget(t *testing.T) {
	ds := meritOrderDataset(t, 400)
	ds.Validation[3].Price = math.NaN()

	_, err := NewTrainer(logger.Nop(), DefaultConfig()).Train(ds, meritSchema(), RunInfo{})
	var dq *contracts.DataQualityError
	require.ErrorAs(t, err, &dq)
	assert.Equal(t, contracts.StageTraining, dq.Stage)
	assert.Equal(t, contracts.TargetColumn, dq.Column)
	assert.Equal(t, 1, dq.Count)
	assert.Equal(t, ds.Validation[3].Timestamp, dq.Timestamps[0])
}

func TestTrain_SchemaMismatch(t *testing.T) {
	ds := meritOrderDataset(t, 400)
	trainer := NewTrainer(logger.Nop(), DefaultConfig())

	tests := []struct {
		name     string
		declared contracts.Schema
	}{
		{"extra column", contracts.Schema{Features: []string{contracts.ColResidualLoad, noiseColumn, contracts.ColHourOfDay}, Target: contracts.TargetColumn}},
		{"reordered", contracts.Schema{Features: []string{noiseColumn, contracts.ColResidualLoad}, Target: contracts.TargetColumn}},
		{"other target", contracts.Schema{Features: meritSchema().Features, Target: contracts.ColTotalLoad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := trainer.Train(ds, tt.declared, RunInfo{})
			var mismatch *contracts.SchemaMismatch
			assert.ErrorAs(t, err, &mismatch)
		})
	}
}

func TestFitRidge(t *testing.T) {
	// y = 3 + 2*x0 - x1 exactly
	X := [][]float64{{1, 0}, {2, 1}, {3, 5}, {4, 2}, {5, 7}, {6, 3}}
	y := make([]float64, len(X))
	for i, x := range X {
		y[i] = 3 + 2*x[0] - x[1]
	}

	ols, err := FitRidge(X, y, 0)
	require.NoError(t, err)
	for i, x := range X {
		assert.InDelta(t, y[i], ols.Predict(x), 1e-9)
	}

	shrunk, err := FitRidge(X, y, 50)
	require.NoError(t, err)
	assert.Less(t, math.Hypot(shrunk.Coefficients[0], shrunk.Coefficients[1]), math.Hypot(ols.Coefficients[0], ols.Coefficients[1]))
	assert.Equal(t, ols.Intercept, shrunk.Intercept)

	t.Run("collinear columns fall back to minimum norm", func(t *testing.T) {
		Xc := [][]float64{{1, 2}, {2, 4}, {3, 6}, {4, 8}}
		yc := []float64{1, 2, 3, 4}
		r, err := FitRidge(Xc, yc, 0)
		require.NoError(t, err)
		assert.InDelta(t, 2.5, r.Predict([]float64{2.5, 5}), 1e-9)
		assert.InDelta(t, r.Coefficients[0], r.Coefficients[1], 1e-9)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := FitRidge(nil, nil, 0)
		assert.ErrorIs(t, err, ErrEmptyDesign)
		_, err = FitRidge(X, y[:2], 0)
		assert.Error(t, err)
		_, err = FitRidge(X, y, -1)
		assert.Error(t, err)
	})
}

func TestExpandingFolds(t *testing.T) {
	folds, err := ExpandingFolds(100, 4, 0.5)
	require.NoError(t, err)
	require.Len(t, folds, 4)
	assert.Equal(t, Fold{TrainEnd: 50, ValidEnd: 62}, folds[0])
	assert.Equal(t, 100, folds[3].ValidEnd)
	for k := 1; k < len(folds); k++ {
		// training grows and always ends where the previous validation block ended
		assert.Equal(t, folds[k-1].ValidEnd, folds[k].TrainEnd)
		assert.Less(t, folds[k].TrainEnd, folds[k].ValidEnd)
	}

	_, err = ExpandingFolds(5, 10, 0.5)
	assert.Error(t, err)
	_, err = ExpandingFolds(100, 0, 0.5)
	assert.Error(t, err)
	_, err = ExpandingFolds(100, 3, 1)
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour), base.Add(5 * time.Hour)}
	actual := []float64{10, 12, 11, 20}
	predicted := []float64{10, 14, 13, 10}

	m := Evaluate(actual, predicted, ts)
	assert.Equal(t, 4, m.N)
	assert.InDelta(t, (0+2+2+10)/4.0, m.MAE, 1e-12)
	assert.InDelta(t, math.Sqrt((0+4+4+100)/4.0), m.RMSE, 1e-12)
	// moves 10->12 (pred up, hit) and 12->11 (pred up, miss); the 3h jump is skipped
	assert.InDelta(t, 0.5, m.DirectionalAccuracy, 1e-12)

	assert.Equal(t, 0, Evaluate(nil, nil, nil).N)
}

func TestSaveLoad(t *testing.T) {
	ds := meritOrderDataset(t, 400)
	art, err := NewTrainer(logger.Nop(), DefaultConfig()).Train(ds, meritSchema(), RunInfo{RunID: "abc"})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "abc")
	require.NoError(t, Save(dir, art))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, art.Manifest.Metrics, loaded.Manifest.Metrics)
	assert.Equal(t, art.Model.Features, loaded.Model.Features)

	row := ds.Test[0]
	want, err := art.Model.PredictRow(&row)
	require.NoError(t, err)
	got, err := loaded.Model.PredictRow(&row)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)

	t.Run("manifest is mandatory", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, ManifestFile)))
		_, err := Load(dir)
		assert.ErrorIs(t, err, ErrMissingManifest)
	})
}
