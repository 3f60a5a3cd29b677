package model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/dataset"
	"github.com/wonny/meritorder/pkg/logger"
)

// ModelType is recorded in every manifest
const ModelType = "ridge"

// Config holds trainer hyperparameters
type Config struct {
	AlphaGrid          []float64
	CVFolds            int
	CVMinTrainFraction float64
	PermutationSeed    uint64
}

// DefaultConfig returns the default search space
func DefaultConfig() Config {
	return Config{
		AlphaGrid:          []float64{0, 0.01, 0.1, 1, 10, 100},
		CVFolds:            5,
		CVMinTrainFraction: 0.5,
		PermutationSeed:    42,
	}
}

// RunInfo identifies the run producing an artifact
type RunInfo struct {
	RunID      string
	ConfigHash string
	CreatedAt  time.Time
}

// Artifact is a fitted model plus its mandatory manifest
type Artifact struct {
	Model    *Model
	Manifest contracts.Manifest
}

// Trainer runs CV, the final fit and the single test evaluation
type Trainer struct {
	logger *logger.Logger
	cfg    Config
}

// NewTrainer creates a trainer. Zero fields fall back to DefaultConfig.
func NewTrainer(log *logger.Logger, cfg Config) *Trainer {
	def := DefaultConfig()
	if len(cfg.AlphaGrid) == 0 {
		cfg.AlphaGrid = def.AlphaGrid
	}
	if cfg.CVFolds == 0 {
		cfg.CVFolds = def.CVFolds
	}
	if cfg.CVMinTrainFraction == 0 {
		cfg.CVMinTrainFraction = def.CVMinTrainFraction
	}
	return &Trainer{
		logger: log.WithStage(string(contracts.StageTraining)),
		cfg:    cfg,
	}
}

// Train selects alpha by CV over train+validation, fits the model on the
// train split and evaluates it once on test.
// declared is the schema the dataset must match column for column.
func (t *Trainer) Train(ds *dataset.Dataset, declared contracts.Schema, info RunInfo) (*Artifact, error) {
	if declared.Target != ds.Schema.Target {
		return nil, contracts.NewSchemaMismatch([]string{declared.Target}, []string{ds.Schema.Target})
	}
	if err := declared.Validate(ds.Schema.Features); err != nil {
		return nil, err
	}

	selectRows := make([]contracts.FeatureRow, 0, len(ds.Train)+len(ds.Validation))
	selectRows = append(selectRows, ds.Train...)
	selectRows = append(selectRows, ds.Validation...)

	X, y, ts := ds.Matrix(selectRows)
	XTest, yTest, tsTest := ds.Matrix(ds.Test)
	if err := checkFinite(declared, X, y, ts); err != nil {
		return nil, err
	}
	if err := checkFinite(declared, XTest, yTest, tsTest); err != nil {
		return nil, err
	}

	// 1. Alpha search (expanding-window CV over train+validation)
	cv, best, err := t.search(X, y)
	if err != nil {
		return nil, &contracts.StageError{Stage: contracts.StageTraining, Range: dataset.Summary(selectRows).Range, Err: err}
	}

	// 2. Final fit on train only; validation rows served model selection
	nTrain := len(ds.Train)
	ridge, err := FitRidge(X[:nTrain], y[:nTrain], best)
	if err != nil {
		return nil, &contracts.StageError{Stage: contracts.StageTraining, Range: dataset.Summary(ds.Train).Range, Err: err}
	}

	// 3. Single evaluation on test
	pred := ridge.PredictAll(XTest)
	scores := Evaluate(yTest, pred, tsTest)
	baseline := NaiveBaseline(ds.Test)
	importance := t.importance(ridge, declared.Features, XTest, yTest, scores.MAE)

	model := &Model{
		Type:     ModelType,
		Features: append([]string(nil), declared.Features...),
		Target:   declared.Target,
		Ridge:    *ridge,
	}
	manifest := contracts.Manifest{
		RunID:      info.RunID,
		CreatedAt:  info.CreatedAt.UTC(),
		ModelType:  ModelType,
		ConfigHash: info.ConfigHash,
		Schema:     contracts.Schema{Features: model.Features, Target: model.Target},
		Hyperparameters: contracts.Hyperparameters{
			Alpha:              best,
			AlphaGrid:          append([]float64(nil), t.cfg.AlphaGrid...),
			CVFolds:            t.cfg.CVFolds,
			CVMinTrainFraction: t.cfg.CVMinTrainFraction,
			PermutationSeed:    t.cfg.PermutationSeed,
		},
		Window:     ds.Window,
		Train:      dataset.Summary(ds.Train),
		Validation: dataset.Summary(ds.Validation),
		Test:       dataset.Summary(ds.Test),
		Dropped:    ds.DroppedByReason(),
		CV:         cv,
		Metrics:    scores,
		Baseline:   baseline,
		Importance: importance,
	}

	t.logger.WithFields(map[string]interface{}{
		"alpha":        best,
		"mae":          scores.MAE,
		"rmse":         scores.RMSE,
		"baseline_mae": baseline.MAE,
		"test_rows":    scores.N,
	}).Info("Model evaluated")

	return &Artifact{Model: model, Manifest: manifest}, nil
}

// search scores every alpha with expanding-window CV and returns the best.
// Ties keep the earlier grid entry.
func (t *Trainer) search(X [][]float64, y []float64) ([]contracts.CVScore, float64, error) {
	folds, err := ExpandingFolds(len(X), t.cfg.CVFolds, t.cfg.CVMinTrainFraction)
	if err != nil {
		return nil, 0, err
	}

	scores := make([]contracts.CVScore, 0, len(t.cfg.AlphaGrid))
	bestIdx := -1
	for _, alpha := range t.cfg.AlphaGrid {
		score := contracts.CVScore{Alpha: alpha, FoldMAE: make([]float64, len(folds))}
		var sum float64
		for k, f := range folds {
			r, err := FitRidge(X[:f.TrainEnd], y[:f.TrainEnd], alpha)
			if err != nil {
				return nil, 0, fmt.Errorf("cv fold %d: %w", k+1, err)
			}
			score.FoldMAE[k] = MAE(y[f.TrainEnd:f.ValidEnd], r.PredictAll(X[f.TrainEnd:f.ValidEnd]))
			sum += score.FoldMAE[k]
		}
		score.MeanMAE = sum / float64(len(folds))
		scores = append(scores, score)

		if bestIdx < 0 || score.MeanMAE < scores[bestIdx].MeanMAE {
			bestIdx = len(scores) - 1
		}
		t.logger.WithFields(map[string]interface{}{
			"alpha":    alpha,
			"mean_mae": score.MeanMAE,
		}).Debug("CV score")
	}
	return scores, scores[bestIdx].Alpha, nil
}

// importance ranks features by permutation MAE increase on test, then by
// the absolute standardized coefficient
func (t *Trainer) importance(r *Ridge, features []string, X [][]float64, y []float64, baseMAE float64) []contracts.FeatureImportance {
	rng := rand.New(rand.NewPCG(t.cfg.PermutationSeed, t.cfg.PermutationSeed^0x9e3779b97f4a7c15))

	out := make([]contracts.FeatureImportance, len(features))
	shuffled := make([][]float64, len(X))
	for j, name := range features {
		perm := rng.Perm(len(X))
		for i := range X {
			row := append([]float64(nil), X[i]...)
			row[j] = X[perm[i]][j]
			shuffled[i] = row
		}
		out[j] = contracts.FeatureImportance{
			Feature:          name,
			Coefficient:      r.Coefficients[j],
			AbsCoefficient:   math.Abs(r.Coefficients[j]),
			PermutationDelta: MAE(y, r.PredictAll(shuffled)) - baseMAE,
		}
	}

	ranked := append([]contracts.FeatureImportance(nil), out...)
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].PermutationDelta != ranked[b].PermutationDelta {
			return ranked[a].PermutationDelta > ranked[b].PermutationDelta
		}
		return ranked[a].AbsCoefficient > ranked[b].AbsCoefficient
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// checkFinite rejects null targets and undefined feature values
func checkFinite(schema contracts.Schema, X [][]float64, y []float64, ts []time.Time) error {
	var bad []time.Time
	count := 0
	for i := range y {
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			bad = contracts.CollectTimestamps(bad, ts[i])
			count++
		}
	}
	if count > 0 {
		return &contracts.DataQualityError{
			Stage:      contracts.StageTraining,
			Column:     schema.Target,
			Invariant:  "target must not be null",
			Timestamps: bad,
			Count:      count,
		}
	}

	for j, col := range schema.Features {
		for i := range X {
			if math.IsNaN(X[i][j]) || math.IsInf(X[i][j], 0) {
				bad = contracts.CollectTimestamps(bad, ts[i])
				count++
			}
		}
		if count > 0 {
			return &contracts.DataQualityError{
				Stage:      contracts.StageTraining,
				Column:     col,
				Invariant:  "feature must be defined",
				Timestamps: bad,
				Count:      count,
			}
		}
	}
	return nil
}
