package contracts

import "time"

// EvaluationMetrics are error metrics over one set of predictions
type EvaluationMetrics struct {
	MAE                 float64 `json:"mae"`
	RMSE                float64 `json:"rmse"`
	DirectionalAccuracy float64 `json:"directional_accuracy"` // share of hour-over-hour moves with matching sign
	N                   int     `json:"n"`
}

// FeatureImportance ranks one model input
type FeatureImportance struct {
	Feature          string  `json:"feature"`
	Coefficient      float64 `json:"coefficient"` // on standardized input
	AbsCoefficient   float64 `json:"abs_coefficient"`
	PermutationDelta float64 `json:"permutation_delta"` // MAE increase on test when shuffled
	Rank             int     `json:"rank"`              // 1 = most important
}

// CVScore is the mean validation error of one hyperparameter setting
type CVScore struct {
	Alpha   float64   `json:"alpha"`
	MeanMAE float64   `json:"mean_mae"`
	FoldMAE []float64 `json:"fold_mae"`
}

// Hyperparameters used for the final fit
type Hyperparameters struct {
	Alpha              float64   `json:"alpha"`
	AlphaGrid          []float64 `json:"alpha_grid"`
	CVFolds            int       `json:"cv_folds"`
	CVMinTrainFraction float64   `json:"cv_min_train_fraction"`
	PermutationSeed    uint64    `json:"permutation_seed"`
}

// SplitSummary records the extent of one split
type SplitSummary struct {
	Range TimeRange `json:"range"`
	Rows  int       `json:"rows"`
}

// Manifest is the mandatory sidecar of every model artifact
// ⭐ SSOT: 아티팩트 감사 정보 (어떤 데이터/설정으로 만들어졌는지)
type Manifest struct {
	RunID      string    `json:"run_id"`
	CreatedAt  time.Time `json:"created_at"`
	ModelType  string    `json:"model_type"`
	ConfigHash string    `json:"config_hash"`

	Schema          Schema          `json:"schema"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`

	Window     TimeRange      `json:"window"`
	Train      SplitSummary   `json:"train"`
	Validation SplitSummary   `json:"validation"`
	Test       SplitSummary   `json:"test"`
	Dropped    map[string]int `json:"dropped"` // reason -> rows

	CV         []CVScore           `json:"cv"`
	Metrics    EvaluationMetrics   `json:"metrics"`
	Baseline   EvaluationMetrics   `json:"baseline"` // yesterday same hour
	Importance []FeatureImportance `json:"importance"`
}

// TrainingRange returns the span used for the final fit
func (m *Manifest) TrainingRange() TimeRange {
	return m.Train.Range
}

// SelectionRange returns the span the hyperparameter search ran over
func (m *Manifest) SelectionRange() TimeRange {
	return TimeRange{Start: m.Train.Range.Start, End: m.Validation.Range.End}
}

// BeatsBaseline reports whether the model is better than the naive baseline on test
func (m *Manifest) BeatsBaseline() bool {
	return m.Metrics.N > 0 && m.Metrics.MAE < m.Baseline.MAE
}
