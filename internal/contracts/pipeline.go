package contracts

// Pipeline Stage 정의 (SSOT)
// 모든 로그, 매니페스트, DB row에서 이 상수를 사용해야 함
//
// 파이프라인 흐름:
//   FETCHING → CLEANING → FEATURIZING → SPLITTING → TRAINING → EVALUATED
//   fetcher    aligner    features      dataset     model      model

// Stage represents a pipeline stage
type Stage string

const (
	// StageFetching retrieves raw SMARD series into the local cache
	// 위치: internal/fetcher/
	StageFetching Stage = "FETCHING"

	// StageCleaning aligns raw series onto the canonical hourly index
	// 위치: internal/aligner/
	StageCleaning Stage = "CLEANING"

	// StageFeaturizing derives causal features from the hourly table
	// 위치: internal/features/
	StageFeaturizing Stage = "FEATURIZING"

	// StageSplitting builds time-ordered train/validation/test splits
	// 위치: internal/dataset/
	StageSplitting Stage = "SPLITTING"

	// StageTraining runs time-series CV and fits the final model
	// 위치: internal/model/
	StageTraining Stage = "TRAINING"

	// StageEvaluated is terminal: the test split has been scored once
	StageEvaluated Stage = "EVALUATED"
)

// String returns the stage name
func (s Stage) String() string {
	return string(s)
}

// Description returns a short human description of the stage
func (s Stage) Description() string {
	switch s {
	case StageFetching:
		return "fetch raw series"
	case StageCleaning:
		return "align and clean hourly table"
	case StageFeaturizing:
		return "derive features"
	case StageSplitting:
		return "split train/validation/test"
	case StageTraining:
		return "cross-validate and fit"
	case StageEvaluated:
		return "evaluated on test split"
	default:
		return "unknown"
	}
}

// Next returns the stage that consumes this stage's output
func (s Stage) Next() (Stage, bool) {
	stages := AllStages()
	for i, st := range stages {
		if st == s && i+1 < len(stages) {
			return stages[i+1], true
		}
	}
	return "", false
}

// AllStages returns all pipeline stages in order
func AllStages() []Stage {
	return []Stage{
		StageFetching,
		StageCleaning,
		StageFeaturizing,
		StageSplitting,
		StageTraining,
		StageEvaluated,
	}
}

// IsValidStage checks if a stage string is valid
func IsValidStage(s string) bool {
	for _, stage := range AllStages() {
		if string(stage) == s {
			return true
		}
	}
	return false
}

// StageResult represents the result of one pipeline stage execution
type StageResult struct {
	Stage       Stage                  `json:"stage"`
	Success     bool                   `json:"success"`
	InputCount  int                    `json:"input_count"`
	OutputCount int                    `json:"output_count"`
	Duration    int64                  `json:"duration_ms"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
