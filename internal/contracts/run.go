package contracts

import "time"

// RunStatus is the outcome of a pipeline run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord describes one pipeline execution
type RunRecord struct {
	ID          string             `json:"id"`
	Command     string             `json:"command"`
	Window      TimeRange          `json:"window"`
	ConfigHash  string             `json:"config_hash"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at,omitempty"`
	Status      RunStatus          `json:"status"`
	LastStage   Stage              `json:"last_stage"`
	Error       string             `json:"error,omitempty"`
	Stages      []StageResult      `json:"stages"`
	Metrics     *EvaluationMetrics `json:"metrics,omitempty"`
	ArtifactDir string             `json:"artifact_dir,omitempty"`
}
