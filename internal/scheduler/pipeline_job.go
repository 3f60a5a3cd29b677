package scheduler

import (
	"context"
	"errors"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/pipeline"
	"github.com/wonny/meritorder/pkg/logger"
)

// PipelineRunner is the part of the orchestrator the job needs
type PipelineRunner interface {
	Run(ctx context.Context, cmd pipeline.Command) (*pipeline.RunResult, error)
}

// PipelineJob runs the full pipeline on the study's rolling window
// ⭐ SSOT: 일일 day-ahead 파이프라인 스케줄은 이 Job에서만
type PipelineJob struct {
	name     string
	schedule string
	runner   PipelineRunner
	logger   *logger.Logger
}

// NewPipelineJob creates a job named after the study
func NewPipelineJob(studyID, schedule string, runner PipelineRunner, log *logger.Logger) *PipelineJob {
	return &PipelineJob{
		name:     "pipeline:" + studyID,
		schedule: schedule,
		runner:   runner,
		logger:   log,
	}
}

func (j *PipelineJob) Name() string     { return j.name }
func (j *PipelineJob) Schedule() string { return j.schedule }

// Run executes one pipeline run
func (j *PipelineJob) Run(ctx context.Context) error {
	res, err := j.runner.Run(ctx, pipeline.CommandRun)
	if err != nil {
		return err
	}
	if res.Artifact != nil {
		m := res.Artifact.Manifest
		j.logger.WithFields(map[string]interface{}{
			"run_id":       m.RunID,
			"mae":          m.Metrics.MAE,
			"baseline_mae": m.Baseline.MAE,
		}).Info("Scheduled run produced model")
		if !m.BeatsBaseline() {
			j.logger.WithField("run_id", m.RunID).Warn("Model does not beat the naive baseline")
		}
	}
	return nil
}

// RetryFetchFailures retries runs that halted on a transient source error.
// Alignment, schema and leakage failures repeat on the same input and are not retried.
func RetryFetchFailures(err error) bool {
	var fe *contracts.FetchError
	return errors.As(err, &fe)
}
