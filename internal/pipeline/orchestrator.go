package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/meritorder/internal/aligner"
	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/dataset"
	"github.com/wonny/meritorder/internal/features"
	"github.com/wonny/meritorder/internal/model"
	"github.com/wonny/meritorder/internal/pipelineconfig"
	"github.com/wonny/meritorder/internal/tableio"
	"github.com/wonny/meritorder/pkg/fileutil"
	"github.com/wonny/meritorder/pkg/logger"
	"github.com/wonny/meritorder/pkg/metrics"
)

// Command selects how far a run goes
type Command string

const (
	CommandRun          Command = "run"           // FETCHING → EVALUATED
	CommandBuildDataset Command = "build-dataset" // FETCHING → SPLITTING
	CommandTrain        Command = "train"         // features.csv + splits.json → EVALUATED
)

// Deps are the optional collaborators of an orchestrator
type Deps struct {
	Recorder contracts.RunRecorder // nil: runs are only logged
	Metrics  *metrics.Recorder     // nil-safe
	Logger   *logger.Logger
}

// Orchestrator coordinates the stage pipeline of one study
// ⭐ SSOT: 파이프라인 조율은 여기서만
type Orchestrator struct {
	study      *pipelineconfig.Config
	configHash string
	location   *time.Location
	paths      Paths

	fetcher contracts.SeriesFetcher
	aligner *aligner.Aligner
	engine  *features.Engine
	builder *dataset.Builder
	trainer *model.Trainer

	recorder contracts.RunRecorder
	metrics  *metrics.Recorder
	logger   *logger.Logger

	now      func() time.Time
	newRunID func() string
}

// NewOrchestrator wires the stage components from a study definition
func NewOrchestrator(study *pipelineconfig.Config, fetcher contracts.SeriesFetcher, paths Paths, deps Deps) (*Orchestrator, error) {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	hash, err := pipelineconfig.Hash(study)
	if err != nil {
		return nil, fmt.Errorf("hash study config: %w", err)
	}
	loc, err := study.Location()
	if err != nil {
		return nil, err
	}
	required, err := study.Required()
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		study:      study,
		configHash: hash,
		location:   loc,
		paths:      paths,
		fetcher:    fetcher,
		aligner: aligner.New(log, aligner.Options{
			MaxInterpolationGap: study.Cleaning.MaxInterpolationGapHours,
			MinCoverage:         study.Cleaning.MinCoverage,
			Required:            required,
		}),
		engine:  features.NewEngine(log, loc),
		builder: dataset.NewBuilder(log),
		trainer: model.NewTrainer(log, model.Config{
			AlphaGrid:          study.Model.AlphaGrid,
			CVFolds:            study.Model.CVFolds,
			CVMinTrainFraction: study.Model.CVMinTrainFraction,
			PermutationSeed:    study.Model.PermutationSeed,
		}),
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		logger:   log.WithComponent("pipeline"),
		now:      time.Now,
		newRunID: func() string { return uuid.New().String() },
	}, nil
}

// ConfigHash returns the hash recorded in manifests
func (o *Orchestrator) ConfigHash() string { return o.configHash }

// Paths returns the study layout
func (o *Orchestrator) Paths() Paths { return o.paths }

// Window resolves the study window in UTC
func (o *Orchestrator) Window() (contracts.TimeRange, error) {
	first, last, err := o.study.Window.Dates(o.now(), o.location)
	if err != nil {
		return contracts.TimeRange{}, err
	}
	return aligner.StudyWindow(first, last, o.location)
}

// RunResult holds the outputs of a run
type RunResult struct {
	Record   *contracts.RunRecord
	Hourly   *contracts.HourlyTable
	Features *contracts.FeatureTable
	Dataset  *dataset.Dataset
	Artifact *model.Artifact
}

// Run executes the stages of cmd in order. The first failure halts the
// run and is returned as *contracts.StageError; nothing downstream of the
// failed stage is written.
func (o *Orchestrator) Run(ctx context.Context, cmd Command) (*RunResult, error) {
	window, err := o.Window()
	if err != nil {
		return nil, &contracts.StageError{Stage: contracts.StageFetching, Err: err}
	}

	rec := &contracts.RunRecord{
		ID:         o.newRunID(),
		Command:    string(cmd),
		Window:     window,
		ConfigHash: o.configHash,
		StartedAt:  o.now().UTC(),
		Status:     contracts.RunRunning,
	}
	result := &RunResult{Record: rec}
	o.startRun(ctx, rec)

	o.logger.WithFields(map[string]interface{}{
		"run_id":      rec.ID,
		"command":     cmd,
		"study":       o.study.Meta.StudyID,
		"window":      window.String(),
		"config_hash": o.configHash,
	}).Info("Starting pipeline run")

	switch cmd {
	case CommandTrain:
		err = o.runFromDisk(ctx, rec, result)
	case CommandRun, CommandBuildDataset:
		err = o.runStages(ctx, rec, result, cmd == CommandRun)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	o.finishRun(ctx, rec, err)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) runStages(ctx context.Context, rec *contracts.RunRecord, result *RunResult, train bool) error {
	window := rec.Window

	// FETCHING
	metricsList, err := o.study.Metrics()
	if err != nil {
		return o.fail(ctx, rec, contracts.StageFetching, err)
	}
	var series []contracts.RawSeries
	err = o.stage(ctx, rec, contracts.StageFetching, func() (int, int, error) {
		series, err = o.fetcher.Fetch(ctx, contracts.FetchRequest{Metrics: metricsList, Start: window.Start, End: window.End})
		points := 0
		for i := range series {
			points += len(series[i].Points)
		}
		return len(metricsList), points, err
	})
	if err != nil {
		return err
	}

	// CLEANING
	err = o.stage(ctx, rec, contracts.StageCleaning, func() (int, int, error) {
		table, err := o.aligner.Align(series, window)
		if err != nil {
			return len(series), 0, err
		}
		// 새 hourly.csv와 짝이 맞지 않는 하위 단계 출력은 먼저 제거
		if err := fileutil.RemoveIfExists(o.paths.Features(), o.paths.Splits()); err != nil {
			return len(series), 0, err
		}
		if err := tableio.WriteHourly(o.paths.Hourly(), table); err != nil {
			return len(series), 0, err
		}
		if err := writeJSON(o.paths.Quality(), table.Quality); err != nil {
			return len(series), 0, err
		}
		o.metrics.SetTableRows(tableio.HourlyTable, table.Len())
		result.Hourly = table
		return len(series), table.Len(), nil
	})
	if err != nil {
		return err
	}

	// FEATURIZING
	err = o.stage(ctx, rec, contracts.StageFeaturizing, func() (int, int, error) {
		ft, err := o.featurize(result.Hourly)
		if err != nil {
			return result.Hourly.Len(), 0, err
		}
		if err := fileutil.RemoveIfExists(o.paths.Splits()); err != nil {
			return result.Hourly.Len(), 0, err
		}
		if err := tableio.WriteFeatures(o.paths.Features(), ft); err != nil {
			return result.Hourly.Len(), 0, err
		}
		o.metrics.SetTableRows(tableio.FeatureTable, len(ft.Rows))
		result.Features = ft
		return result.Hourly.Len(), len(ft.Rows), nil
	})
	if err != nil {
		return err
	}

	// SPLITTING
	err = o.stage(ctx, rec, contracts.StageSplitting, func() (int, int, error) {
		spec, err := o.splitSpec()
		if err != nil {
			return len(result.Features.Rows), 0, err
		}
		ds, err := o.builder.Build(result.Features, o.study.Schema(result.Features.Sources), spec)
		if err != nil {
			return len(result.Features.Rows), 0, err
		}
		if err := dataset.SavePlan(o.paths.Splits(), ds.Plan(o.configHash)); err != nil {
			return len(result.Features.Rows), 0, err
		}
		result.Dataset = ds
		return len(result.Features.Rows), len(ds.Train) + len(ds.Validation) + len(ds.Test), nil
	})
	if err != nil || !train {
		return err
	}

	return o.trainStage(ctx, rec, result)
}

// runFromDisk trains on the persisted features.csv and splits.json
func (o *Orchestrator) runFromDisk(ctx context.Context, rec *contracts.RunRecord, result *RunResult) error {
	err := o.stage(ctx, rec, contracts.StageSplitting, func() (int, int, error) {
		ft, err := tableio.ReadFeatures(o.paths.Features())
		if err != nil {
			return 0, 0, err
		}
		plan, err := dataset.LoadPlan(o.paths.Splits())
		if err != nil {
			return len(ft.Rows), 0, err
		}
		if plan.ConfigHash != o.configHash {
			o.logger.WithFields(map[string]interface{}{
				"planned": plan.ConfigHash,
				"current": o.configHash,
			}).Warn("splits.json was built with a different study config")
		}
		ds, err := o.builder.Apply(ft, plan)
		if err != nil {
			return len(ft.Rows), 0, err
		}
		result.Features = ft
		result.Dataset = ds
		return len(ft.Rows), len(ds.Train) + len(ds.Validation) + len(ds.Test), nil
	})
	if err != nil {
		return err
	}
	return o.trainStage(ctx, rec, result)
}

func (o *Orchestrator) trainStage(ctx context.Context, rec *contracts.RunRecord, result *RunResult) error {
	ds := result.Dataset
	err := o.stage(ctx, rec, contracts.StageTraining, func() (int, int, error) {
		art, err := o.trainer.Train(ds, ds.Schema, model.RunInfo{
			RunID:      rec.ID,
			ConfigHash: o.configHash,
			CreatedAt:  o.now(),
		})
		if err != nil {
			return len(ds.Train) + len(ds.Validation), 0, err
		}
		result.Artifact = art
		return len(ds.Train) + len(ds.Validation), len(ds.Test), nil
	})
	if err != nil {
		return err
	}

	return o.stage(ctx, rec, contracts.StageEvaluated, func() (int, int, error) {
		art := result.Artifact
		dir := o.paths.Run(rec.ID)
		if err := model.Save(dir, art); err != nil {
			return len(ds.Test), 0, err
		}
		rec.ArtifactDir = dir
		rec.Metrics = &art.Manifest.Metrics

		o.metrics.SetModelScore("mae", art.Manifest.Metrics.MAE)
		o.metrics.SetModelScore("rmse", art.Manifest.Metrics.RMSE)
		o.metrics.SetModelScore("directional_accuracy", art.Manifest.Metrics.DirectionalAccuracy)
		o.metrics.SetModelScore("baseline_mae", art.Manifest.Baseline.MAE)
		return len(ds.Test), art.Manifest.Metrics.N, nil
	})
}

// featurize computes features and runs the causality audit
func (o *Orchestrator) featurize(table *contracts.HourlyTable) (*contracts.FeatureTable, error) {
	ft, err := o.engine.Compute(table)
	if err != nil {
		return nil, err
	}
	if n := o.study.Features.AuditCuts; n > 0 {
		if err := features.Audit(o.engine.Compute, table, features.DefaultCuts(len(table.Records), n)); err != nil {
			return nil, err
		}
	}
	return ft, nil
}

func (o *Orchestrator) splitSpec() (dataset.SplitSpec, error) {
	if o.study.Split.UsesBoundaries() {
		trainEnd, validationEnd, err := o.study.Split.Boundaries(o.location)
		if err != nil {
			return dataset.SplitSpec{}, err
		}
		return dataset.SplitSpec{TrainEnd: trainEnd, ValidationEnd: validationEnd}, nil
	}
	return dataset.SplitSpec{
		TrainRatio:      o.study.Split.TrainRatio,
		ValidationRatio: o.study.Split.ValidationRatio,
	}, nil
}

// stage runs fn as one pipeline stage and records its result
func (o *Orchestrator) stage(ctx context.Context, rec *contracts.RunRecord, stage contracts.Stage, fn func() (int, int, error)) error {
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, rec, stage, err)
	}

	log := o.logger.WithStage(string(stage))
	log.WithField("run_id", rec.ID).Info("Running " + stage.Description())

	started := time.Now()
	in, out, err := fn()
	elapsed := time.Since(started)

	result := contracts.StageResult{
		Stage:       stage,
		Success:     err == nil,
		InputCount:  in,
		OutputCount: out,
		Duration:    elapsed.Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	o.record(ctx, rec, result)
	o.metrics.ObserveStage(string(stage), elapsed.Seconds(), err != nil)

	if err != nil {
		return o.wrap(rec, stage, err)
	}

	log.WithFields(map[string]interface{}{
		"input":       in,
		"output":      out,
		"duration_ms": result.Duration,
	}).Info("Stage completed")
	return nil
}

// fail records a stage that failed before doing any work
func (o *Orchestrator) fail(ctx context.Context, rec *contracts.RunRecord, stage contracts.Stage, err error) error {
	o.record(ctx, rec, contracts.StageResult{Stage: stage, Error: err.Error()})
	o.metrics.ObserveStage(string(stage), 0, true)
	return o.wrap(rec, stage, err)
}

func (o *Orchestrator) wrap(rec *contracts.RunRecord, stage contracts.Stage, err error) error {
	var se *contracts.StageError
	if errors.As(err, &se) {
		return err
	}
	return &contracts.StageError{Stage: stage, Range: rec.Window, Err: err}
}

func (o *Orchestrator) record(ctx context.Context, rec *contracts.RunRecord, result contracts.StageResult) {
	rec.Stages = append(rec.Stages, result)
	rec.LastStage = result.Stage
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordStage(ctx, rec.ID, result); err != nil {
		o.logger.WithError(err).Warn("Failed to record stage result")
	}
}

func (o *Orchestrator) startRun(ctx context.Context, rec *contracts.RunRecord) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.StartRun(ctx, rec); err != nil {
		o.logger.WithError(err).Warn("Failed to record run start")
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, rec *contracts.RunRecord, runErr error) {
	rec.FinishedAt = o.now().UTC()
	rec.Status = contracts.RunSucceeded
	if runErr != nil {
		rec.Status = contracts.RunFailed
		rec.Error = runErr.Error()
	}

	fields := map[string]interface{}{
		"run_id":     rec.ID,
		"status":     rec.Status,
		"last_stage": rec.LastStage,
		"duration":   rec.FinishedAt.Sub(rec.StartedAt).Seconds(),
	}
	if runErr != nil {
		o.logger.WithFields(fields).WithError(runErr).Error("Pipeline run failed")
	} else {
		o.logger.WithFields(fields).Info("Pipeline run completed successfully")
	}

	if o.recorder == nil {
		return
	}
	// 실행 이력은 취소된 컨텍스트에서도 기록
	if err := o.recorder.FinishRun(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.WithError(err).Warn("Failed to record run finish")
	}
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return fileutil.WriteFileAtomic(path, data)
}
