package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/meritorder/internal/contracts"
)

// SchemaSQL creates the run registry tables
const SchemaSQL = `
CREATE SCHEMA IF NOT EXISTS merit;

CREATE TABLE IF NOT EXISTS merit.pipeline_runs (
	run_id        TEXT PRIMARY KEY,
	command       TEXT NOT NULL,
	window_start  TIMESTAMPTZ NOT NULL,
	window_end    TIMESTAMPTZ NOT NULL,
	config_hash   TEXT NOT NULL,
	status        TEXT NOT NULL,
	last_stage    TEXT,
	error         TEXT,
	mae           DOUBLE PRECISION,
	rmse          DOUBLE PRECISION,
	directional_accuracy DOUBLE PRECISION,
	artifact_dir  TEXT,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS merit.pipeline_stages (
	run_id        TEXT NOT NULL REFERENCES merit.pipeline_runs(run_id) ON DELETE CASCADE,
	seq           INTEGER NOT NULL,
	stage         TEXT NOT NULL,
	success       BOOLEAN NOT NULL,
	input_count   INTEGER NOT NULL,
	output_count  INTEGER NOT NULL,
	duration_ms   BIGINT NOT NULL,
	error         TEXT,
	metadata      JSONB,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, seq)
);
`

// Repository persists pipeline runs to PostgreSQL
// ⭐ SSOT: 실행 이력 DB 저장/조회
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new run repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the registry tables if missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("create registry schema: %w", err)
	}
	return nil
}

// StartRun inserts a run
func (r *Repository) StartRun(ctx context.Context, run *contracts.RunRecord) error {
	query := `
		INSERT INTO merit.pipeline_runs (
			run_id, command, window_start, window_end, config_hash, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Command,
		run.Window.Start,
		run.Window.End,
		run.ConfigHash,
		string(run.Status),
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// RecordStage appends a stage result
func (r *Repository) RecordStage(ctx context.Context, runID string, result contracts.StageResult) error {
	var metadata []byte
	if len(result.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(result.Metadata); err != nil {
			return fmt.Errorf("encode stage metadata: %w", err)
		}
	}

	query := `
		INSERT INTO merit.pipeline_stages (
			run_id, seq, stage, success, input_count, output_count, duration_ms, error, metadata
		)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8
		FROM merit.pipeline_stages WHERE run_id = $1
	`

	_, err := r.pool.Exec(ctx, query,
		runID,
		string(result.Stage),
		result.Success,
		result.InputCount,
		result.OutputCount,
		result.Duration,
		result.Error,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("record stage %s: %w", result.Stage, err)
	}

	if _, err := r.pool.Exec(ctx,
		`UPDATE merit.pipeline_runs SET last_stage = $2 WHERE run_id = $1`,
		runID, string(result.Stage)); err != nil {
		return fmt.Errorf("update last stage: %w", err)
	}
	return nil
}

// FinishRun stores the final status and test metrics
func (r *Repository) FinishRun(ctx context.Context, run *contracts.RunRecord) error {
	var mae, rmse, da *float64
	if run.Metrics != nil {
		mae, rmse, da = &run.Metrics.MAE, &run.Metrics.RMSE, &run.Metrics.DirectionalAccuracy
	}

	query := `
		UPDATE merit.pipeline_runs SET
			status = $2,
			last_stage = $3,
			error = NULLIF($4, ''),
			mae = $5,
			rmse = $6,
			directional_accuracy = $7,
			artifact_dir = NULLIF($8, ''),
			finished_at = $9
		WHERE run_id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		run.ID,
		string(run.Status),
		string(run.LastStage),
		run.Error,
		mae,
		rmse,
		da,
		run.ArtifactDir,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run: %w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// GetRun retrieves a run with its stages
func (r *Repository) GetRun(ctx context.Context, runID string) (*contracts.RunRecord, error) {
	query := `
		SELECT
			run_id, command, window_start, window_end, config_hash, status,
			COALESCE(last_stage, ''), COALESCE(error, ''), mae, rmse, directional_accuracy,
			COALESCE(artifact_dir, ''), started_at, finished_at
		FROM merit.pipeline_runs
		WHERE run_id = $1
	`

	run := &contracts.RunRecord{}
	var status, lastStage string
	var mae, rmse, da *float64
	var finished *time.Time

	err := r.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.Command,
		&run.Window.Start,
		&run.Window.End,
		&run.ConfigHash,
		&status,
		&lastStage,
		&run.Error,
		&mae,
		&rmse,
		&da,
		&run.ArtifactDir,
		&run.StartedAt,
		&finished,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	run.Status = contracts.RunStatus(status)
	run.LastStage = contracts.Stage(lastStage)
	if finished != nil {
		run.FinishedAt = *finished
	}
	if mae != nil && rmse != nil && da != nil {
		run.Metrics = &contracts.EvaluationMetrics{MAE: *mae, RMSE: *rmse, DirectionalAccuracy: *da}
	}

	stages, err := r.stages(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Stages = stages
	return run, nil
}

func (r *Repository) stages(ctx context.Context, runID string) ([]contracts.StageResult, error) {
	query := `
		SELECT stage, success, input_count, output_count, duration_ms, COALESCE(error, ''), metadata
		FROM merit.pipeline_stages
		WHERE run_id = $1
		ORDER BY seq
	`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var out []contracts.StageResult
	for rows.Next() {
		var res contracts.StageResult
		var stage string
		var metadata []byte
		if err := rows.Scan(&stage, &res.Success, &res.InputCount, &res.OutputCount, &res.Duration, &res.Error, &metadata); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		res.Stage = contracts.Stage(stage)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &res.Metadata); err != nil {
				return nil, fmt.Errorf("decode stage metadata: %w", err)
			}
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
