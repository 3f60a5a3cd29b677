package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/meritorder/internal/api/handlers"
	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/model"
	"github.com/wonny/meritorder/internal/registry"
	"github.com/wonny/meritorder/internal/scheduler"
	"github.com/wonny/meritorder/pkg/logger"
	"github.com/wonny/meritorder/pkg/metrics"
)

type staticJobs map[string]scheduler.JobStats

func (s staticJobs) GetJobStats() map[string]scheduler.JobStats { return s }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	runs := registry.NewFileRegistry(filepath.Join(dir, "runs"))
	start := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, runs.StartRun(ctx, &contracts.RunRecord{ID: "run-old", Command: "run", StartedAt: start, Status: contracts.RunFailed, LastStage: contracts.StageCleaning}))
	require.NoError(t, runs.StartRun(ctx, &contracts.RunRecord{
		ID: "run-new", Command: "run", StartedAt: start.Add(time.Hour), Status: contracts.RunSucceeded,
		LastStage: contracts.StageEvaluated, ArtifactDir: filepath.Join(dir, "artifacts", "run-new"),
		Metrics: &contracts.EvaluationMetrics{MAE: 7.5, N: 100},
	}))

	schema := contracts.Schema{Features: []string{contracts.ColResidualLoad}, Target: contracts.TargetColumn}
	require.NoError(t, model.Save(filepath.Join(dir, "artifacts", "run-new"), &model.Artifact{
		Model: &model.Model{
			Type: model.ModelType, Features: schema.Features, Target: schema.Target,
			Ridge: model.Ridge{Coefficients: []float64{2}, Scaler: model.Scaler{Mean: []float64{0}, Scale: []float64{1}}},
		},
		Manifest: contracts.Manifest{RunID: "run-new", ModelType: model.ModelType, Schema: schema},
	}))

	report := handlers.NewReportHandler(
		runs,
		registry.NewArtifactStore(filepath.Join(dir, "artifacts")),
		staticJobs{"pipeline:de": {JobName: "pipeline:de", Schedule: "0 0 14 * * *"}},
		logger.Nop(),
	)
	return NewRouter(report, metrics.New().Handler(), logger.Nop())
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_Status(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/runs", http.StatusOK},
		{"/api/runs/run-new", http.StatusOK},
		{"/api/runs/missing", http.StatusNotFound},
		{"/api/runs/run-new/manifest", http.StatusOK},
		{"/api/runs/run-old/manifest", http.StatusNotFound},
		{"/api/runs/run-new/files/model.json", http.StatusOK},
		{"/api/runs/run-new/files/hourly.csv", http.StatusNotFound},
		{"/api/artifacts", http.StatusOK},
		{"/api/jobs", http.StatusOK},
		{"/api/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, get(t, h, tt.path).Code)
		})
	}
}

func TestRouter_ListRunsNewestFirst(t *testing.T) {
	rec := get(t, newTestRouter(t), "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs  []handlers.RunSummary `json:"runs"`
		Count int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "run-new", body.Runs[0].ID)
	assert.True(t, body.Runs[0].HasArtifact)
	assert.InDelta(t, 7.5, body.Runs[0].Metrics.MAE, 1e-9)
	assert.False(t, body.Runs[1].HasArtifact)
}

func TestRouter_Manifest(t *testing.T) {
	rec := get(t, newTestRouter(t), "/api/runs/run-new/manifest")
	require.Equal(t, http.StatusOK, rec.Code)

	var m contracts.Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "run-new", m.RunID)
	assert.Equal(t, []string{contracts.ColResidualLoad}, m.Schema.Features)
}

func TestRouter_RejectsWrites(t *testing.T) {
	h := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
