package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/registry"
	"github.com/wonny/meritorder/internal/scheduler"
	"github.com/wonny/meritorder/pkg/logger"
)

// RunStore lists recorded pipeline runs
type RunStore interface {
	ListRuns() ([]contracts.RunRecord, error)
	GetRun(runID string) (*contracts.RunRecord, error)
}

// JobStats reports scheduled jobs; nil when the server runs without a scheduler
type JobStats interface {
	GetJobStats() map[string]scheduler.JobStats
}

// ReportHandler serves run history and model artifacts read-only
// ⭐ SSOT: 리포트 API 핸들러는 이 구조체에서만
type ReportHandler struct {
	runs      RunStore
	artifacts contracts.ArtifactReader
	jobs      JobStats
	logger    *logger.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(runs RunStore, artifacts contracts.ArtifactReader, jobs JobStats, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		runs:      runs,
		artifacts: artifacts,
		jobs:      jobs,
		logger:    log,
	}
}

// RunSummary is one row of the run list
type RunSummary struct {
	ID          string                       `json:"id"`
	Command     string                       `json:"command"`
	Status      contracts.RunStatus          `json:"status"`
	LastStage   contracts.Stage              `json:"last_stage"`
	Window      contracts.TimeRange          `json:"window"`
	Metrics     *contracts.EvaluationMetrics `json:"metrics,omitempty"`
	HasArtifact bool                         `json:"has_artifact"`
	Error       string                       `json:"error,omitempty"`
}

// ListRuns returns recorded runs, newest first
// GET /api/runs
func (h *ReportHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRuns()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunSummary{
			ID:          run.ID,
			Command:     run.Command,
			Status:      run.Status,
			LastStage:   run.LastStage,
			Window:      run.Window,
			Metrics:     run.Metrics,
			HasArtifact: run.ArtifactDir != "",
			Error:       run.Error,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  out,
		"count": len(out),
	})
}

// GetRun returns one run with its stage results
// GET /api/runs/{id}
func (h *ReportHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := h.runs.GetRun(id)
	if err != nil {
		h.respondLookupError(w, err, "run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// ListArtifacts returns run ids that produced a model
// GET /api/artifacts
func (h *ReportHandler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	ids, err := h.artifacts.ListRuns()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list artifacts")
		respondError(w, http.StatusInternalServerError, "Failed to list artifacts")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": ids})
}

// GetManifest returns the manifest of a run's model
// GET /api/runs/{id}/manifest
func (h *ReportHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	manifest, err := h.artifacts.ReadManifest(mux.Vars(r)["id"])
	if err != nil {
		h.respondLookupError(w, err, "manifest")
		return
	}
	respondJSON(w, http.StatusOK, manifest)
}

// GetFile streams model.json or manifest.json of a run
// GET /api/runs/{id}/files/{name}
func (h *ReportHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	f, err := h.artifacts.OpenFile(vars["id"], vars["name"])
	if err != nil {
		h.respondLookupError(w, err, "file")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.WithError(err).Warn("Failed to stream artifact file")
	}
}

// GetJobs returns scheduler statistics
// GET /api/jobs
func (h *ReportHandler) GetJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": map[string]scheduler.JobStats{}})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": h.jobs.GetJobStats()})
}

func (h *ReportHandler) respondLookupError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, registry.ErrRunNotFound):
		respondError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, registry.ErrFileNotServed):
		respondError(w, http.StatusNotFound, what+" not served")
	default:
		h.logger.WithError(err).WithField("resource", what).Error("Report lookup failed")
		respondError(w, http.StatusInternalServerError, "Failed to read "+what)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
