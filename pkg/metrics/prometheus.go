package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records pipeline metrics with Prometheus.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	chunks        *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	tableRows     *prometheus.GaugeVec
	modelScore    *prometheus.GaugeVec
}

// New creates a recorder on its own registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		gatherer: reg,
		chunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merit_fetch_chunks_total",
				Help: "SMARD chunks resolved, by metric and origin (cache|network)",
			},
			[]string{"metric", "origin"},
		),
		fetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merit_fetch_errors_total",
				Help: "Chunks that failed after all retries",
			},
			[]string{"metric"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "merit_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		stageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merit_stage_failures_total",
				Help: "Pipeline stage failures",
			},
			[]string{"stage"},
		),
		tableRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "merit_table_rows",
				Help: "Rows in the last produced table, by table",
			},
			[]string{"table"},
		),
		modelScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "merit_model_score",
				Help: "Test-set scores of the last trained model",
			},
			[]string{"metric"},
		),
	}
}

// RecordChunk records one resolved chunk
func (r *Recorder) RecordChunk(metric, origin string) {
	if r == nil {
		return
	}
	r.chunks.WithLabelValues(metric, origin).Inc()
}

// RecordFetchError records a chunk that exhausted its retries
func (r *Recorder) RecordFetchError(metric string) {
	if r == nil {
		return
	}
	r.fetchErrors.WithLabelValues(metric).Inc()
}

// ObserveStage records a stage duration and failure
func (r *Recorder) ObserveStage(stage string, seconds float64, failed bool) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(seconds)
	if failed {
		r.stageFailures.WithLabelValues(stage).Inc()
	}
}

// SetTableRows records the size of a produced table
func (r *Recorder) SetTableRows(table string, rows int) {
	if r == nil {
		return
	}
	r.tableRows.WithLabelValues(table).Set(float64(rows))
}

// SetModelScore records a test-set score (mae, rmse, ...)
func (r *Recorder) SetModelScore(name string, value float64) {
	if r == nil {
		return
	}
	r.modelScore.WithLabelValues(name).Set(value)
}

// Handler exposes the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.gatherer
}
