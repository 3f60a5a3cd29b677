package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/wonny/meritorder/internal/contracts"
	"github.com/wonny/meritorder/internal/csvimport"
	"github.com/wonny/meritorder/internal/fetcher"
	"github.com/wonny/meritorder/internal/pipeline"
	"github.com/wonny/meritorder/internal/pipelineconfig"
	"github.com/wonny/meritorder/internal/registry"
	"github.com/wonny/meritorder/internal/smard"
	"github.com/wonny/meritorder/pkg/config"
	"github.com/wonny/meritorder/pkg/database"
	"github.com/wonny/meritorder/pkg/httputil"
	"github.com/wonny/meritorder/pkg/logger"
	"github.com/wonny/meritorder/pkg/metrics"
	"github.com/wonny/meritorder/pkg/redis"
)

// app holds the dependencies shared by every command
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	study   *pipelineconfig.Config
	metrics *metrics.Recorder
	paths   pipeline.Paths

	closers []func()
}

// newApp loads environment config, the logger and the study definition
func newApp() (*app, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if studyFile != "" {
		cfg.PipelineConfig = studyFile
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Load study definition
	study, _, err := pipelineconfig.Load(cfg.PipelineConfig)
	if err != nil {
		return nil, fmt.Errorf("load study: %w", err)
	}
	for _, w := range pipelineconfig.Warn(study) {
		log.WithField("code", w.Code).Warn(w.Message)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		study:   study,
		metrics: metrics.New(),
		paths:   pipeline.NewPaths(cfg.DataDir, cfg.ArtifactDir, study.Meta.StudyID),
	}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// regionFor maps a metric to its SMARD region
func (a *app) regionFor(m contracts.Metric) string {
	if m == contracts.MetricPrice {
		return a.cfg.SMARD.PriceRegion
	}
	return a.cfg.SMARD.Region
}

// importDir is where import-csv stores parsed series
func (a *app) importDir() string {
	if a.study.Source.ImportDir != "" {
		return a.study.Source.ImportDir
	}
	return filepath.Join(a.cfg.DataDir, "imported")
}

// smardFetcher builds the cached SMARD fetcher
func (a *app) smardFetcher(ctx context.Context, offline bool) (*fetcher.Fetcher, error) {
	httpClient := httputil.New(a.log, a.cfg.SMARD.Timeout).
		WithRetry(a.cfg.SMARD.MaxRetries, a.cfg.SMARD.InitialDelay, a.cfg.SMARD.MaxDelay).
		WithRate(a.cfg.SMARD.RatePerSec, a.cfg.SMARD.Workers)

	// Optional fleet-wide limit in Redis
	if a.cfg.Redis.Enabled {
		rc, err := redis.New(ctx, a.cfg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		httpClient = httpClient.WithSharedLimiter(redis.NewRateLimiter(rc, "merit", redis.SMARDRateLimit))
		a.log.Info("Using shared SMARD rate limit in Redis")
	}

	client := smard.NewClient(httpClient, a.log, a.cfg.SMARD)
	return fetcher.New(client, fetcher.NewCache(a.cfg.CacheDir), a.metrics, a.log, fetcher.Options{
		Workers:     a.cfg.SMARD.Workers,
		MaxRetries:  a.cfg.SMARD.MaxRetries,
		Offline:     offline,
		SettleAfter: a.cfg.SMARD.SettleAfter,
	}), nil
}

// seriesFetcher selects the raw series source of the study
func (a *app) seriesFetcher(ctx context.Context, offline bool) (contracts.SeriesFetcher, error) {
	switch a.study.Source.Kind {
	case pipelineconfig.SourceCSV:
		return csvimport.NewStore(a.importDir(), a.log), nil
	default:
		return a.smardFetcher(ctx, offline)
	}
}

// runRecorder always writes run files; Postgres is added when DATABASE_URL is set
func (a *app) runRecorder(ctx context.Context) (contracts.RunRecorder, *registry.FileRegistry, error) {
	files := registry.NewFileRegistry(filepath.Join(a.cfg.DataDir, "runs"))

	db, err := database.New(ctx, a.cfg)
	if errors.Is(err, database.ErrNotConfigured) {
		return files, files, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	repo := registry.NewRepository(db.Pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	a.log.Info("Recording runs to PostgreSQL")
	return registry.NewMulti(files, repo), files, nil
}

// orchestrator wires a pipeline orchestrator for the study
func (a *app) orchestrator(ctx context.Context, offline bool) (*pipeline.Orchestrator, error) {
	src, err := a.seriesFetcher(ctx, offline)
	if err != nil {
		return nil, err
	}
	rec, _, err := a.runRecorder(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.NewOrchestrator(a.study, src, a.paths, pipeline.Deps{
		Recorder: rec,
		Metrics:  a.metrics,
		Logger:   a.log,
	})
}
