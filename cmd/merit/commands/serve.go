package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/meritorder/internal/api"
	"github.com/wonny/meritorder/internal/api/handlers"
	"github.com/wonny/meritorder/internal/registry"
	"github.com/wonny/meritorder/pkg/logger"
	"github.com/wonny/meritorder/pkg/metrics"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "리포트 서버 시작 (읽기 전용)",
	Long: `실행 이력, 매니페스트, 모델 파일과 Prometheus 메트릭을 제공합니다.

Endpoints:
  GET /health
  GET /metrics
  GET /api/runs
  GET /api/runs/{id}
  GET /api/runs/{id}/manifest
  GET /api/runs/{id}/files/{model.json|manifest.json}
  GET /api/artifacts
  GET /api/jobs

Example:
  go run ./cmd/merit serve
  go run ./cmd/merit serve --port 8080`,
	RunE: runServe,
}

var servePort string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "report server port (default: PORT or 8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if servePort != "" {
		a.cfg.Port = servePort
	}

	server := newReportServer(a, nil, a.metrics)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	fmt.Printf("\n✅ Report server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("Press Ctrl+C to stop")

	return waitAndShutdown(a.log, server, errCh)
}

// newReportServer wires the read-only report API
func newReportServer(a *app, jobs handlers.JobStats, rec *metrics.Recorder) *api.Server {
	report := handlers.NewReportHandler(
		registry.NewFileRegistry(filepath.Join(a.cfg.DataDir, "runs")),
		registry.NewArtifactStore(a.cfg.ArtifactDir),
		jobs,
		a.log,
	)
	var metricsHandler http.Handler
	if rec != nil {
		metricsHandler = rec.Handler()
	}
	return api.New(a.cfg.Port, a.log, api.NewRouter(report, metricsHandler, a.log))
}

// waitAndShutdown blocks until a signal or a server error, then shuts down
func waitAndShutdown(log *logger.Logger, server *api.Server, errCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Report server shutdown failed")
		return err
	}
	return nil
}
