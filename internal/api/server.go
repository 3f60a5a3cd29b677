package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wonny/meritorder/pkg/logger"
)

// Server represents the read-only report server
// ⭐ SSOT: API 서버 설정은 이 파일에서만
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
}

// New creates a new report server listening on :port
func New(port string, log *logger.Logger, router http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: log,
	}
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting report server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down report server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
