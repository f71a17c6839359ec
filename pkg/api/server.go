package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nexuspay/fepgate/internal/connmgr"
	"github.com/nexuspay/fepgate/internal/logger"
	"github.com/nexuspay/fepgate/pkg/api/auth"
	"github.com/nexuspay/fepgate/pkg/store/transaction"
)

// Server provides the admin HTTP API.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server         *http.Server
	manager        *connmgr.Manager
	repo           transaction.Repository
	config         Config
	metricsEnabled bool
	shutdownOnce   sync.Once
}

// NewServer creates a new admin API server.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests. The JWT secret must be configured via config.JWT.Secret or the
// FEPGATE_API_SECRET environment variable.
func NewServer(config Config, manager *connmgr.Manager, repo transaction.Repository, metricsEnabled bool) (*Server, error) {
	config.ApplyDefaults()

	jwtSecret := config.GetJWTSecret()
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT secret must be at least 32 characters; set via %s env var or config", EnvAPISecret)
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:        jwtSecret,
		TokenDuration: config.JWT.TokenDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	s := &Server{
		manager:        manager,
		repo:           repo,
		config:         config,
		metricsEnabled: metricsEnabled,
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      s.newRouter(jwtService),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// Start starts the API HTTP server and blocks until the context is
// cancelled or an error occurs. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Admin API listening", logger.KeyPort, s.config.Port)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
				// Context was cancelled, error is not needed
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Admin API shutdown signal received")
		// Fresh context: the cancelled one would abort the drain immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin API failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin API shutdown error: %w", err)
		} else {
			logger.Info("Admin API stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.config.Port
}
