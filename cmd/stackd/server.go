package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/stackd/stackd/internal/shell/api"
	"github.com/stackd/stackd/internal/shell/docker"
	"github.com/stackd/stackd/internal/shell/ledger"
)

// =============================================================================
// Server Error
// =============================================================================

// ServerError wraps errors with an exit code for the main function.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Server
// =============================================================================

// Server wires the ledger, the Docker client, and the HTTP API together.
type Server struct {
	cfg        *Config
	logger     *slog.Logger
	store      *ledger.Store
	docker     docker.Client
	httpServer *http.Server
}

// NewServer initializes all server dependencies.
func NewServer(cfg *Config) (*Server, error) {
	logger := SetupLogger(cfg)

	store, err := openLedger(cfg)
	if err != nil {
		return nil, &ServerError{Op: "open ledger", Err: err, ExitCode: ExitLedgerError}
	}

	client, err := openDocker(cfg)
	if err != nil {
		store.Close()
		return nil, &ServerError{Op: "connect to docker", Err: err, ExitCode: ExitDockerError}
	}

	run := newRunner(cfg, client, logger)
	handler := api.NewHandler(store, client, run, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		docker:     client,
		httpServer: httpServer,
	}, nil
}

// Start runs the HTTP server until a signal or server error stops it.
func (s *Server) Start() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		return &ServerError{Op: "http server", Err: err, ExitCode: ExitServerError}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return &ServerError{Op: "shutdown", Err: err, ExitCode: ExitServerError}
	}

	s.logger.Info("server stopped")
	return nil
}

// Close releases server resources.
func (s *Server) Close() {
	if s.docker != nil {
		s.docker.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}
