package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/server"
	"github.com/quantumflow/nevra/internal/workflow"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow API over HTTP",
	Long: `Start the HTTP server. Workflows run on a bounded worker pool; requests
beyond the queue are answered with 503.

Examples:
  # Serve with defaults on :8080
  nevra serve

  # Serve with a config file on another port
  nevra serve --config nevra.yaml --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger, err := newLogger(cfg, false)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pool := workflow.NewPool(a.orchestrator, &workflow.PoolConfig{
		Workers:   cfg.Server.Workers,
		QueueSize: cfg.Server.QueueSize,
	}, logger)

	srv, err := server.NewServer(pool, logger, &server.Config{Addr: cfg.Server.Addr}, server.Options{
		Gatherer: a.registry,
		Profiles: a.profiles,
		Runs:     a.runs,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error(ctx, "http server failed", zap.Error(err))
			_ = pool.Shutdown(cfg.Server.ShutdownTimeout.Duration())
			return err
		}
	}

	timeout := cfg.Server.ShutdownTimeout.Duration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown incomplete", zap.Error(err))
	}
	if err := pool.Shutdown(timeout); err != nil {
		logger.Warn(shutdownCtx, "workflow pool shutdown incomplete", zap.Error(err))
	}

	stats := pool.Stats()
	logger.Info(shutdownCtx, "server stopped",
		zap.Int64("completed", stats.Completed),
		zap.Int64("rejected", stats.Rejected),
		zap.Duration("average_latency", stats.AverageLatency),
	)
	return nil
}
