package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/treonstudio/chatuploads/internal/config"
	"github.com/treonstudio/chatuploads/internal/handlers"
	"github.com/treonstudio/chatuploads/internal/uploads"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(sigCtx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger.Info("starting chatuploads",
		"port", cfg.Port,
		"db_type", cfg.DBType,
		"storage_backend", cfg.StorageBackend,
		"retry_ceiling", cfg.RetryCeiling,
	)

	lock, err := acquireLock(cfg.DataDir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer repos.Close()
	logger.Info("database initialized", "type", repos.DatabaseType)

	transport, filesDir, err := newTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("storage ready", "backend", transport.Name())

	opts, err := newManagerOptions(cfg, logger)
	if err != nil {
		return err
	}
	manager, err := uploads.Open(ctx, repos.QueueState, opts)
	if err != nil {
		return fmt.Errorf("failed to open upload queue: %w", err)
	}
	startup := manager.StartupResult()
	logger.Info("upload queue ready",
		"loaded", startup.Loaded,
		"purged", startup.Purged,
		"load_error", startup.LoadError,
	)

	runner := uploads.NewRunner(manager, transport, uploads.RunnerOptions{
		RetryDelay: cfg.RetryDelay,
		Compressor: newCompressor(cfg, logger),
		Logger:     logger,
	})

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go uploads.StartCleanupWorker(workerCtx, manager, cfg.CleanupInterval, cfg.CompletedRetention)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handlers.NewRouter(handlers.Deps{
			Manager:         manager,
			Runner:          runner,
			Transport:       transport,
			Ping:            repos.Ping,
			FilesDir:        filesDir,
			MaxRequestBytes: maxRequestBytes(cfg),
			StartTime:       time.Now(),
			Logger:          logger,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "address", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn("upload transfers interrupted by shutdown", "error", err)
	}
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Warn("orphan notification abandoned at shutdown", "error", err)
	}
	cancelWorkers()

	slog.Info("server stopped gracefully")
	return nil
}
