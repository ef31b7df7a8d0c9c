package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"

	"github.com/treonstudio/chatuploads/internal/config"
	"github.com/treonstudio/chatuploads/internal/database"
	"github.com/treonstudio/chatuploads/internal/logging"
	"github.com/treonstudio/chatuploads/internal/media"
	"github.com/treonstudio/chatuploads/internal/notify"
	"github.com/treonstudio/chatuploads/internal/repository"
	"github.com/treonstudio/chatuploads/internal/repository/postgres"
	"github.com/treonstudio/chatuploads/internal/repository/sqlite"
	"github.com/treonstudio/chatuploads/internal/storage"
	"github.com/treonstudio/chatuploads/internal/storage/filesystem"
	"github.com/treonstudio/chatuploads/internal/storage/s3"
	"github.com/treonstudio/chatuploads/internal/uploads"
	"github.com/treonstudio/chatuploads/internal/validation"
)

const lockFileName = "chatuploads.lock"

// errLocked is returned when another process owns the data directory.
var errLocked = errors.New("another chatuploads process owns the data directory")

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	format := cfg.LogFormat
	if format == "" && isatty.IsTerminal(os.Stdout.Fd()) {
		format = "text"
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: format,
		File:   cfg.LogFile,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}

// acquireLock takes the data-directory lock so only one process owns the durable queue.
func acquireLock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	lock := flock.New(filepath.Join(dataDir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errLocked
	}
	return lock, nil
}

// openRepositories connects the configured database backend.
func openRepositories(ctx context.Context, cfg *config.Config) (*repository.Repositories, error) {
	switch cfg.DBType {
	case config.DBTypePostgres:
		return postgres.NewRepositories(ctx, cfg.DatabaseURL, cfg.PGMaxConns)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		db, err := database.Initialize(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return sqlite.NewRepositories(db)
	}
}

// newTransport builds the storage transport. filesDir is non-empty when the
// filesystem backend is used and its objects should be served over HTTP.
func newTransport(ctx context.Context, cfg *config.Config) (transport storage.Transport, filesDir string, err error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		t, err := s3.NewS3Transport(ctx, s3.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
			PartSizeMB:      cfg.S3.PartSizeMB,
			PublicURL:       cfg.PublicURL,
		})
		if err != nil {
			return nil, "", err
		}
		return t, "", nil
	default:
		t, err := filesystem.NewFilesystemTransport(cfg.UploadDir, cfg.PublicURL)
		if err != nil {
			return nil, "", err
		}
		return t, t.BaseDir(), nil
	}
}

// newManagerOptions maps configuration onto manager options.
func newManagerOptions(cfg *config.Config, logger *slog.Logger) (uploads.Options, error) {
	opts := uploads.DefaultOptions()
	opts.QueueKey = cfg.QueueKey
	opts.RetryCeiling = cfg.RetryCeiling
	opts.PayloadBudget = cfg.MaxPayloadBytes
	opts.Logger = logger
	opts.Validator = validation.New(validation.Limits{
		MaxImageSize:      cfg.MaxImageSize,
		MaxVideoSize:      cfg.MaxVideoSize,
		MaxDocumentSize:   cfg.MaxDocumentSize,
		BlockedExtensions: cfg.BlockedExtensions,
	})

	if cfg.OrphanWebhookURL != "" {
		notifier, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:     cfg.OrphanWebhookURL,
			Secret:  cfg.OrphanWebhookSecret,
			Timeout: cfg.WebhookTimeout(),
		}, logger)
		if err != nil {
			return opts, err
		}
		opts.Notifier = notifier
	}
	return opts, nil
}

// newCompressor returns nil when image compression is disabled.
func newCompressor(cfg *config.Config, logger *slog.Logger) media.Compressor {
	if !cfg.CompressImages {
		return nil
	}
	c := media.NewImageCompressor(cfg.ImageQuality, cfg.ImageMaxDimension)
	c.Logger = logger
	return c
}

// maxRequestBytes bounds a multipart request: the largest per-type limit plus form overhead.
func maxRequestBytes(cfg *config.Config) int64 {
	largest := max(cfg.MaxImageSize, cfg.MaxVideoSize, cfg.MaxDocumentSize)
	return largest + 1<<20
}
