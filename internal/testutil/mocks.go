package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	repoMock "github.com/treonstudio/chatuploads/internal/repository/mock"
	storageMock "github.com/treonstudio/chatuploads/internal/storage/mock"
	"github.com/treonstudio/chatuploads/internal/uploads"
	"github.com/treonstudio/chatuploads/internal/validation"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockTestEnv wires an upload manager and runner over in-memory collaborators.
type MockTestEnv struct {
	Repo      *repoMock.QueueStateRepository
	Transport *storageMock.Transport
	Manager   *uploads.Manager
	Runner    *uploads.Runner
	Logger    *slog.Logger
}

// NewMockTestEnv opens a manager with the default validator over a mock queue
// repository and a runner over a mock transport. opts may adjust manager options.
// The runner is shut down when the test completes.
func NewMockTestEnv(t *testing.T, opts ...func(*uploads.Options)) *MockTestEnv {
	t.Helper()
	return NewMockTestEnvWithRepo(t, repoMock.NewQueueStateRepository(), opts...)
}

// NewMockTestEnvWithRepo is NewMockTestEnv over an existing repository, for restart scenarios.
func NewMockTestEnvWithRepo(t *testing.T, repo *repoMock.QueueStateRepository, opts ...func(*uploads.Options)) *MockTestEnv {
	t.Helper()

	logger := DiscardLogger()
	o := uploads.DefaultOptions()
	o.Logger = logger
	o.Validator = validation.New(validation.DefaultLimits())
	for _, opt := range opts {
		opt(&o)
	}

	m, err := uploads.Open(context.Background(), repo, o)
	if err != nil {
		t.Fatalf("failed to open upload manager: %v", err)
	}

	transport := storageMock.NewTransport()
	runner := uploads.NewRunner(m, transport, uploads.RunnerOptions{RetryDelay: time.Millisecond, Logger: logger})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		runner.Shutdown(ctx)
	})

	return &MockTestEnv{
		Repo:      repo,
		Transport: transport,
		Manager:   m,
		Runner:    runner,
		Logger:    logger,
	}
}
