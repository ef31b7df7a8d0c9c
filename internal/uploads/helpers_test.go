package uploads

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/treonstudio/chatuploads/internal/models"
	"github.com/treonstudio/chatuploads/internal/repository/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock returns monotonically increasing times one second apart.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// sequentialIDs returns upload_1, upload_2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("upload_%d", n)
	}
}

func imageRequest(chatID string) models.UploadRequest {
	return models.UploadRequest{
		ChatID:        chatID,
		FileName:      "photo.jpg",
		FileSize:      4,
		FileType:      models.FileTypeImage,
		MimeType:      "image/jpeg",
		TempMessageID: "tmp_" + chatID,
		UserID:        "u1",
		UserName:      "Ana",
	}
}

// newTestStore returns a store mirrored into an in-memory queue.
func newTestStore(t *testing.T) (*Store, *Queue, *[]string) {
	t.Helper()
	queue := NewQueue(nil, QueueOptions{RetryCeiling: DefaultRetryCeiling, Logger: discardLogger()})
	var (
		mu       sync.Mutex
		released []string
	)
	store := NewStore(queue, StoreOptions{
		Logger: discardLogger(),
		Now:    newFakeClock().Now,
		NewID:  sequentialIDs(),
		OnRelease: func(id string) {
			mu.Lock()
			released = append(released, id)
			mu.Unlock()
		},
	})
	return store, queue, &released
}

type testManagerOption func(*Options)

func withNotifier(n Notifier) testManagerOption {
	return func(o *Options) { o.Notifier = n }
}

func withBudget(b int64) testManagerOption {
	return func(o *Options) { o.PayloadBudget = b }
}

func withValidator(v Validator) testManagerOption {
	return func(o *Options) { o.Validator = v }
}

func openTestManager(t *testing.T, repo *mock.QueueStateRepository, opts ...testManagerOption) *Manager {
	t.Helper()
	o := DefaultOptions()
	o.Logger = discardLogger()
	o.Now = newFakeClock().Now
	o.NewID = sequentialIDs()
	for _, opt := range opts {
		opt(&o)
	}
	m, err := Open(context.Background(), repo, o)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { drainNotifications(t, m) })
	return m
}

// drainNotifications waits for background orphan notifications to finish.
func drainNotifications(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []models.OrphanReport
	err     error
}

func (n *recordingNotifier) OrphansPurged(ctx context.Context, report models.OrphanReport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
	return n.err
}

// blockingNotifier holds every notification until its context ends.
type blockingNotifier struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{started: make(chan struct{})}
}

func (n *blockingNotifier) OrphansPurged(ctx context.Context, report models.OrphanReport) error {
	n.once.Do(func() { close(n.started) })
	<-ctx.Done()
	return ctx.Err()
}

func (n *recordingNotifier) Reports() []models.OrphanReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.OrphanReport(nil), n.reports...)
}

func ids(tasks []models.UploadTask) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

// gatedStateStore holds Save calls between Block and Unblock, signalling each held call.
type gatedStateStore struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	blocked bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStateStore() *gatedStateStore {
	return &gatedStateStore{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedStateStore) Block() {
	g.mu.Lock()
	g.blocked = true
	g.mu.Unlock()
}

func (g *gatedStateStore) Unblock() {
	g.mu.Lock()
	g.blocked = false
	g.mu.Unlock()
	close(g.release)
}

func (g *gatedStateStore) Save(ctx context.Context, key string, state []byte) error {
	g.mu.Lock()
	blocked := g.blocked
	g.mu.Unlock()
	if blocked {
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.data = append([]byte(nil), state...)
	g.saves++
	return nil
}

func (g *gatedStateStore) Load(ctx context.Context, key string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]byte(nil), g.data...), nil
}

func (g *gatedStateStore) Saves() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saves
}
