package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/doc-uploader/internal/domain"
	"github.com/kursadbilgin/doc-uploader/internal/provider"
	"github.com/kursadbilgin/doc-uploader/internal/queue"
)

type fakeIngestor struct {
	mu                sync.Mutex
	calls             []string
	ingestFn          func(ctx context.Context, collectionName string, file domain.FileHandle) (*provider.IngestAck, error)
	listCollectionsFn func(ctx context.Context) ([]domain.Collection, error)
}

func (f *fakeIngestor) IngestFile(ctx context.Context, collectionName string, file domain.FileHandle) (*provider.IngestAck, error) {
	f.mu.Lock()
	f.calls = append(f.calls, file.Name)
	f.mu.Unlock()

	if f.ingestFn != nil {
		return f.ingestFn(ctx, collectionName, file)
	}
	return &provider.IngestAck{StatusCode: 201, DocumentID: "doc-" + file.Name}, nil
}

func (f *fakeIngestor) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	if f.listCollectionsFn != nil {
		return f.listCollectionsFn(ctx)
	}
	return []domain.Collection{{ID: "1", Name: "docs"}}, nil
}

func (f *fakeIngestor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeRateLimiter struct {
	mu     sync.Mutex
	keys   []string
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()

	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	events    []queue.BatchFinishedEvent
	publishFn func(ctx context.Context, event queue.BatchFinishedEvent) error
}

func (f *fakePublisher) Publish(ctx context.Context, event queue.BatchFinishedEvent) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()

	if f.publishFn != nil {
		return f.publishFn(ctx, event)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) Events() []queue.BatchFinishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.BatchFinishedEvent(nil), f.events...)
}

// snapshotRecorder collects observer snapshots; reads happen after Run returns.
type snapshotRecorder struct {
	snapshots []domain.Batch
}

func (r *snapshotRecorder) observe(snapshot domain.Batch) {
	r.snapshots = append(r.snapshots, snapshot)
}

func (r *snapshotRecorder) last() domain.Batch {
	if len(r.snapshots) == 0 {
		return domain.Batch{}
	}
	return r.snapshots[len(r.snapshots)-1]
}

func memoryFiles(names ...string) []domain.FileHandle {
	files := make([]domain.FileHandle, 0, len(names))
	for _, name := range names {
		files = append(files, domain.NewMemoryFile(name, "", []byte("content of "+name)))
	}
	return files
}

// noTicks disables simulated progress so tests only observe real transitions.
func noTicks(time.Duration) (<-chan time.Time, func()) {
	return nil, func() {}
}
