package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/doc-uploader/internal/domain"
	"github.com/kursadbilgin/doc-uploader/internal/intake"
	"github.com/kursadbilgin/doc-uploader/internal/observability"
	"github.com/kursadbilgin/doc-uploader/internal/progress"
	"github.com/kursadbilgin/doc-uploader/internal/provider"
	"github.com/kursadbilgin/doc-uploader/internal/queue"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// BatchView is a point-in-time read model of a batch.
type BatchView struct {
	Batch   domain.Batch
	Summary progress.Summary
	Result  *domain.BatchResult
}

type draft struct {
	view          domain.Batch
	intake        *intake.FileIntake
	result        *domain.BatchResult
	correlationID string
}

// UploadService keeps batches in memory from selection through completion.
// Each started batch runs on its own goroutine; the service only stores the
// snapshots the orchestrator reports.
type UploadService struct {
	mu     sync.RWMutex
	drafts map[string]*draft

	orchestrator *Orchestrator
	ingestor     provider.Ingestor
	publisher    queue.Publisher
	logger       *zap.Logger
	now          func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewUploadService(
	orchestrator *Orchestrator,
	ingestor provider.Ingestor,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*UploadService, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &UploadService{
		drafts:       make(map[string]*draft),
		orchestrator: orchestrator,
		ingestor:     ingestor,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
		baseCtx:      baseCtx,
		cancel:       cancel,
	}, nil
}

func (s *UploadService) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	collections, err := s.ingestor.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return collections, nil
}

// CreateBatch opens an idle batch. The collection may be chosen later.
func (s *UploadService) CreateBatch(ctx context.Context, collectionName string) (*BatchView, error) {
	collectionName = strings.TrimSpace(collectionName)
	if collectionName != "" {
		if err := s.ensureCollection(ctx, collectionName); err != nil {
			return nil, err
		}
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	d := s.newDraft(collectionName, correlationID)

	s.mu.Lock()
	s.drafts[d.view.ID] = d
	view := d.toView()
	s.mu.Unlock()

	s.logger.Info("batch created",
		zap.String("batchId", view.Batch.ID),
		zap.String("collection", collectionName),
	)
	return view, nil
}

func (s *UploadService) SetCollection(ctx context.Context, batchID string, collectionName string) (*BatchView, error) {
	collectionName = strings.TrimSpace(collectionName)
	if collectionName == "" {
		return nil, fmt.Errorf("%w: collection name is required", domain.ErrValidation)
	}
	if err := s.ensureCollection(ctx, collectionName); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.draftLocked(batchID)
	if err != nil {
		return nil, err
	}
	if d.view.RunState != domain.RunStateIdle {
		return nil, fmt.Errorf("%w: collection cannot change while batch is %s", domain.ErrBatchRunning, d.view.RunState)
	}

	d.view.CollectionName = collectionName
	return d.toView(), nil
}

// AddFiles runs the candidates through intake. Rejected files are reported in
// the result rather than as an error.
func (s *UploadService) AddFiles(ctx context.Context, batchID string, files []domain.FileHandle) (*BatchView, intake.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.draftLocked(batchID)
	if err != nil {
		return nil, intake.Result{}, err
	}
	if d.view.RunState == domain.RunStateFinished {
		return nil, intake.Result{}, fmt.Errorf("%w: batch %s already finished, retry failed files instead", domain.ErrConflict, batchID)
	}

	result, err := d.intake.AddFiles(files)
	if err != nil {
		return nil, intake.Result{}, err
	}
	d.syncItems()

	if len(result.Rejected) > 0 {
		s.logger.Warn("files rejected by intake",
			zap.String("batchId", batchID),
			zap.Int("accepted", len(result.Accepted)),
			zap.Int("rejected", len(result.Rejected)),
		)
	}
	return d.toView(), result, nil
}

func (s *UploadService) RemoveFile(ctx context.Context, batchID string, index int) (*BatchView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.draftLocked(batchID)
	if err != nil {
		return nil, err
	}
	if err := d.intake.RemoveFile(index); err != nil {
		return nil, err
	}
	d.syncItems()
	return d.toView(), nil
}

// Discard drops a batch that is not running.
func (s *UploadService) Discard(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.draftLocked(batchID)
	if err != nil {
		return err
	}
	if d.view.RunState == domain.RunStateRunning {
		return fmt.Errorf("%w: batch %s cannot be discarded", domain.ErrBatchRunning, batchID)
	}
	delete(s.drafts, batchID)
	return nil
}

// Start hands the batch to the orchestrator and returns immediately. Progress
// is visible through Get.
func (s *UploadService) Start(ctx context.Context, batchID string) (*BatchView, error) {
	s.mu.Lock()
	if s.baseCtx.Err() != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: upload service is shutting down", domain.ErrConflict)
	}
	d, err := s.draftLocked(batchID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if d.view.RunState != domain.RunStateIdle {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: batch %s is %s", domain.ErrConflict, batchID, d.view.RunState)
	}
	if err := domain.ValidateBatchInput(d.view.CollectionName, d.intake.Len()); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	batch := &domain.Batch{
		ID:             d.view.ID,
		CollectionName: d.view.CollectionName,
		Items:          domain.NewUploadItems(d.intake.Files()),
		RunState:       domain.RunStateIdle,
		CreatedAt:      d.view.CreatedAt,
	}
	d.view = batch.Snapshot()
	d.view.RunState = domain.RunStateRunning
	if cid, ok := observability.CorrelationIDFromContext(ctx); ok {
		d.correlationID = cid
	}
	view := d.toView()
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(d, batch)
	return view, nil
}

func (s *UploadService) run(d *draft, batch *domain.Batch) {
	defer s.wg.Done()

	ctx := observability.WithCorrelationID(s.baseCtx, d.correlationID)
	result, err := s.orchestrator.RunBatch(ctx, batch, func(snapshot domain.Batch) {
		s.mu.Lock()
		d.view = snapshot
		s.mu.Unlock()
	})
	if err != nil {
		s.logger.Error("batch run rejected",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
		s.mu.Lock()
		d.view.RunState = domain.RunStateIdle
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	d.result = result
	d.intake.Reset()
	final := d.view
	s.mu.Unlock()

	s.publishFinished(ctx, final, result, d.correlationID)
}

func (s *UploadService) publishFinished(ctx context.Context, batch domain.Batch, result *domain.BatchResult, correlationID string) {
	if s.publisher == nil {
		return
	}

	event := queue.NewBatchFinishedEvent(batch, result, correlationID)
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.Error("failed to publish batch finished event",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
	}
}

func (s *UploadService) Get(ctx context.Context, batchID string) (*BatchView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := s.draftLocked(batchID)
	if err != nil {
		return nil, err
	}
	return d.toView(), nil
}

// RetryFailed opens a new idle batch holding the failed files of a finished
// one, in their original order.
func (s *UploadService) RetryFailed(ctx context.Context, batchID string) (*BatchView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.draftLocked(batchID)
	if err != nil {
		return nil, err
	}
	if d.view.RunState != domain.RunStateFinished {
		return nil, fmt.Errorf("%w: batch %s is %s", domain.ErrConflict, batchID, d.view.RunState)
	}

	failed := d.view.FailedFiles()
	if len(failed) == 0 {
		return nil, fmt.Errorf("%w: batch %s has no failed files", domain.ErrConflict, batchID)
	}

	retry := s.newDraft(d.view.CollectionName, d.correlationID)
	if _, err := retry.intake.AddFiles(failed); err != nil {
		return nil, err
	}
	retry.syncItems()
	s.drafts[retry.view.ID] = retry

	s.logger.Info("retry batch created",
		zap.String("batchId", retry.view.ID),
		zap.String("retryOf", batchID),
		zap.Int("items", len(failed)),
	)
	return retry.toView(), nil
}

// Shutdown cancels running batches and waits for their goroutines.
func (s *UploadService) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *UploadService) ensureCollection(ctx context.Context, collectionName string) error {
	collections, err := s.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, c := range collections {
		if c.Name == collectionName {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown collection %q", domain.ErrValidation, collectionName)
}

func (s *UploadService) newDraft(collectionName string, correlationID string) *draft {
	d := &draft{
		view: domain.Batch{
			ID:             uuid.NewString(),
			CollectionName: collectionName,
			Items:          []domain.UploadItem{},
			RunState:       domain.RunStateIdle,
			CreatedAt:      s.now().UTC(),
		},
		correlationID: correlationID,
	}
	d.intake = intake.New(func() domain.RunState { return d.view.RunState })
	return d
}

func (s *UploadService) draftLocked(batchID string) (*draft, error) {
	d, ok := s.drafts[strings.TrimSpace(batchID)]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	}
	return d, nil
}

func (d *draft) syncItems() {
	d.view.Items = domain.NewUploadItems(d.intake.Files())
}

func (d *draft) toView() *BatchView {
	snapshot := d.view.Snapshot()
	view := &BatchView{
		Batch:   snapshot,
		Summary: progress.Summarize(snapshot.Items),
	}
	if d.result != nil {
		r := *d.result
		r.FailedIndices = append([]int(nil), d.result.FailedIndices...)
		view.Result = &r
	}
	return view
}
