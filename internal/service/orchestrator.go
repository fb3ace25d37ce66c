package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/doc-uploader/internal/domain"
	"github.com/kursadbilgin/doc-uploader/internal/observability"
	"github.com/kursadbilgin/doc-uploader/internal/progress"
	"github.com/kursadbilgin/doc-uploader/internal/provider"
	"github.com/kursadbilgin/doc-uploader/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	DefaultAutoCloseDelay = 1500 * time.Millisecond

	canceledItemMessage = "batch canceled"
)

// Observer receives a copy of the batch after every state transition. It runs
// on the orchestrator goroutine and must not block for long.
type Observer func(snapshot domain.Batch)

type ingestOutcome struct {
	ack *provider.IngestAck
	err error
}

// Orchestrator uploads the items of a batch strictly one at a time. Only one
// ingestion request is outstanding at any moment, so items reach a terminal
// state in insertion order and the ingestion endpoint sees no parallel load.
type Orchestrator struct {
	ingestor       provider.Ingestor
	rateLimiter    ratelimit.RateLimiter
	estimator      progress.Estimator
	logger         *zap.Logger
	metrics        *observability.Metrics
	autoCloseAfter time.Duration
	now            func() time.Time
	newTicker      func(d time.Duration) (<-chan time.Time, func())
}

func NewOrchestrator(
	ingestor provider.Ingestor,
	rateLimiter ratelimit.RateLimiter,
	estimator progress.Estimator,
	autoCloseAfter time.Duration,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if estimator == nil {
		estimator = progress.NewTickingEstimator(progress.DefaultTickInterval)
	}
	if autoCloseAfter <= 0 {
		autoCloseAfter = DefaultAutoCloseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		ingestor:       ingestor,
		rateLimiter:    rateLimiter,
		estimator:      estimator,
		logger:         logger,
		autoCloseAfter: autoCloseAfter,
		now:            time.Now,
		newTicker:      newTimeTicker,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// Run uploads items into collectionName and reports the aggregate outcome.
// Per-item failures are recorded on the items; only an invalid batch is
// returned as an error, before any ingestion call is made.
func (o *Orchestrator) Run(
	ctx context.Context,
	collectionName string,
	items []domain.UploadItem,
	observe Observer,
) (*domain.BatchResult, error) {
	batch := &domain.Batch{
		ID:             uuid.NewString(),
		CollectionName: collectionName,
		Items:          append([]domain.UploadItem(nil), items...),
		RunState:       domain.RunStateIdle,
		CreatedAt:      o.now().UTC(),
	}
	return o.RunBatch(ctx, batch, observe)
}

// RunBatch drives an idle batch to completion. The orchestrator owns batch
// until RunBatch returns; observers only ever see snapshots.
func (o *Orchestrator) RunBatch(ctx context.Context, batch *domain.Batch, observe Observer) (*domain.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: batch is required", domain.ErrInvalidBatch)
	}
	if err := domain.ValidateBatchInput(batch.CollectionName, len(batch.Items)); err != nil {
		return nil, err
	}
	if batch.RunState != domain.RunStateIdle {
		return nil, fmt.Errorf("%w: batch %s is %s", domain.ErrConflict, batch.ID, batch.RunState)
	}
	for i := range batch.Items {
		if batch.Items[i].State != domain.ItemStateQueued {
			return nil, fmt.Errorf("%w: item %d is %s, want %s", domain.ErrInvalidBatch, i, batch.Items[i].State, domain.ItemStateQueued)
		}
	}

	notify := func() {
		if observe != nil {
			observe(batch.Snapshot())
		}
	}
	log := observability.BatchLogger(o.logger, ctx, batch.ID, batch.CollectionName)

	startedAt := o.now().UTC()
	batch.RunState = domain.RunStateRunning
	batch.StartedAt = &startedAt
	o.metrics.BatchStarted()
	log.Info("batch started", zap.Int("items", len(batch.Items)))
	notify()

	for i := range batch.Items {
		if err := ctx.Err(); err != nil {
			o.failItem(batch, i, canceledItemMessage, "canceled", 0, log)
			notify()
			continue
		}
		o.uploadItem(ctx, batch, i, notify, log)
	}

	finishedAt := o.now().UTC()
	batch.RunState = domain.RunStateFinished
	batch.FinishedAt = &finishedAt

	result := domain.NewBatchResult(batch.Items, o.autoCloseAfter)
	o.metrics.BatchFinished(result.Outcome.String())
	notify()

	if result.AllSucceeded() {
		log.Info("batch finished",
			zap.String("outcome", result.Outcome.String()),
			zap.Duration("autoCloseAfter", result.AutoCloseAfter),
		)
	} else {
		log.Warn("batch finished with partial failure",
			zap.Int("failed", len(result.FailedIndices)),
			zap.Int("total", len(batch.Items)),
			zap.Ints("failedIndices", result.FailedIndices),
		)
	}

	return result, nil
}

func (o *Orchestrator) uploadItem(ctx context.Context, batch *domain.Batch, index int, notify func(), log *zap.Logger) {
	item := &batch.Items[index]
	if err := item.Start(); err != nil {
		log.Error("item could not start", zap.Int("index", index), zap.Error(err))
		return
	}
	notify()

	if err := o.rateLimiter.Wait(ctx, batch.CollectionName); err != nil {
		if ctx.Err() != nil {
			o.failItem(batch, index, ctx.Err().Error(), "canceled", 0, log)
			notify()
			return
		}
		log.Warn("ingest rate limiter unavailable, continuing without throttling",
			zap.Int("index", index),
			zap.Error(err),
		)
	}

	file := item.File
	collection := batch.CollectionName
	done := make(chan ingestOutcome, 1)
	started := o.now()
	go func() {
		ack, err := o.ingestor.IngestFile(ctx, collection, file)
		done <- ingestOutcome{ack: ack, err: err}
	}()

	ticks, stop := o.newTicker(o.estimator.Interval())
	stop = sync.OnceFunc(stop)
	defer stop()

	var out ingestOutcome
	canceled := ctx.Done()
wait:
	for {
		select {
		case out = <-done:
			break wait
		case <-ticks:
			next := o.estimator.Next(item.ProgressPercent)
			if next > item.ProgressPercent {
				_ = item.Advance(next)
				notify()
			}
		case <-canceled:
			// The request still owns the file; its result decides the item.
			stop()
			ticks, canceled = nil, nil
			log.Info("batch canceled, waiting for in-flight upload", zap.Int("index", index))
		}
	}

	elapsed := o.now().Sub(started)
	if out.err != nil {
		o.failItem(batch, index, provider.FailureReason(out.err), failureLabel(out.err), elapsed, log)
		notify()
		return
	}
	o.completeItem(batch, index, out.ack, elapsed, log)
	notify()
}

func (o *Orchestrator) completeItem(batch *domain.Batch, index int, ack *provider.IngestAck, elapsed time.Duration, log *zap.Logger) {
	item := &batch.Items[index]
	if err := item.Complete(); err != nil {
		log.Error("item could not complete", zap.Int("index", index), zap.Error(err))
		return
	}
	o.metrics.ObserveUploadCompleted(batch.CollectionName, item.File.Size, elapsed)

	fields := []zap.Field{
		zap.Int("index", index),
		zap.String("file", item.File.Name),
		zap.Duration("elapsed", elapsed),
	}
	if ack != nil && ack.DocumentID != "" {
		fields = append(fields, zap.String("documentId", ack.DocumentID))
	}
	log.Info("upload completed", fields...)
}

func (o *Orchestrator) failItem(batch *domain.Batch, index int, message string, reason string, elapsed time.Duration, log *zap.Logger) {
	item := &batch.Items[index]
	if err := item.Fail(message); err != nil {
		log.Error("item could not fail", zap.Int("index", index), zap.Error(err))
		return
	}
	o.metrics.ObserveUploadFailed(batch.CollectionName, reason, elapsed)

	log.Warn("upload failed",
		zap.Int("index", index),
		zap.String("file", item.File.Name),
		zap.String("reason", reason),
		zap.String("error", item.ErrorMessage),
	)
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case provider.IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}

func newTimeTicker(d time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(d)
	return ticker.C, ticker.Stop
}
