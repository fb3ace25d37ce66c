package domain

import (
	"fmt"
	"strings"
	"time"
)

// RunState represents the processing state of a batch.
type RunState string

const (
	RunStateIdle     RunState = "IDLE"
	RunStateRunning  RunState = "RUNNING"
	RunStateFinished RunState = "FINISHED"
)

func (s RunState) String() string { return string(s) }

func (s RunState) IsValid() bool {
	switch s {
	case RunStateIdle, RunStateRunning, RunStateFinished:
		return true
	}
	return false
}

// Outcome is the aggregate result of a finished batch.
type Outcome string

const (
	OutcomeAllSucceeded   Outcome = "ALL_SUCCEEDED"
	OutcomePartialFailure Outcome = "PARTIAL_FAILURE"
)

func (o Outcome) String() string { return string(o) }

// Collection is a target collection exposed by the ingestion backend.
type Collection struct {
	ID   string
	Name string
}

// Batch groups the files uploaded together into one collection.
type Batch struct {
	ID             string
	CollectionName string
	Items          []UploadItem
	RunState       RunState
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// BatchResult is reported once every item of a batch is terminal.
type BatchResult struct {
	Outcome        Outcome
	FailedIndices  []int
	AutoClose      bool
	AutoCloseAfter time.Duration
}

func (r *BatchResult) AllSucceeded() bool {
	return r != nil && r.Outcome == OutcomeAllSucceeded
}

// NewBatchResult derives the outcome from terminal item states.
func NewBatchResult(items []UploadItem, autoCloseAfter time.Duration) *BatchResult {
	failed := make([]int, 0)
	for i := range items {
		if items[i].State != ItemStateCompleted {
			failed = append(failed, i)
		}
	}

	if len(failed) == 0 {
		return &BatchResult{
			Outcome:        OutcomeAllSucceeded,
			FailedIndices:  failed,
			AutoClose:      true,
			AutoCloseAfter: autoCloseAfter,
		}
	}

	return &BatchResult{
		Outcome:       OutcomePartialFailure,
		FailedIndices: failed,
	}
}

func ValidateBatchInput(collectionName string, itemCount int) error {
	if strings.TrimSpace(collectionName) == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidBatch)
	}
	if itemCount == 0 {
		return fmt.Errorf("%w: batch must include at least one file", ErrInvalidBatch)
	}
	return nil
}

// Snapshot returns a copy that observers can keep without sharing the item slice.
func (b *Batch) Snapshot() Batch {
	if b == nil {
		return Batch{}
	}

	out := *b
	out.Items = append([]UploadItem(nil), b.Items...)
	if b.StartedAt != nil {
		t := *b.StartedAt
		out.StartedAt = &t
	}
	if b.FinishedAt != nil {
		t := *b.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func (b *Batch) Files() []FileHandle {
	files := make([]FileHandle, 0, len(b.Items))
	for _, item := range b.Items {
		files = append(files, item.File)
	}
	return files
}

// FailedFiles returns the files of failed items in batch order.
func (b *Batch) FailedFiles() []FileHandle {
	files := make([]FileHandle, 0)
	for _, item := range b.Items {
		if item.State == ItemStateFailed {
			files = append(files, item.File)
		}
	}
	return files
}
