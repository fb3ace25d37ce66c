package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/doc-uploader/internal/domain"
)

// BatchFinishedEvent is the broker payload emitted once a batch finishes.
type BatchFinishedEvent struct {
	BatchID        string         `json:"batchId"`
	CorrelationID  string         `json:"correlationId,omitempty"`
	CollectionName string         `json:"collectionName"`
	Outcome        domain.Outcome `json:"outcome"`
	TotalCount     int            `json:"totalCount"`
	FailedIndices  []int          `json:"failedIndices"`
	FinishedAt     time.Time      `json:"finishedAt"`
}

func NewBatchFinishedEvent(batch domain.Batch, result *domain.BatchResult, correlationID string) BatchFinishedEvent {
	event := BatchFinishedEvent{
		BatchID:        batch.ID,
		CorrelationID:  correlationID,
		CollectionName: batch.CollectionName,
		TotalCount:     len(batch.Items),
		FailedIndices:  []int{},
		FinishedAt:     time.Now().UTC(),
	}
	if batch.FinishedAt != nil {
		event.FinishedAt = batch.FinishedAt.UTC()
	}
	if result != nil {
		event.Outcome = result.Outcome
		event.FailedIndices = append(event.FailedIndices, result.FailedIndices...)
	}
	return event
}

func (e BatchFinishedEvent) Validate() error {
	if strings.TrimSpace(e.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if strings.TrimSpace(e.CollectionName) == "" {
		return fmt.Errorf("collectionName is required")
	}
	switch e.Outcome {
	case domain.OutcomeAllSucceeded, domain.OutcomePartialFailure:
	default:
		return fmt.Errorf("invalid outcome %q", e.Outcome)
	}
	return nil
}
