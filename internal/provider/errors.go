package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/doc-uploader/internal/domain"
)

// IngestError classifies ingestion failures as transient/permanent and carries
// the human-readable reason reported by the backend.
type IngestError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *IngestError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "ingest error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

// Is lets callers match any ingestion failure with domain.ErrItemUploadFailed.
func (e *IngestError) Is(target error) bool {
	return target == domain.ErrItemUploadFailed
}

func (e *IngestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failure is likely to succeed on a later attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var ingestErr *IngestError
	if errors.As(err, &ingestErr) {
		return ingestErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// FailureReason returns the message to record on a failed item: the backend's
// reason when it gave one, the error text otherwise.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}

	var ingestErr *IngestError
	if errors.As(err, &ingestErr) {
		if ingestErr.Message != "" {
			return ingestErr.Message
		}
		if ingestErr.Cause != nil {
			return ingestErr.Cause.Error()
		}
	}

	return err.Error()
}
