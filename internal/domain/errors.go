package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidBatch      = errors.New("invalid batch")
	ErrIntakeRejected    = errors.New("intake rejected")
	ErrItemUploadFailed  = errors.New("item upload failed")
	ErrBatchRunning      = errors.New("batch is running")
	ErrInvalidTransition = errors.New("invalid state transition")
)
