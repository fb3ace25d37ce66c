package intake

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/doc-uploader/internal/domain"
)

// allowedExtensions is the fixed set of document types the ingestion backend accepts.
var allowedExtensions = map[string]struct{}{
	"pdf":  {},
	"txt":  {},
	"md":   {},
	"docx": {},
	"doc":  {},
	"json": {},
	"csv":  {},
}

// AllowedExtensions returns the accepted extensions in display order.
func AllowedExtensions() []string {
	return []string{"pdf", "txt", "md", "docx", "doc", "json", "csv"}
}

func IsAllowed(file domain.FileHandle) bool {
	ext := file.Extension()
	if ext == "" {
		return false
	}
	_, ok := allowedExtensions[ext]
	return ok
}

// Result partitions one AddFiles call.
type Result struct {
	Accepted []domain.FileHandle
	Rejected []domain.FileHandle
}

// Warning reports rejected files so callers never drop them silently.
func (r Result) Warning() error {
	if len(r.Rejected) == 0 {
		return nil
	}

	names := make([]string, 0, len(r.Rejected))
	for _, f := range r.Rejected {
		names = append(names, f.Name)
	}

	allowed := strings.Join(AllowedExtensions(), ", ")
	if len(r.Accepted) == 0 {
		return fmt.Errorf("%w: no supported files selected (allowed: %s): %s",
			domain.ErrIntakeRejected, allowed, strings.Join(names, ", "))
	}
	return fmt.Errorf("%w: %d file(s) skipped, only %s are supported: %s",
		domain.ErrIntakeRejected, len(r.Rejected), allowed, strings.Join(names, ", "))
}

// RunStateFunc reports the run state of the batch the intake feeds.
type RunStateFunc func() domain.RunState

// FileIntake accumulates candidate files for a batch that has not started yet.
type FileIntake struct {
	files    []domain.FileHandle
	runState RunStateFunc
}

func New(runState RunStateFunc) *FileIntake {
	if runState == nil {
		runState = func() domain.RunState { return domain.RunStateIdle }
	}
	return &FileIntake{runState: runState}
}

func (in *FileIntake) AddFiles(candidates []domain.FileHandle) (Result, error) {
	if in.runState() == domain.RunStateRunning {
		return Result{}, fmt.Errorf("%w: files cannot be added", domain.ErrBatchRunning)
	}

	result := Result{
		Accepted: make([]domain.FileHandle, 0, len(candidates)),
		Rejected: make([]domain.FileHandle, 0),
	}
	for _, candidate := range candidates {
		if IsAllowed(candidate) {
			result.Accepted = append(result.Accepted, candidate)
			continue
		}
		result.Rejected = append(result.Rejected, candidate)
	}

	in.files = append(in.files, result.Accepted...)
	return result, nil
}

func (in *FileIntake) RemoveFile(index int) error {
	if state := in.runState(); state != domain.RunStateIdle {
		return fmt.Errorf("%w: files cannot be removed while batch is %s", domain.ErrBatchRunning, state)
	}
	if index < 0 || index >= len(in.files) {
		return fmt.Errorf("%w: file index %d out of range [0,%d)", domain.ErrValidation, index, len(in.files))
	}

	in.files = append(in.files[:index], in.files[index+1:]...)
	return nil
}

func (in *FileIntake) Files() []domain.FileHandle {
	return append([]domain.FileHandle(nil), in.files...)
}

func (in *FileIntake) Len() int {
	return len(in.files)
}

// Reset drops every pending file, e.g. after the batch has been handed off.
func (in *FileIntake) Reset() {
	in.files = nil
}
