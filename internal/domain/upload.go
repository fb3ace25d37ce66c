package domain

import (
	"fmt"
	"strings"
)

// ItemState represents the lifecycle state of a single upload item.
type ItemState string

const (
	ItemStateQueued    ItemState = "QUEUED"
	ItemStateUploading ItemState = "UPLOADING"
	ItemStateCompleted ItemState = "COMPLETED"
	ItemStateFailed    ItemState = "FAILED"
)

func (s ItemState) String() string { return string(s) }

func (s ItemState) IsValid() bool {
	switch s {
	case ItemStateQueued, ItemStateUploading, ItemStateCompleted, ItemStateFailed:
		return true
	}
	return false
}

func (s ItemState) IsTerminal() bool {
	return s == ItemStateCompleted || s == ItemStateFailed
}

func ParseItemStateFromString(s string) (ItemState, error) {
	st := ItemState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid item state %q", ErrValidation, s)
	}
	return st, nil
}

const (
	MinProgressPercent = 0
	MaxProgressPercent = 100
)

// UploadItem tracks one file's upload lifecycle within a batch.
type UploadItem struct {
	File            FileHandle
	State           ItemState
	ProgressPercent int
	ErrorMessage    string
}

func NewUploadItem(file FileHandle) UploadItem {
	return UploadItem{
		File:  file,
		State: ItemStateQueued,
	}
}

// NewUploadItems creates fresh queued items in file order.
func NewUploadItems(files []FileHandle) []UploadItem {
	items := make([]UploadItem, 0, len(files))
	for _, f := range files {
		items = append(items, NewUploadItem(f))
	}
	return items
}

func (i *UploadItem) Start() error {
	if i.State != ItemStateQueued {
		return i.transitionError(ItemStateUploading)
	}
	i.State = ItemStateUploading
	i.ProgressPercent = MinProgressPercent
	i.ErrorMessage = ""
	return nil
}

// Advance raises progress while uploading. Lower values are ignored so the
// percentage never moves backwards.
func (i *UploadItem) Advance(percent int) error {
	if i.State != ItemStateUploading {
		return i.transitionError(ItemStateUploading)
	}
	if percent > MaxProgressPercent {
		percent = MaxProgressPercent
	}
	if percent > i.ProgressPercent {
		i.ProgressPercent = percent
	}
	return nil
}

func (i *UploadItem) Complete() error {
	if i.State != ItemStateUploading {
		return i.transitionError(ItemStateCompleted)
	}
	i.State = ItemStateCompleted
	i.ProgressPercent = MaxProgressPercent
	return nil
}

// Fail moves the item to its terminal failed state. Queued items may fail
// directly when the batch is canceled before they start.
func (i *UploadItem) Fail(message string) error {
	if i.State != ItemStateUploading && i.State != ItemStateQueued {
		return i.transitionError(ItemStateFailed)
	}
	if message == "" {
		message = "upload failed"
	}
	i.State = ItemStateFailed
	i.ProgressPercent = MinProgressPercent
	i.ErrorMessage = message
	return nil
}

func (i *UploadItem) transitionError(to ItemState) error {
	return fmt.Errorf("%w: %s -> %s for %q", ErrInvalidTransition, i.State, to, i.File.Name)
}
