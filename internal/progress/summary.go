package progress

import "github.com/kursadbilgin/doc-uploader/internal/domain"

// Summary is the aggregate display state of a batch.
type Summary struct {
	Queued         int   `json:"queued"`
	Uploading      int   `json:"uploading"`
	Completed      int   `json:"completed"`
	Failed         int   `json:"failed"`
	TotalBytes     int64 `json:"totalBytes"`
	CompletedBytes int64 `json:"completedBytes"`
}

// Summarize recomputes the summary from the current item states. It keeps
// no state between calls.
func Summarize(items []domain.UploadItem) Summary {
	var s Summary
	for i := range items {
		item := items[i]
		s.TotalBytes += item.File.Size

		switch item.State {
		case domain.ItemStateQueued:
			s.Queued++
		case domain.ItemStateUploading:
			s.Uploading++
		case domain.ItemStateCompleted:
			s.Completed++
			s.CompletedBytes += item.File.Size
		case domain.ItemStateFailed:
			s.Failed++
		}
	}
	return s
}

func (s Summary) Total() int {
	return s.Queued + s.Uploading + s.Completed + s.Failed
}

// Processed counts items in a terminal state.
func (s Summary) Processed() int {
	return s.Completed + s.Failed
}

// Percent is the share of processed items, 0-100.
func (s Summary) Percent() int {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return s.Processed() * 100 / total
}

func (s Summary) Done() bool {
	return s.Total() > 0 && s.Processed() == s.Total()
}
