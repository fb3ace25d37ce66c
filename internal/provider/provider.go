package provider

import (
	"context"

	"github.com/kursadbilgin/doc-uploader/internal/domain"
)

// Ingestor is the outbound port to the document ingestion backend.
type Ingestor interface {
	ListCollections(ctx context.Context) ([]domain.Collection, error)
	IngestFile(ctx context.Context, collectionName string, file domain.FileHandle) (*IngestAck, error)
}

// IngestAck stores backend response metadata for a single ingested file.
type IngestAck struct {
	StatusCode int
	DocumentID string
	Body       string
}
