package storage

import (
	"context"

	"krisha-scraper/models"
)

// ListingMirror is the interface any secondary store of emitted records must satisfy.
type ListingMirror interface {
	Write(ctx context.Context, records []*models.ListingRecord) error
	Close() error
}

// RejectionWriter is the interface for persisting rejection reports.
type RejectionWriter interface {
	WriteRejections(reports []models.RejectionReport) error
	Close() error
}

// FileUploader ships written part files somewhere else.
type FileUploader interface {
	Upload(ctx context.Context, root string, files []string) error
}

var (
	_ ListingMirror   = (*PostgresWriter)(nil)
	_ RejectionWriter = (*CSVWriter)(nil)
	_ FileUploader    = (*ObjectUploader)(nil)
)
