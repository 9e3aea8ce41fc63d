package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record matches the requested ID.
var ErrNotFound = errors.New("download record not found")

// Status is the lifecycle state of a download record.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusFailed      Status = "failed"
)

// DownloadRecord tracks one requested download across all of its attempts.
type DownloadRecord struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Destination string    `json:"destination"`
	Resume      bool      `json:"resume"`
	Status      Status    `json:"status"`
	// BytesWritten accumulates the bytes written by every attempt.
	BytesWritten int64 `json:"bytes_written"`
	// ResumedFrom is the destination size when the latest attempt started.
	ResumedFrom int64     `json:"resumed_from"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	Instance    string    `json:"instance"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type DownloadReadRepository interface {
	Get(ctx context.Context, id string) (*DownloadRecord, error)
	// List returns the most recently created records first.
	List(ctx context.Context, limit int) ([]DownloadRecord, error)
	// ListFailedBefore returns failed records last updated before t.
	ListFailedBefore(ctx context.Context, t time.Time) ([]DownloadRecord, error)
	// LatestForDestination returns the most recently created record writing destination,
	// or ErrNotFound.
	LatestForDestination(ctx context.Context, destination string) (*DownloadRecord, error)
}

type DownloadWriteRepository interface {
	Create(ctx context.Context, record *DownloadRecord) error
	MarkDownloading(ctx context.Context, id string, resumedFrom int64) error
	MarkFinished(ctx context.Context, id string, bytesWritten int64, attempts int) error
	MarkFailed(ctx context.Context, id string, bytesWritten int64, attempts int, errMsg string) error
	Delete(ctx context.Context, id string) error
}

// DownloadRepository is the full history store.
type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
