package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

var _ storage.DownloadRepository = (*InstrumentedDownloadRepository)(nil)

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) Get(ctx context.Context, id string) (*storage.DownloadRecord, error) {
	var result *storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_download", func(ctx context.Context) error {
		var err error

		result, err = r.repo.Get(ctx, id)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) List(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_downloads", func(ctx context.Context) error {
		var err error

		result, err = r.repo.List(ctx, limit)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) ListFailedBefore(ctx context.Context, t time.Time) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_failed_downloads", func(ctx context.Context) error {
		var err error

		result, err = r.repo.ListFailedBefore(ctx, t)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) LatestForDestination(ctx context.Context, destination string) (*storage.DownloadRecord, error) {
	var result *storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "latest_download_for_destination", func(ctx context.Context) error {
		var err error

		result, err = r.repo.LatestForDestination(ctx, destination)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) Create(ctx context.Context, record *storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "create_download", func(ctx context.Context) error {
		return r.repo.Create(ctx, record)
	})
}

func (r *InstrumentedDownloadRepository) MarkDownloading(ctx context.Context, id string, resumedFrom int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_downloading", func(ctx context.Context) error {
		return r.repo.MarkDownloading(ctx, id, resumedFrom)
	})
}

func (r *InstrumentedDownloadRepository) MarkFinished(ctx context.Context, id string, bytesWritten int64, attempts int) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_finished", func(ctx context.Context) error {
		return r.repo.MarkFinished(ctx, id, bytesWritten, attempts)
	})
}

func (r *InstrumentedDownloadRepository) MarkFailed(ctx context.Context, id string, bytesWritten int64, attempts int, errMsg string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_failed", func(ctx context.Context) error {
		return r.repo.MarkFailed(ctx, id, bytesWritten, attempts, errMsg)
	})
}

func (r *InstrumentedDownloadRepository) Delete(ctx context.Context, id string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_download", func(ctx context.Context) error {
		return r.repo.Delete(ctx, id)
	})
}
