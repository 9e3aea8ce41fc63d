package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
)

// DownloadWriteRepository implements storage.DownloadWriteRepository
// and stores download records in SQLite.
type DownloadWriteRepository struct {
	db *sql.DB
	// now is replaced in tests.
	now func() time.Time
}

func NewDownloadWriteRepository(db *sql.DB) *DownloadWriteRepository {
	return &DownloadWriteRepository{db: db, now: time.Now}
}

// Create inserts record as pending and fills its timestamps.
func (r *DownloadWriteRepository) Create(ctx context.Context, record *storage.DownloadRecord) error {
	now := r.now().UTC()

	record.Status = storage.StatusPending
	record.CreatedAt = now
	record.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.URL, record.Destination, record.Resume, string(record.Status),
		record.BytesWritten, record.ResumedFrom, record.Attempts, record.Error, record.Instance,
		formatTime(now), formatTime(now),
	)

	return err
}

// MarkDownloading records the start of an attempt resuming from resumedFrom bytes.
func (r *DownloadWriteRepository) MarkDownloading(ctx context.Context, id string, resumedFrom int64) error {
	return r.update(ctx,
		`UPDATE downloads SET status = ?, resumed_from = ?, updated_at = ? WHERE id = ?`,
		string(storage.StatusDownloading), resumedFrom, formatTime(r.now()), id)
}

func (r *DownloadWriteRepository) MarkFinished(ctx context.Context, id string, bytesWritten int64, attempts int) error {
	return r.update(ctx,
		`UPDATE downloads SET status = ?, bytes_written = ?, attempts = ?, error = '', updated_at = ? WHERE id = ?`,
		string(storage.StatusDownloaded), bytesWritten, attempts, formatTime(r.now()), id)
}

func (r *DownloadWriteRepository) MarkFailed(ctx context.Context, id string, bytesWritten int64, attempts int, errMsg string) error {
	return r.update(ctx,
		`UPDATE downloads SET status = ?, bytes_written = ?, attempts = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(storage.StatusFailed), bytesWritten, attempts, errMsg, formatTime(r.now()), id)
}

func (r *DownloadWriteRepository) Delete(ctx context.Context, id string) error {
	return r.update(ctx, `DELETE FROM downloads WHERE id = ?`, id)
}

func (r *DownloadWriteRepository) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}
