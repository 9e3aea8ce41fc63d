package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const recordColumns = `id, url, destination, resume, status, bytes_written, resumed_from, attempts, error, instance, created_at, updated_at`

// DownloadRepository implements storage.DownloadRepository on SQLite.
type DownloadRepository struct {
	*DownloadReadRepository
	*DownloadWriteRepository
}

var _ storage.DownloadRepository = (*DownloadRepository)(nil)

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{
		DownloadReadRepository:  NewDownloadReadRepository(dbConn),
		DownloadWriteRepository: NewDownloadWriteRepository(dbConn),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*storage.DownloadRecord, error) {
	var (
		record               storage.DownloadRecord
		status               string
		createdAt, updatedAt string
	)

	if err := row.Scan(
		&record.ID, &record.URL, &record.Destination, &record.Resume, &status,
		&record.BytesWritten, &record.ResumedFrom, &record.Attempts, &record.Error, &record.Instance,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	record.Status = storage.Status(status)

	var err error

	if record.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}

	if record.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at %q: %w", updatedAt, err)
	}

	return &record, nil
}
