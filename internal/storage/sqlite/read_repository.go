package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
)

type DownloadReadRepository struct {
	db *sql.DB
}

func NewDownloadReadRepository(dbConn *sql.DB) *DownloadReadRepository {
	return &DownloadReadRepository{db: dbConn}
}

func (r *DownloadReadRepository) Get(ctx context.Context, id string) (*storage.DownloadRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM downloads WHERE id = ?`, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	return record, err
}

func (r *DownloadReadRepository) List(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM downloads ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	return collect(rows)
}

// ListFailedBefore returns failed downloads whose last update happened before t.
func (r *DownloadReadRepository) ListFailedBefore(ctx context.Context, t time.Time) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+`
		FROM downloads
		WHERE status = ?
		AND updated_at < ?
		ORDER BY updated_at`,
		string(storage.StatusFailed), formatTime(t))
	if err != nil {
		return nil, err
	}

	return collect(rows)
}

func (r *DownloadReadRepository) LatestForDestination(ctx context.Context, destination string) (*storage.DownloadRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+`
		FROM downloads
		WHERE destination = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`,
		destination)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	return record, err
}

func collect(rows *sql.Rows) ([]storage.DownloadRecord, error) {
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, *record)
	}

	return downloads, rows.Err()
}
