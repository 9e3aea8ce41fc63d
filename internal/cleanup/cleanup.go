package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/spf13/afero"
)

// History finds the record that currently owns a destination.
type History interface {
	LatestForDestination(ctx context.Context, destination string) (*storage.DownloadRecord, error)
}

// Guard protects destinations that no longer belong to an expired record. Nil fields
// disable the matching check.
type Guard struct {
	// History is consulted so a file written by a newer download of the same destination
	// is kept. The expired record is still reported as cleaned.
	History History
	// Busy reports destinations a running job writes. They are left for a later pass.
	Busy func(path string) bool
}

// DeleteExpiredPartials deletes the partial files of downloads that failed more than keep
// ago and returns the records that can be forgotten. Missing files count as deleted.
func DeleteExpiredPartials(ctx context.Context, fsys afero.Fs, records []storage.DownloadRecord, keep time.Duration, guard Guard) ([]storage.DownloadRecord, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	var (
		cleaned []storage.DownloadRecord
		errs    []error
	)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}

		if rec.Status != storage.StatusFailed || now.Sub(rec.UpdatedAt) <= keep {
			continue
		}

		if guard.Busy != nil && guard.Busy(rec.Destination) {
			logger.DebugContext(ctx, "destination is being downloaded, skipping cleanup",
				"download_id", rec.ID, "file", rec.Destination)

			continue
		}

		superseded, err := supersededBy(ctx, guard.History, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("look up owner of %s: %w", rec.Destination, err))

			continue
		}

		if superseded != nil {
			logger.InfoContext(ctx, "destination reused by a newer download, keeping file",
				"download_id", rec.ID, "owner_id", superseded.ID, "owner_status", superseded.Status, "file", rec.Destination)

			cleaned = append(cleaned, rec)

			continue
		}

		if err := fsys.Remove(rec.Destination); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.ErrorContext(ctx, "failed to delete expired partial file", "file", rec.Destination, "err", err)
				errs = append(errs, fmt.Errorf("delete %s: %w", rec.Destination, err))

				continue
			}

			logger.DebugContext(ctx, "partial file already gone", "file", rec.Destination)
		} else {
			logger.InfoContext(ctx, "deleted expired partial file", "download_id", rec.ID, "file", rec.Destination)
		}

		cleaned = append(cleaned, rec)
	}

	return cleaned, errors.Join(errs...)
}

// supersededBy returns the newer record owning rec's destination, if any.
func supersededBy(ctx context.Context, history History, rec storage.DownloadRecord) (*storage.DownloadRecord, error) {
	if history == nil {
		return nil, nil
	}

	latest, err := history.LatestForDestination(ctx, rec.Destination)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if latest.ID == rec.ID {
		return nil, nil
	}

	return latest, nil
}
