package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/storage/sqlite"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteExpiredPartials(t *testing.T) {
	fsys := afero.NewMemMapFs()
	old := time.Now().Add(-48 * time.Hour)

	for _, name := range []string{"/data/old.bin", "/data/recent.bin", "/data/done.bin"} {
		require.NoError(t, afero.WriteFile(fsys, name, []byte("partial"), 0o644))
	}

	records := []storage.DownloadRecord{
		{ID: "old", Destination: "/data/old.bin", Status: storage.StatusFailed, UpdatedAt: old},
		{ID: "gone", Destination: "/data/gone.bin", Status: storage.StatusFailed, UpdatedAt: old},
		{ID: "recent", Destination: "/data/recent.bin", Status: storage.StatusFailed, UpdatedAt: time.Now()},
		{ID: "done", Destination: "/data/done.bin", Status: storage.StatusDownloaded, UpdatedAt: old},
	}

	cleaned, err := DeleteExpiredPartials(context.Background(), fsys, records, 24*time.Hour, Guard{})
	require.NoError(t, err)

	var ids []string
	for _, rec := range cleaned {
		ids = append(ids, rec.ID)
	}

	assert.Equal(t, []string{"old", "gone"}, ids)

	exists, _ := afero.Exists(fsys, "/data/old.bin")
	assert.False(t, exists)

	exists, _ = afero.Exists(fsys, "/data/recent.bin")
	assert.True(t, exists)

	exists, _ = afero.Exists(fsys, "/data/done.bin")
	assert.True(t, exists, "finished downloads are never touched")
}

func TestDeleteExpiredPartials_ReadOnlyFs(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "/data/old.bin", []byte("partial"), 0o644))

	records := []storage.DownloadRecord{
		{ID: "old", Destination: "/data/old.bin", Status: storage.StatusFailed, UpdatedAt: time.Now().Add(-48 * time.Hour)},
	}

	cleaned, err := DeleteExpiredPartials(context.Background(), afero.NewReadOnlyFs(base), records, time.Hour, Guard{})
	require.Error(t, err)
	assert.Empty(t, cleaned)
}

func TestDeleteExpiredPartials_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records := []storage.DownloadRecord{{ID: "a", Status: storage.StatusFailed}}

	_, err := DeleteExpiredPartials(ctx, afero.NewMemMapFs(), records, 0, Guard{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeleteExpiredPartials_KeepsReusedDestination(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.InitDB(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewDownloadRepository(db)

	failed := &storage.DownloadRecord{ID: "a", URL: "http://example.com/a", Destination: "/data/a.bin"}
	require.NoError(t, repo.Create(ctx, failed))
	require.NoError(t, repo.MarkFailed(ctx, "a", 10, 3, "server returned 503"))

	finished := &storage.DownloadRecord{ID: "b", URL: "http://example.com/a", Destination: "/data/a.bin"}
	require.NoError(t, repo.Create(ctx, finished))
	require.NoError(t, repo.MarkFinished(ctx, "b", 1000, 1))

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/data/a.bin", make([]byte, 1000), 0o644))

	expired, err := repo.ListFailedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)

	expired[0].UpdatedAt = time.Now().Add(-48 * time.Hour)

	cleaned, err := DeleteExpiredPartials(ctx, fsys, expired, 24*time.Hour, Guard{History: repo})
	require.NoError(t, err)

	require.Len(t, cleaned, 1)
	assert.Equal(t, "a", cleaned[0].ID)

	exists, _ := afero.Exists(fsys, "/data/a.bin")
	assert.True(t, exists, "the newer download owns the file")
}

func TestDeleteExpiredPartials_SkipsBusyDestination(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/data/a.bin", []byte("partial"), 0o644))

	records := []storage.DownloadRecord{
		{ID: "a", Destination: "/data/a.bin", Status: storage.StatusFailed, UpdatedAt: time.Now().Add(-48 * time.Hour)},
	}

	busy := func(path string) bool { return path == "/data/a.bin" }

	cleaned, err := DeleteExpiredPartials(context.Background(), fsys, records, 24*time.Hour, Guard{Busy: busy})
	require.NoError(t, err)
	assert.Empty(t, cleaned)

	exists, _ := afero.Exists(fsys, "/data/a.bin")
	assert.True(t, exists)
}

type brokenHistory struct{}

func (brokenHistory) LatestForDestination(context.Context, string) (*storage.DownloadRecord, error) {
	return nil, errors.New("database is locked")
}

func TestDeleteExpiredPartials_HistoryError(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/data/a.bin", []byte("partial"), 0o644))

	records := []storage.DownloadRecord{
		{ID: "a", Destination: "/data/a.bin", Status: storage.StatusFailed, UpdatedAt: time.Now().Add(-48 * time.Hour)},
	}

	cleaned, err := DeleteExpiredPartials(context.Background(), fsys, records, 24*time.Hour, Guard{History: brokenHistory{}})
	require.ErrorContains(t, err, "database is locked")
	assert.Empty(t, cleaned)

	exists, _ := afero.Exists(fsys, "/data/a.bin")
	assert.True(t, exists, "files are kept when ownership is unknown")
}
