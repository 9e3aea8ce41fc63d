package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/italolelis/resumable_downloader/internal/downloader"
	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSubmitter struct {
	submitFunc func(ctx context.Context, job downloader.Job) (*storage.DownloadRecord, error)
	lastJob    downloader.Job
}

func (m *mockSubmitter) Submit(ctx context.Context, job downloader.Job) (*storage.DownloadRecord, error) {
	m.lastJob = job
	if m.submitFunc != nil {
		return m.submitFunc(ctx, job)
	}

	return &storage.DownloadRecord{ID: "rec-1", URL: job.URL, Destination: "/data/" + job.Destination, Status: storage.StatusPending}, nil
}

type mockRecords struct {
	records   map[string]storage.DownloadRecord
	lastLimit int
}

func (m *mockRecords) Get(_ context.Context, id string) (*storage.DownloadRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return &rec, nil
}

func (m *mockRecords) List(_ context.Context, limit int) ([]storage.DownloadRecord, error) {
	m.lastLimit = limit

	var out []storage.DownloadRecord
	for _, rec := range m.records {
		out = append(out, rec)
	}

	return out, nil
}

func (m *mockRecords) ListFailedBefore(context.Context, time.Time) ([]storage.DownloadRecord, error) {
	return nil, nil
}

func (m *mockRecords) LatestForDestination(context.Context, string) (*storage.DownloadRecord, error) {
	return nil, storage.ErrNotFound
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHandleCreate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
	}{
		{"accepted", `{"url":"http://example.com/a","destination":"a.bin","resume":true}`, nil, http.StatusAccepted},
		{"malformed body", `{"url":`, nil, http.StatusBadRequest},
		{"invalid job", `{"url":"ftp://x","destination":"a.bin"}`, downloader.ErrInvalidJob, http.StatusBadRequest},
		{"busy", `{"url":"http://example.com/a","destination":"a.bin"}`, downloader.ErrDestinationBusy, http.StatusConflict},
		{"shutting down", `{"url":"http://example.com/a","destination":"a.bin"}`, downloader.ErrClosed, http.StatusServiceUnavailable},
		{"internal", `{"url":"http://example.com/a","destination":"a.bin"}`, errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &mockSubmitter{}
			if tt.submitErr != nil {
				sub.submitFunc = func(context.Context, downloader.Job) (*storage.DownloadRecord, error) {
					return nil, tt.submitErr
				}
			}

			h := NewDownloadsHandler(sub, &mockRecords{}, "", "").Routes()
			rec := serve(h, http.MethodPost, "/downloads", tt.body)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			if tt.wantStatus == http.StatusAccepted {
				var got storage.DownloadRecord
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))

				assert.Equal(t, "rec-1", got.ID)
				assert.Equal(t, storage.StatusPending, got.Status)
				assert.Equal(t, "/downloads/rec-1", rec.Header().Get("Location"))
				assert.True(t, sub.lastJob.Resume)
				assert.Equal(t, "a.bin", sub.lastJob.Destination)
			}
		})
	}
}

func TestHandleGet(t *testing.T) {
	records := &mockRecords{records: map[string]storage.DownloadRecord{
		"rec-1": {ID: "rec-1", Status: storage.StatusDownloaded, BytesWritten: 1000},
	}}
	h := NewDownloadsHandler(&mockSubmitter{}, records, "", "").Routes()

	rec := serve(h, http.MethodGet, "/downloads/rec-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got storage.DownloadRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, int64(1000), got.BytesWritten)

	rec = serve(h, http.MethodGet, "/downloads/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleList(t *testing.T) {
	records := &mockRecords{}
	h := NewDownloadsHandler(&mockSubmitter{}, records, "", "").Routes()

	rec := serve(h, http.MethodGet, "/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, defaultListLimit, records.lastLimit)

	rec = serve(h, http.MethodGet, "/downloads?limit=100000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxListLimit, records.lastLimit)

	rec = serve(h, http.MethodGet, "/downloads?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodGet, "/downloads?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	h := NewDownloadsHandler(&mockSubmitter{}, &mockRecords{}, "admin", "secret").Routes()

	rec := serve(h, http.MethodGet, "/downloads", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/downloads", nil)
	req.SetBasicAuth("admin", "wrong")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/downloads", nil)
	req.SetBasicAuth("admin", "secret")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
