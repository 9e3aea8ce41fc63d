package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	n := &DiscordNotifier{WebhookURL: srv.URL, Client: srv.Client()}

	require.NoError(t, n.Notify(context.Background(), "download finished"))
	assert.Equal(t, "download finished", got["content"])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	err := (&DiscordNotifier{WebhookURL: srv.URL}).Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	err = (&DiscordNotifier{}).Notify(context.Background(), "x")
	assert.EqualError(t, err, "webhook URL is not set")
}

func TestNopNotifier(t *testing.T) {
	assert.NoError(t, NopNotifier{}.Notify(context.Background(), "x"))
}

func TestMessages(t *testing.T) {
	rec := &storage.DownloadRecord{
		URL:          "http://example.com/a.iso",
		Destination:  "/data/a.iso",
		BytesWritten: 2_000_000,
		Attempts:     1,
	}

	assert.Equal(t, "✅ Download finished: /data/a.iso (2.0 MB)", FinishedMessage(rec))

	rec.Attempts = 3
	assert.Equal(t, "✅ Download finished: /data/a.iso (2.0 MB, 3 attempts)", FinishedMessage(rec))

	rec.Error = "server returned 503"
	assert.Equal(t,
		"❌ Download failed after 3 attempt(s): http://example.com/a.iso → /data/a.iso (2.0 MB written): server returned 503",
		FailedMessage(rec))
}
