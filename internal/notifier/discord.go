package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/resumable_downloader/internal/storage"
)

const defaultTimeout = 10 * time.Second

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// DiscordNotifier posts messages to a Discord webhook.
type DiscordNotifier struct {
	WebhookURL string
	// Client defaults to a client with a 10s timeout.
	Client *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// NopNotifier discards every message. It is used when no webhook is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }

// FinishedMessage describes a completed download.
func FinishedMessage(r *storage.DownloadRecord) string {
	msg := fmt.Sprintf("✅ Download finished: %s (%s", r.Destination, humanize.Bytes(uint64(r.BytesWritten)))

	if r.Attempts > 1 {
		msg += fmt.Sprintf(", %d attempts", r.Attempts)
	}

	return msg + ")"
}

// FailedMessage describes a download that gave up. The partial file stays on disk so the
// download can be resumed.
func FailedMessage(r *storage.DownloadRecord) string {
	return fmt.Sprintf("❌ Download failed after %d attempt(s): %s → %s (%s written): %s",
		r.Attempts, r.URL, r.Destination, humanize.Bytes(uint64(r.BytesWritten)), r.Error)
}
