package transfer

import (
	"context"

	"github.com/italolelis/resumable_downloader/internal/telemetry"
)

// InstrumentedFetcher wraps a Fetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher   Fetcher
	telemetry *telemetry.Telemetry
}

var _ Fetcher = (*InstrumentedFetcher)(nil)

// NewInstrumentedFetcher creates a new instrumented fetcher.
func NewInstrumentedFetcher(fetcher Fetcher, tel *telemetry.Telemetry) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:   fetcher,
		telemetry: tel,
	}
}

// Fetch runs one download session with tracing and download metrics.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, req Request, l Listener) (int64, error) {
	var written int64

	err := f.telemetry.InstrumentDownload(ctx, req.Resume, func(ctx context.Context) error {
		var err error

		written, err = f.fetcher.Fetch(ctx, req, l)

		return err
	})

	if f.telemetry != nil {
		f.telemetry.RecordDownloadBytes(ctx, written, req.Resume)
	}

	return written, err
}
