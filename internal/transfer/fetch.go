package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/transfer/progress"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

const (
	filePerm = 0644

	// drainLimit caps how much of a rejected response body is read to reuse the connection.
	drainLimit = 64 * 1024
)

// Client downloads URLs into files of an afero filesystem.
//
// A Client is safe for concurrent use, but two sessions must never target the same
// destination at the same time: the Client does not lock destinations.
type Client struct {
	cfg  Config
	fs   afero.Fs
	http *http.Client
}

var _ Fetcher = (*Client)(nil)

// NewClient creates a Client writing into fsys.
func NewClient(cfg Config, fsys afero.Fs) *Client {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg)
	}

	return &Client{
		cfg:  cfg,
		fs:   fsys,
		http: httpClient,
	}
}

// Download fetches req into the OS filesystem with DefaultConfig.
func Download(ctx context.Context, req Request, l Listener) (int64, error) {
	return NewClient(DefaultConfig(), afero.NewOsFs()).Fetch(ctx, req, l)
}

// Fetch performs one blocking GET of req.URL into req.Destination and returns the number
// of bytes written during this call.
//
// With req.Resume set, the size of an existing destination is used as the offset of a
// ranged request and the body is appended. Otherwise an existing destination is removed
// once the server answered with a transferable response, before anything is written.
//
// Every failure is returned and also delivered to l.OnFailure. l.OnComplete is called
// last, and only on success. Cancelling ctx aborts the session.
func (c *Client) Fetch(ctx context.Context, req Request, l Listener) (int64, error) {
	written, err := c.fetch(ctx, req, l)
	if err != nil {
		if l != nil {
			l.OnFailure(err)
		}

		return written, err
	}

	if l != nil {
		l.OnComplete(req.Destination)
	}

	return written, nil
}

func (c *Client) fetch(ctx context.Context, req Request, l Listener) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	logger := logctx.LoggerFromContext(ctx).With("url", req.URL, "destination", req.Destination)

	offset, err := c.resumeOffset(req)
	if err != nil {
		return 0, err
	}

	ctx, wd := newWatchdog(ctx, c.cfg.ReadTimeout)
	defer wd.Stop()

	resp, err := c.do(ctx, req.URL, offset)
	if err != nil {
		return 0, &ConnectionError{URL: req.URL, Err: withCause(ctx, err)}
	}

	defer resp.Body.Close()

	if err := c.checkStatus(req.URL, resp, offset); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

		return 0, err
	}

	wd.Kick()

	logger.DebugContext(ctx, "download started",
		"status", resp.StatusCode,
		"resume_from", humanize.Bytes(uint64(offset)),
		"content_length", resp.ContentLength,
		"content_encoding", resp.Header.Get("Content-Encoding"),
	)

	counter := progress.NewReader(&kickReader{r: resp.Body, wd: wd}, resp.ContentLength)

	var body io.Reader = counter

	if isGzip(resp.Header.Get("Content-Encoding")) {
		zr, err := gzip.NewReader(counter)
		if err != nil {
			return 0, &StreamError{URL: req.URL, Err: withCause(ctx, fmt.Errorf("gzip: %w", err))}
		}

		defer zr.Close()

		body = zr
	}

	out, err := c.openDestination(req)
	if err != nil {
		return 0, err
	}

	written, err := c.copy(ctx, req.URL, out, body, counter, l)

	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = &StreamError{URL: req.URL, Written: written, Err: closeErr}
	}

	if err != nil {
		return written, err
	}

	logger.DebugContext(ctx, "download finished", "written", humanize.Bytes(uint64(written)))

	return written, nil
}

// resumeOffset returns the length of the destination on disk when resuming.
func (c *Client) resumeOffset(req Request) (int64, error) {
	if !req.Resume {
		return 0, nil
	}

	info, err := c.fs.Stat(req.Destination)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, &ResumeStateError{Path: req.Destination, Err: err}
	}

	if !info.Mode().IsRegular() {
		return 0, &ResumeStateError{Path: req.Destination, Err: errNotRegular}
	}

	return info.Size(), nil
}

func (c *Client) do(ctx context.Context, rawURL string, offset int64) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("setting up HTTP request: %w", err)
	}

	for k, v := range c.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	return c.http.Do(httpReq)
}

func (c *Client) checkStatus(rawURL string, resp *http.Response, offset int64) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusPartialContent && c.cfg.AcceptPartialContent:
		var start int64
		if _, err := fmt.Sscanf(resp.Header.Get("Content-Range"), "bytes %d-", &start); err != nil || start != offset {
			return &ServerStatusError{
				URL:        rawURL,
				StatusCode: resp.StatusCode,
				Reason:     fmt.Sprintf("content range %q does not start at %d", resp.Header.Get("Content-Range"), offset),
			}
		}

		return nil
	}

	return &ServerStatusError{URL: rawURL, StatusCode: resp.StatusCode}
}

// openDestination opens the destination for appending. A fresh download first removes
// whatever regular file is already there.
func (c *Client) openDestination(req Request) (afero.File, error) {
	if !req.Resume {
		info, err := c.fs.Stat(req.Destination)
		if err == nil && info.Mode().IsRegular() {
			if err := c.fs.Remove(req.Destination); err != nil {
				return nil, &DestinationError{Path: req.Destination, Op: "remove", Err: err}
			}
		}
	}

	f, err := c.fs.OpenFile(req.Destination, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return nil, &DestinationError{Path: req.Destination, Op: "open", Err: err}
	}

	return f, nil
}

// copy streams body into out chunk by chunk, reporting progress after each write.
func (c *Client) copy(ctx context.Context, rawURL string, out afero.File, body io.Reader, counter *progress.Reader, l Listener) (int64, error) {
	var written int64

	buf := make([]byte, c.cfg.BufferSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if wn, err := out.Write(buf[:n]); err != nil {
				written += int64(wn)

				return written, &StreamError{URL: rawURL, Written: written, Err: err}
			}

			if c.cfg.SyncEveryChunk {
				if err := out.Sync(); err != nil {
					return written + int64(n), &StreamError{URL: rawURL, Written: written + int64(n), Err: err}
				}
			}

			written += int64(n)

			if l != nil {
				l.OnProgress(Progress{
					Percent:  counter.Percent(),
					Written:  written,
					Received: counter.BytesRead(),
					Total:    counter.Total,
				})
			}
		}

		if errors.Is(rerr, io.EOF) {
			return written, nil
		}

		if rerr != nil {
			return written, &StreamError{URL: rawURL, Written: written, Err: withCause(ctx, rerr)}
		}
	}
}

func isGzip(contentEncoding string) bool {
	return strings.EqualFold(strings.TrimSpace(contentEncoding), "gzip")
}
