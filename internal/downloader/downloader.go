package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/resumable_downloader/internal/destination"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
	"github.com/italolelis/resumable_downloader/internal/transfer"
	"github.com/italolelis/resumable_downloader/internal/transfer/progress"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	eventBuffer = 16

	progressStep     = 10
	progressInterval = int64(100 * 1024 * 1024) // 100MB
)

var (
	// ErrDestinationBusy is returned when another job is already writing the destination.
	ErrDestinationBusy = errors.New("destination is already being downloaded")
	// ErrInvalidJob is returned for jobs that can never be fetched.
	ErrInvalidJob = errors.New("invalid download job")
	// ErrClosed is returned for jobs submitted after Close.
	ErrClosed = errors.New("downloader is closed")
)

// Job is a download requested by a client.
type Job struct {
	URL         string `json:"url"`
	Destination string `json:"destination"`
	Resume      bool   `json:"resume"`

	// Listener additionally receives the notifications of every attempt.
	Listener transfer.Listener `json:"-"`
}

// RetryPolicy controls how failed sessions are retried. Every retry resumes from what is
// already on disk.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()

	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}

	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	return b
}

func (p RetryPolicy) maxTries() uint {
	if p.MaxAttempts < 1 {
		return 1
	}

	return uint(p.MaxAttempts)
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithTelemetry records retries on tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(d *Downloader) {
		d.telemetry = tel
	}
}

// WithInstanceID overrides the ID stamped on the records created by this process.
func WithInstanceID(id string) Option {
	return func(d *Downloader) {
		d.instanceID = id
	}
}

// Downloader runs download jobs with bounded parallelism, never letting two jobs write the
// same destination, and keeps their history in a repository.
type Downloader struct {
	fetcher    transfer.Fetcher
	repo       storage.DownloadRepository
	resolver   *destination.Resolver
	retry      RetryPolicy
	telemetry  *telemetry.Telemetry
	instanceID string

	sem   *semaphore.Weighted
	group errgroup.Group

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool
	// jobs counts claimed destinations, so Close can wait for Run calls too.
	jobs sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	OnDownloadFinished chan *storage.DownloadRecord
	OnDownloadError    chan *storage.DownloadRecord
}

func New(
	fetcher transfer.Fetcher,
	repo storage.DownloadRepository,
	resolver *destination.Resolver,
	maxParallel int,
	retry RetryPolicy,
	opts ...Option,
) *Downloader {
	if maxParallel < 1 {
		maxParallel = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Downloader{
		fetcher:            fetcher,
		repo:               repo,
		resolver:           resolver,
		retry:              retry,
		instanceID:         GenerateInstanceID(),
		sem:                semaphore.NewWeighted(int64(maxParallel)),
		inFlight:           make(map[string]struct{}),
		ctx:                ctx,
		cancel:             cancel,
		OnDownloadFinished: make(chan *storage.DownloadRecord, eventBuffer),
		OnDownloadError:    make(chan *storage.DownloadRecord, eventBuffer),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Submit records job as pending and downloads it in the background. The returned record
// is a snapshot; later progress is visible through the repository and the event channels.
//
// Background jobs outlive ctx and stop when the Downloader is closed.
func (d *Downloader) Submit(ctx context.Context, job Job) (*storage.DownloadRecord, error) {
	record, err := d.prepare(ctx, job)
	if err != nil {
		return nil, err
	}

	snapshot := *record
	jobCtx := logctx.WithLogger(d.ctx, logctx.LoggerFromContext(ctx))
	if id := logctx.RequestIDFromContext(ctx); id != "" {
		jobCtx = logctx.WithRequestID(jobCtx, id)
	}

	d.group.Go(func() error {
		defer d.release(record.Destination)

		if err := d.sem.Acquire(jobCtx, 1); err != nil {
			d.finish(jobCtx, record, 0, 0, err)

			return nil
		}
		defer d.sem.Release(1)

		_ = d.execute(jobCtx, record, job.Listener)

		return nil
	})

	return &snapshot, nil
}

// Run downloads job synchronously and returns its final record.
func (d *Downloader) Run(ctx context.Context, job Job) (*storage.DownloadRecord, error) {
	record, err := d.prepare(ctx, job)
	if err != nil {
		return nil, err
	}

	defer d.release(record.Destination)

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.finish(ctx, record, 0, 0, err)

		return record, err
	}
	defer d.sem.Release(1)

	err = d.execute(ctx, record, job.Listener)

	return record, err
}

// Wait blocks until every submitted job has finished.
func (d *Downloader) Wait() {
	_ = d.group.Wait()
}

// Close rejects new jobs with ErrClosed, aborts submitted jobs, waits for every running
// job, including Run calls, and closes the event channels. Calling it again is a no-op.
func (d *Downloader) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()

		return
	}

	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.jobs.Wait()
	d.Wait()

	close(d.OnDownloadFinished)
	close(d.OnDownloadError)
}

// prepare validates job, claims its destination and tracks a pending record.
func (d *Downloader) prepare(ctx context.Context, job Job) (*storage.DownloadRecord, error) {
	req := transfer.Request{URL: job.URL, Destination: job.Destination, Resume: job.Resume}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	path, err := d.resolver.Resolve(job.Destination)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if err := d.claim(path); err != nil {
		return nil, err
	}

	if err := d.resolver.EnsureDir(path); err != nil {
		d.release(path)

		return nil, err
	}

	record := &storage.DownloadRecord{
		ID:          uuid.NewString(),
		URL:         job.URL,
		Destination: path,
		Resume:      job.Resume,
		Instance:    d.instanceID,
	}

	if err := d.repo.Create(ctx, record); err != nil {
		d.release(path)

		return nil, fmt.Errorf("failed to track download: %w", err)
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download queued",
		"download_id", record.ID, "url", record.URL, "destination", record.Destination, "resume", record.Resume)

	return record, nil
}

// execute fetches the record, resuming after every retryable failure.
func (d *Downloader) execute(ctx context.Context, record *storage.DownloadRecord, extra transfer.Listener) error {
	ctx = logctx.WithDownload(ctx, record.ID, record.Destination)
	logger := logctx.LoggerFromContext(ctx)

	var (
		attempts int
		total    int64

		// owned is set once the destination holds bytes of this download. Until then a
		// fresh job keeps replacing it, so a failure before the first chunk never makes a
		// retry append onto a stale file.
		owned = record.Resume
	)

	takeover := transfer.ListenerFuncs{
		Progress: func(transfer.Progress) { owned = true },
	}

	operation := func() (int64, error) {
		attempts++

		req := transfer.Request{
			URL:         record.URL,
			Destination: record.Destination,
			Resume:      owned,
		}

		var resumedFrom int64

		if req.Resume {
			size, err := d.resolver.Size(req.Destination)
			if err != nil {
				logger.WarnContext(ctx, "failed to read destination size", "err", err)
			}

			resumedFrom = size
		}

		if err := d.repo.MarkDownloading(ctx, record.ID, resumedFrom); err != nil {
			logger.ErrorContext(ctx, "failed to update download status", "err", err)
		}

		logger.InfoContext(ctx, "downloading", "attempt", attempts, "resume_from", humanize.Bytes(uint64(resumedFrom)))

		written, err := d.fetcher.Fetch(ctx, req, transfer.MultiListener(takeover, d.progressLogger(ctx), extra))
		total += written

		if err != nil && !transfer.IsRetryable(err) {
			return written, backoff.Permanent(err)
		}

		return written, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(d.retry.backOff()),
		backoff.WithMaxTries(d.retry.maxTries()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnContext(ctx, "download attempt failed, resuming", "attempt", attempts, "retry_in", next.String(), "err", err)

			if d.telemetry != nil {
				d.telemetry.RecordRetry(ctx)
			}
		}),
	)

	// The last allowed attempt hands back its error as is, permanent or not.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	d.finish(ctx, record, total, attempts, err)

	return err
}

// finish stores the outcome of record and emits the matching event.
func (d *Downloader) finish(ctx context.Context, record *storage.DownloadRecord, written int64, attempts int, err error) {
	logger := logctx.LoggerFromContext(ctx)

	// The outcome is stored even when ctx was cancelled.
	ctx = context.WithoutCancel(ctx)

	record.BytesWritten = written
	record.Attempts = attempts
	record.UpdatedAt = time.Now().UTC()

	if err != nil {
		record.Status = storage.StatusFailed
		record.Error = err.Error()

		if repoErr := d.repo.MarkFailed(ctx, record.ID, written, attempts, record.Error); repoErr != nil {
			logger.ErrorContext(ctx, "failed to update download status", "err", repoErr)
		}

		logger.ErrorContext(ctx, "download failed", "attempts", attempts, "written", humanize.Bytes(uint64(written)), "err", err)
		d.emit(ctx, d.OnDownloadError, record)

		return
	}

	record.Status = storage.StatusDownloaded
	record.Error = ""

	if repoErr := d.repo.MarkFinished(ctx, record.ID, written, attempts); repoErr != nil {
		logger.ErrorContext(ctx, "failed to update download status", "err", repoErr)
	}

	logger.InfoContext(ctx, "download finished", "attempts", attempts, "written", humanize.Bytes(uint64(written)))
	d.emit(ctx, d.OnDownloadFinished, record)
}

func (d *Downloader) emit(ctx context.Context, ch chan *storage.DownloadRecord, record *storage.DownloadRecord) {
	event := *record

	select {
	case ch <- &event:
	default:
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "dropping download event, no listener keeping up", "status", record.Status)
	}
}

// progressLogger logs progress at debug level, throttled to every progressStep points, or
// every progressInterval bytes when the length is unknown.
func (d *Downloader) progressLogger(ctx context.Context) transfer.Listener {
	logger := logctx.LoggerFromContext(ctx)
	throttle := progress.NewThrottle(progressStep, progressInterval)

	return transfer.ListenerFuncs{
		Progress: func(p transfer.Progress) {
			if !throttle.Allow(p.Percent, p.Written) {
				return
			}

			if p.Indeterminate() {
				logger.DebugContext(ctx, "download progress", "downloaded", humanize.Bytes(uint64(p.Written)))

				return
			}

			logger.DebugContext(ctx, "download progress",
				"downloaded", humanize.Bytes(uint64(p.Written)),
				"total", humanize.Bytes(uint64(p.Total)),
				"percent", p.Percent)
		},
	}
}

// Busy reports whether a job currently owns the resolved destination path.
func (d *Downloader) Busy(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, busy := d.inFlight[path]

	return busy
}

func (d *Downloader) claim(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	if _, busy := d.inFlight[path]; busy {
		return fmt.Errorf("%w: %s", ErrDestinationBusy, path)
	}

	d.inFlight[path] = struct{}{}
	d.jobs.Add(1)

	return nil
}

func (d *Downloader) release(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inFlight, path)
	d.jobs.Done()
}
