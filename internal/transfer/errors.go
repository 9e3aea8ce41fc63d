package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
)

// ErrInvalidRequest is returned when a Request cannot be fetched at all.
var ErrInvalidRequest = errors.New("invalid download request")

var errNotRegular = errors.New("not a regular file")

// ConnectionError represents a failure to obtain a response: dial and TLS errors,
// timeouts waiting for headers, or transport failures.
type ConnectionError struct {
	URL string // URL being downloaded
	Err error  // Underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error downloading %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ServerStatusError represents a response whose status cannot be transferred.
// Nothing is written to the destination when it is returned.
type ServerStatusError struct {
	URL        string // URL being downloaded
	StatusCode int    // HTTP status code returned by the server
	Reason     string // Optional detail, e.g. a mismatched Content-Range
}

func (e *ServerStatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("download %s failed: server returned HTTP %d: %s", e.URL, e.StatusCode, e.Reason)
	}

	return fmt.Sprintf("download %s failed: server returned HTTP %d", e.URL, e.StatusCode)
}

// StreamError represents a failure while copying the body to the destination.
// Written holds the bytes that reached the destination before the failure.
type StreamError struct {
	URL     string // URL being downloaded
	Written int64  // Bytes written in this session before the failure
	Err     error  // Underlying error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error downloading %s after %d bytes: %v", e.URL, e.Written, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// ResumeStateError is returned when the size of an existing destination cannot be
// determined for a resumed download. The session never silently restarts from zero.
type ResumeStateError struct {
	Path string // Destination path
	Err  error  // Underlying error
}

func (e *ResumeStateError) Error() string {
	return fmt.Sprintf("cannot resume download into %s: %v", e.Path, e.Err)
}

func (e *ResumeStateError) Unwrap() error {
	return e.Err
}

// DestinationError represents a failure preparing the destination file.
type DestinationError struct {
	Path string // Destination path
	Op   string // "remove" or "open"
	Err  error  // Underlying error
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("destination %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *DestinationError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether fetching again with Resume set could succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// An idle timeout cancels the session context with os.ErrDeadlineExceeded as cause.
	if errors.Is(err, context.Canceled) && !errors.Is(err, os.ErrDeadlineExceeded) {
		return false
	}

	var statusErr *ServerStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError ||
			statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode == http.StatusTooManyRequests
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}

	var streamErr *StreamError

	return errors.As(err, &streamErr)
}

// withCause attaches the cancellation cause of ctx to err when the two differ.
func withCause(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(err, cause) {
		return err
	}

	return fmt.Errorf("%w: %w", cause, err)
}
