package telemetry

import (
	"context"
	"errors"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes feed metrics, so keep them bounded: operation, component and status
// are fine; URLs, destinations, record IDs and error messages belong in logs.

const (
	statusSuccess   = "success"
	statusError     = "error"
	statusCancelled = "cancelled"
)

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// outcome maps err to the status label of operation metrics. Aborted operations are not
// failures of the operation itself; idle timeouts surface as a cancellation caused by
// os.ErrDeadlineExceeded and are failures.
func outcome(err error) string {
	switch {
	case err == nil:
		return statusSuccess
	case errors.Is(err, context.Canceled) && !errors.Is(err, os.ErrDeadlineExceeded):
		return statusCancelled
	default:
		return statusError
	}
}

// end closes span with the outcome of err.
func end(span trace.Span, start time.Time, err error) {
	status := outcome(err)

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	if status == statusError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

// InstrumentOperation runs fn inside a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	ctx, span := t.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	))

	err := fn(ctx)
	end(span, start, err)

	return err
}

// InstrumentDBOperation instruments a history query and records db_operations_total.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, outcome(err), time.Since(start))

	return err
}

// InstrumentDownload instruments one download session. resumed tells whether the
// session continues an existing destination.
func (t *Telemetry) InstrumentDownload(ctx context.Context, resumed bool, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	ctx, span := t.tracer.Start(ctx, "download_session", trace.WithAttributes(
		attribute.String("component", "transfer"),
		attribute.Bool("download.resumed", resumed),
	))

	err := fn(ctx)
	end(span, start, err)

	t.RecordDownload(ctx, outcome(err), time.Since(start))

	return err
}
