package telemetry

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/italolelis/resumable_downloader/internal/logctx"
)

const RequestIDHeader = "X-Request-ID"

// RequestID tags each API request with an ID, reusing an upstream X-Request-ID when
// present. The ID is echoed in the response and stored in the request context, where
// logctx.TraceHandler picks it up for every *Context log call.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(logctx.WithRequestID(r.Context(), requestID)))
	})
}

// GetRequestID returns the ID set by RequestID, or "" outside of a request.
func GetRequestID(ctx context.Context) string {
	return logctx.RequestIDFromContext(ctx)
}
