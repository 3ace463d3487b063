// Package correlate is the Correlation Context (C7): per-request
// correlation/request IDs threaded through structured logs and response
// headers.
//
// Grounded on the teacher's internal/server/http.go withLogging middleware
// shape, generalized to carry IDs via context.Context instead of only
// timing.
package correlate

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	requestIDKey
)

// slowRequestThreshold is the process-time warning threshold (spec §4.7).
const slowRequestThreshold = 3000 * time.Millisecond

// WithIDs returns a context carrying the given correlation and request IDs.
func WithIDs(ctx context.Context, correlationID, requestID string) context.Context {
	ctx = context.WithValue(ctx, correlationIDKey, correlationID)
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	return ctx
}

// CorrelationID returns the correlation id stored in ctx, or "" if unset.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// RequestID returns the request id stored in ctx, or "" if unset.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// Logger returns a slog.Logger with correlation/request id attributes
// attached, suitable for use throughout a single request's lifetime.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if cid := CorrelationID(ctx); cid != "" {
		l = l.With("correlation_id", cid)
	}
	if rid := RequestID(ctx); rid != "" {
		l = l.With("request_id", rid)
	}
	return l
}

// Middleware generates or accepts a correlation id (header X-Correlation-ID)
// and a fresh request id per incoming request, threads them through the
// request context, and echoes both plus X-Process-Time on the response.
//
// X-Process-Time can only be known once the handler has finished, so the
// response is buffered and flushed to the real ResponseWriter afterward;
// fine for this service's JSON-sized payloads, wrong for large streamed
// responses (which bypass this middleware — see api.Routes).
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		requestID := uuid.NewString()

		ctx := WithIDs(r.Context(), correlationID, requestID)
		r = r.WithContext(ctx)

		buf := &bufferedWriter{ResponseWriter: w, body: &bytes.Buffer{}, status: http.StatusOK}
		next.ServeHTTP(buf, r)

		elapsed := time.Since(start)
		w.Header().Set("X-Correlation-ID", correlationID)
		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("X-Process-Time", strconv.FormatInt(elapsed.Milliseconds(), 10))
		w.WriteHeader(buf.status)
		w.Write(buf.body.Bytes())

		log := Logger(ctx)
		if elapsed > slowRequestThreshold {
			log.Warn("slow request", "method", r.Method, "path", r.URL.Path, "elapsed_ms", elapsed.Milliseconds())
		} else {
			log.Debug("request completed", "method", r.Method, "path", r.URL.Path, "elapsed_ms", elapsed.Milliseconds())
		}
	})
}

// bufferedWriter captures a handler's response so headers set late (like
// X-Process-Time) can still be attached before anything reaches the client.
type bufferedWriter struct {
	http.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (b *bufferedWriter) WriteHeader(status int) { b.status = status }

func (b *bufferedWriter) Write(p []byte) (int, error) { return b.body.Write(p) }
