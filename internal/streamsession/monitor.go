package streamsession

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/loghoi/loghoi/internal/metrics"
)

// monitor is a live tail -f task. It streams over the session's SSH channel,
// which StartMonitor hands it, and closes that channel when it exits.
type monitor struct {
	sid               SessionID
	label             string
	path              string
	channel           Channel
	sink              Sink
	cancel            context.CancelFunc
	maxLinesPerSecond int
	onTerminate       func()
}

// run streams lines from the channel, rate-limits delivery with a
// token-bucket, and exits on sink closure, channel EOF, or cancellation.
// Sequence numbers denote delivered records only: a dropped line (rate
// limited) never increments sequence (spec §4.5, §8 inv. 4).
func (m *monitor) run(ctx context.Context) {
	defer m.channel.Close()
	defer m.onTerminate()

	lines, err := m.channel.Stream(ctx, m.path)
	if err != nil {
		slog.Error("monitor failed to start stream", "session_id", m.sid, "path", m.path, "error", err)
		return
	}
	defer lines.Close()

	limiter := rate.NewLimiter(rate.Limit(m.maxLinesPerSecond), m.maxLinesPerSecond)

	var sequence uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := m.nextLine(ctx, lines)
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("monitor stream EOF", "session_id", m.sid, "path", m.path)
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("monitor read error", "session_id", m.sid, "path", m.path, "error", err)
			}
			return
		}

		if !limiter.Allow() {
			// Excess lines are dropped, never buffered (spec §4.5).
			metrics.RateLimiterDropsTotal.Inc()
			continue
		}

		sequence++
		rec := LogRecord{
			Label:     m.label,
			Line:      line,
			Sequence:  sequence,
			Timestamp: time.Now(),
		}
		if err := m.sink.Push(rec); err != nil {
			slog.Warn("monitor sink push failed, terminating", "session_id", m.sid, "error", err)
			return
		}

		// Bounds CPU between line reads (spec §4.5 suspension points).
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// nextLine reads the next line, returning promptly if ctx is canceled even
// if the underlying Next() call would otherwise block.
func (m *monitor) nextLine(ctx context.Context, lines LineSource) (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		l, err := lines.Next()
		done <- result{l, err}
	}()

	select {
	case r := <-done:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
