// Package accounting provides the sink a completed bridge's record is
// written to. spec.md §1 names this only as an external "logging/alerting
// sink" collaborator; this package gives it a concrete, swappable shape.
package accounting

import (
	"context"
	"log/slog"
)

// Sink receives one record per completed bridge. It implements
// engine.AccountingSink structurally (no import needed to avoid a cycle).
type Sink interface {
	Record(ctx context.Context, info map[string]any)
}

// SlogSink logs each record as a single structured log line, mirroring
// original_source/concentrator.cpp's behavior of serializing the bridge's
// info record (plus an appended Error message, if present) to the log.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink creates a SlogSink. A nil logger falls back to slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{Logger: logger}
}

// Record implements Sink.
func (s *SlogSink) Record(ctx context.Context, info map[string]any) {
	attrs := make([]any, 0, len(info)*2)
	for k, v := range info {
		attrs = append(attrs, slog.Any(k, v))
	}
	if errMsg, ok := info["Error"]; ok && errMsg != "" {
		s.Logger.WarnContext(ctx, "bridge completed with error", attrs...)
		return
	}
	s.Logger.InfoContext(ctx, "bridge completed", attrs...)
}

// MultiSink fans a record out to every wrapped sink, in order. Useful for
// combining the slog sink with a test-only capture sink, or a future
// webhook/alerting sink without changing the scheduler's wiring.
type MultiSink []Sink

// Record implements Sink.
func (m MultiSink) Record(ctx context.Context, info map[string]any) {
	for _, s := range m {
		s.Record(ctx, info)
	}
}
