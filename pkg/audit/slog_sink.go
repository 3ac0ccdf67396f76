package audit

import (
	"context"
	"log/slog"
	"time"
)

// SlogSink writes every record as one structured log line. Usually chained
// after a durable sink via Tee.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink over the given logger. nil uses the default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "audit")}
}

func (s *SlogSink) Record(ctx context.Context, rec Record) error {
	s.logger.InfoContext(ctx, "audit record",
		"audit_id", rec.ID,
		"actor", rec.Actor,
		"tenant_id", rec.TenantID,
		"action", rec.Action,
		"resource_type", rec.ResourceType,
		"resource_id", rec.ResourceID,
		"reason", rec.Reason,
		"correlation_id", rec.CorrelationID,
		"timestamp", rec.Timestamp.Format(time.RFC3339Nano),
	)
	return nil
}

// Tee fans a record out to every sink; the first error wins but all sinks
// are attempted.
type Tee []Sink

func (t Tee) Record(ctx context.Context, rec Record) error {
	var firstErr error
	for _, sink := range t {
		if err := sink.Record(ctx, rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
