package events

import (
	"context"
	"log/slog"

	"bloodledger/pkg/domain"
)

// LogSink writes one structured record per event.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink logs events at level through logger, or slog.Default when
// logger is nil.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: level}
}

// Handle implements Sink.
func (s *LogSink) Handle(ctx context.Context, event domain.Event) error {
	s.logger.Log(ctx, s.level, "ledger event",
		"event", event.Name,
		"tx_id", event.TxID,
		"timestamp", event.Timestamp,
		"key", SubjectKey(event.Payload),
		"payload_bytes", len(event.Payload),
	)
	return nil
}
