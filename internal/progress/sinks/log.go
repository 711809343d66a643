// Package sinks contains the progress sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/pwnlabs/gymscout/internal/progress"
)

// LogSink emits structured logs for progress streams. Useful during
// development or when no metrics backend is wired.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("progress event",
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("level", evt.Level),
			zap.String("url", evt.URL),
			zap.String("category", evt.Category),
			zap.String("outcome", evt.Outcome),
			zap.Int("attempt", evt.Attempt),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
