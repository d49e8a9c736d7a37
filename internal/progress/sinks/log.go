package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/wubwatch/internal/progress"
)

// LogSink emits structured logs for session event streams. It is useful
// during development or audits where no registry is wired.
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
		fields := []zap.Field{
			zap.String("session_id", evt.SessionUUID().String()),
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageWatchProgress, progress.StageWatchDone:
			fields = append(fields, zap.Float64("percent", evt.Percent), zap.String("text", evt.Text))
		case progress.StageChannelOpen, progress.StageChannelClosed:
			fields = append(fields, zap.Int("attempt", evt.Attempt))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("session event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
