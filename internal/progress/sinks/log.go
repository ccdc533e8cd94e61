package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/progress"
)

// LogSink writes each event at debug level, and failures at warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.Int("status", evt.StatusCode),
				zap.Int64("bytes", evt.Bytes), zap.Int("done", evt.Done), zap.Int("expected", evt.Expected))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		switch evt.Stage {
		case progress.StagePageError, progress.StageJobError:
			s.logger.Warn("progress event", append(fields, zap.String("note", evt.Note))...)
		default:
			s.logger.Debug("progress event", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
