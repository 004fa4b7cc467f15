package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/progress"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the batch. Page events go to debug to keep info output per job.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
		}
		switch evt.Stage {
		case progress.StagePhase:
			s.logger.Info("job phase", append(fields, zap.String("phase", evt.Phase))...)
		case progress.StagePageCaptured:
			s.logger.Debug("page captured", append(fields,
				zap.String("renderer", evt.Renderer),
				zap.Int64("bytes", evt.Bytes),
			)...)
		case progress.StagePageFailed:
			s.logger.Debug("page failed", append(fields, zap.String("note", evt.Note))...)
		case progress.StageJobDone:
			s.logger.Info("job done", append(fields,
				zap.Int("pages", evt.Pages),
				zap.Int("assets", evt.Assets),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StageJobError:
			s.logger.Warn("job error", append(fields, zap.String("note", evt.Note), zap.Duration("dur", evt.Dur))...)
		default:
			s.logger.Info("job started", append(fields, zap.Bool("full_site", evt.FullSite))...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
