package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/graphbuilder/internal/progress"
)

// LogSink writes each event as a structured log line. Batch checkpoints log
// at debug level; everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		if evt.Stage == progress.StageDocBatch || evt.Stage == progress.StageFetchDone {
			level = zapcore.DebugLevel
		}
		if ce := s.logger.Check(level, "progress event"); ce != nil {
			ce.Write(fields(evt)...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func fields(evt progress.Event) []zap.Field {
	out := []zap.Field{
		zap.String("run_id", evt.RunID),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Document != "" {
		out = append(out, zap.String("document", evt.Document))
	}
	if evt.Task != "" {
		out = append(out, zap.String("task", evt.Task))
	}
	if evt.URL != "" {
		out = append(out, zap.String("url", evt.URL), zap.String("site", evt.Site))
	}
	if evt.StatusClass != "" {
		out = append(out, zap.String("status_class", string(evt.StatusClass)))
	}
	if evt.Total > 0 {
		out = append(out, zap.Int("processed", evt.Processed), zap.Int("total", evt.Total))
	}
	if evt.Status != "" {
		out = append(out, zap.String("status", evt.Status))
	}
	if evt.Dur > 0 {
		out = append(out, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		out = append(out, zap.String("note", evt.Note))
	}
	return out
}
