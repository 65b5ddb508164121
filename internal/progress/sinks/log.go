package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/realtime-scraper/internal/progress"
)

// LogSink writes one structured line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// eventLevel picks the level for evt: failures warn, pool and batch
// transitions are info, per-job and per-page chatter is debug.
func eventLevel(evt progress.Event) zapcore.Level {
	switch {
	case evt.Err != "":
		return zapcore.WarnLevel
	case evt.Type == progress.TypeBatchStart, evt.Type == progress.TypeBatchComplete,
		evt.Type == progress.TypeProcessingStart, evt.Type == progress.TypeProcessingStop:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Consume logs every event in batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		ce := s.logger.Check(eventLevel(evt), string(evt.Type))
		if ce == nil {
			continue
		}
		ce.Write(eventFields(evt)...)
	}
	return nil
}

func eventFields(evt progress.Event) []zap.Field {
	fields := make([]zap.Field, 0, 8)
	if evt.Seq > 0 {
		fields = append(fields, zap.Uint64("seq", evt.Seq))
	}
	if evt.JobID != "" {
		fields = append(fields, zap.String("job_id", evt.JobID))
	}
	if evt.URL != "" {
		fields = append(fields, zap.String("url", evt.URL))
	}
	if evt.StatusCode != 0 {
		fields = append(fields, zap.Int("status", evt.StatusCode))
	}
	if evt.Bytes > 0 {
		fields = append(fields, zap.Int64("bytes", evt.Bytes))
	}
	if evt.Count != 0 {
		fields = append(fields, zap.Int("count", evt.Count))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Err != "" {
		fields = append(fields, zap.String("error", evt.Err))
	}
	return fields
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
