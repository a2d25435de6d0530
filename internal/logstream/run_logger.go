package logstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/logger"
)

// RunLogger tees log lines to the process logger and a run's log stream.
// Entries go straight to Redis as they are written; nothing accumulates in
// memory, so a crashed worker loses at most the line it was writing.
type RunLogger struct {
	ctx    context.Context
	stream *Stream
	log    logger.Logger
	runID  string
	source string
}

// NewRunLogger creates a logger for one run. Stream writes use ctx, so the
// logger stops persisting entries once the run's context is cancelled.
func NewRunLogger(ctx context.Context, stream *Stream, log logger.Logger, runID, source string) *RunLogger {
	return &RunLogger{
		ctx:    ctx,
		stream: stream,
		log:    log.With(logger.String("run_id", runID)),
		runID:  runID,
		source: source,
	}
}

// WithSource returns a logger that stamps entries with a different source,
// for handing to a scraper module.
func (l *RunLogger) WithSource(source string) *RunLogger {
	clone := *l
	clone.source = source
	return &clone
}

// RunID returns the run this logger writes to.
func (l *RunLogger) RunID() string {
	return l.runID
}

// Debug logs a message at debug level.
func (l *RunLogger) Debug(msg string, raw ...map[string]any) {
	l.emit(LevelDebug, msg, raw...)
}

// Info logs a message at info level.
func (l *RunLogger) Info(msg string, raw ...map[string]any) {
	l.emit(LevelInfo, msg, raw...)
}

// Warn logs a message at warning level.
func (l *RunLogger) Warn(msg string, raw ...map[string]any) {
	l.emit(LevelWarn, msg, raw...)
}

// Error logs a message at error level.
func (l *RunLogger) Error(msg string, raw ...map[string]any) {
	l.emit(LevelError, msg, raw...)
}

func (l *RunLogger) emit(level int, msg string, raw ...map[string]any) {
	var (
		payload json.RawMessage
		fields  []logger.Field
	)
	if len(raw) > 0 && len(raw[0]) > 0 {
		if encoded, err := json.Marshal(raw[0]); err == nil {
			payload = encoded
			fields = append(fields, logger.Any("data", raw[0]))
		}
	}

	switch level {
	case LevelDebug:
		l.log.Debug(msg, fields...)
	case LevelWarn:
		l.log.Warn(msg, fields...)
	case LevelError:
		l.log.Error(msg, fields...)
	default:
		l.log.Info(msg, fields...)
	}

	entry := Entry{
		TimestampMS: time.Now().UnixMilli(),
		Level:       level,
		Msg:         msg,
		Source:      l.source,
		Raw:         payload,
	}
	if err := l.stream.Append(l.ctx, l.runID, entry); err != nil {
		l.log.Warn("failed to persist run log entry", logger.Error(err))
	}
}
