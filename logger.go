package segmut

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with segmut-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithSegment adds a segment field to the logger.
func (l *Logger) WithSegment(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", name),
	}
}

// LogPush logs a packet push.
func (l *Logger) LogPush(ctx context.Context, gen int64, terms, queries, updates int, bytes int64, err error) {
	if err != nil {
		l.WarnContext(ctx, "push rejected",
			"terms", terms,
			"queries", queries,
			"updates", updates,
			"bytes", bytes,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "packet pushed",
		"gen", gen,
		"terms", terms,
		"queries", queries,
		"updates", updates,
		"bytes", bytes,
	)
}

// LogApply logs a packet resolution.
func (l *Logger) LogApply(ctx context.Context, s ApplyStats) {
	if len(s.FullyDeleted) > 0 {
		l.InfoContext(ctx, "packet applied, segments fully deleted",
			"gen", s.Gen,
			"segments", s.Segments,
			"deleted", s.DeletedDocs,
			"fully_deleted", s.FullyDeleted,
			"duration", s.Duration,
		)
		return
	}
	l.DebugContext(ctx, "packet applied",
		"gen", s.Gen,
		"segments", s.Segments,
		"deleted", s.DeletedDocs,
		"updated", s.UpdatedDocs,
		"duration", s.Duration,
	)
}

// LogLiveDocsWrite logs a live-docs write of one segment.
func (l *Logger) LogLiveDocsWrite(ctx context.Context, seg string, deletes int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "live docs write failed",
			"segment", seg,
			"deletes", deletes,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "live docs written",
		"segment", seg,
		"deletes", deletes,
		"duration", duration,
	)
}

// LogCommit logs a commit.
func (l *Logger) LogCommit(ctx context.Context, gen int64, segments int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"segments", segments,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "commit completed",
		"gen", gen,
		"segments", segments,
		"duration", duration,
	)
}

// LogMergeBarrier logs a wait for the packets a merge depends on.
func (l *Logger) LogMergeBarrier(ctx context.Context, segments []string, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge barrier failed",
			"segments", segments,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "merge barrier passed",
		"segments", segments,
		"duration", duration,
	)
}

// LogRollback logs a rollback to the last commit point.
func (l *Logger) LogRollback(ctx context.Context, gen int64, dropped int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rollback failed",
			"gen", gen,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "rolled back",
		"gen", gen,
		"dropped_packets", dropped,
	)
}
