// Package log carries a structured logger through the context and renders
// status lines tagged [INFO], [SUCCESS], [WARNING] and [ERROR].
package log

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/chainguard-dev/clog"
)

// LevelSuccess sits between INFO and WARN and marks a completed step.
const LevelSuccess = slog.Level(2)

func Debug(ctx context.Context, msg string, args ...any) {
	log(ctx, clog.FromContext(ctx), slog.LevelDebug, msg, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	log(ctx, clog.FromContext(ctx), slog.LevelInfo, msg, args...)
}

func Success(ctx context.Context, msg string, args ...any) {
	log(ctx, clog.FromContext(ctx), LevelSuccess, msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	log(ctx, clog.FromContext(ctx), slog.LevelWarn, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	log(ctx, clog.FromContext(ctx), slog.LevelError, msg, args...)
}

// With returns a context whose logger carries the given attributes.
func With(ctx context.Context, args ...any) context.Context {
	logger := clog.FromContext(ctx).With(args...)
	return clog.WithLogger(ctx, logger)
}

// Tag returns the bracketed label printed for a level.
func Tag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "[ERROR]"
	case level >= slog.LevelWarn:
		return "[WARNING]"
	case level >= LevelSuccess:
		return "[SUCCESS]"
	case level >= slog.LevelInfo:
		return "[INFO]"
	default:
		return "[DEBUG]"
	}
}

func log(ctx context.Context, l *clog.Logger, level slog.Level, msg string, args ...any) {
	if !l.Enabled(ctx, level) {
		return
	}

	var pc uintptr
	var pcs [1]uintptr
	// skip [runtime.Callers, this function, this function's caller]
	runtime.Callers(3, pcs[:])
	pc = pcs[0]

	r := slog.NewRecord(time.Now(), level, msg, pc)
	r.Add(args...)
	_ = l.Handler().Handle(ctx, r)
}
