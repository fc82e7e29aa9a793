// Package sklog is a thin leveled-logging facade over log/slog (Infof,
// Warningf, Errorf, Fatalf) shared by every service in the module.
package sklog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Init reconfigures the package-level logger with the given component
// name attached to every record, and the given minimum level.
func Init(component string, level slog.Level) {
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})).With("component", component)
}

// With returns a logger scoped with the given key/value attributes, for
// job- or image-scoped logging.
func With(args ...any) *slog.Logger {
	return logger.With(args...)
}

func Debugf(format string, args ...any) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	logger.Info(fmt.Sprintf(format, args...))
}

func Warningf(format string, args ...any) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
}

// Fatal logs an error at Error level and terminates the process, matching
// sklog.Fatal's use at process-bootstrap call sites.
func Fatal(args ...any) {
	logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}

func Fatalf(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// InfoCtx logs at Info level, passing ctx through to the handler. The
// JSON handler configured here does not read any attributes from ctx.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	logger.InfoContext(ctx, msg, args...)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	logger.ErrorContext(ctx, msg, args...)
}
