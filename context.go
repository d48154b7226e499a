package flow

import (
	"context"
	"log/slog"

	"github.com/deepnoodle-ai/flow/script"
)

type contextKey int

const (
	loggerKey contextKey = iota
	compilerKey
	instanceIDKey
)

// WithLogger returns a context carrying the logger for the current pass
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the pass logger, or fallback when ctx has none
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}

func WithCompiler(ctx context.Context, compiler script.Compiler) context.Context {
	return context.WithValue(ctx, compilerKey, compiler)
}

func CompilerFromContext(ctx context.Context) (script.Compiler, bool) {
	compiler, ok := ctx.Value(compilerKey).(script.Compiler)
	return compiler, ok
}

func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, instanceIDKey, instanceID)
}

// InstanceIDFromContext returns the ID of the instance whose pass is running
func InstanceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(instanceIDKey).(string)
	return id, ok
}
