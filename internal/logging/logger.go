package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type opIDKey struct{}

type Logger struct {
	*zap.Logger
}

// NewLogger builds a console logger writing to stderr at the given level.
func NewLogger(level string) (*Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.DisableStacktrace = true
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	// Parse log level
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// WithOperation returns a context carrying a fresh operation ID.
func WithOperation(ctx context.Context) context.Context {
	return context.WithValue(ctx, opIDKey{}, uuid.New().String())
}

// OperationID returns the operation ID stored in ctx, if any.
func OperationID(ctx context.Context) string {
	id, _ := ctx.Value(opIDKey{}).(string)
	return id
}

// For returns l tagged with the operation ID from ctx. A nil l yields a no-op logger.
func For(ctx context.Context, l *zap.Logger) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	if id := OperationID(ctx); id != "" {
		return l.With(zap.String("op_id", id))
	}
	return l
}
