package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

// RequestIDKey is the context key the request id middleware stores under.
const RequestIDKey ctxKey = "request_id"

type Logger struct {
	*zap.Logger
}

func NewLogger(level string) (*Logger, error) {
	config := zap.NewProductionConfig()

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

// NewDevelopment returns a console logger for CLI use.
func NewDevelopment(verbose bool) (*Logger, error) {
	config := zap.NewDevelopmentConfig()
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{logger}, nil
}

func Nop() *Logger {
	return &Logger{zap.NewNop()}
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func (l *Logger) WithRequestID(ctx context.Context) *zap.Logger {
	if reqID := RequestID(ctx); reqID != "" {
		return l.With(zap.String("request_id", reqID))
	}
	return l.Logger
}

// ForTenant scopes the logger to a tenant.
func (l *Logger) ForTenant(tenant string) *zap.Logger {
	return l.With(zap.String("tenant", tenant))
}
