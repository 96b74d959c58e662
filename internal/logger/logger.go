package logger

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.RWMutex
	globalLogger = zap.NewNop()
)

type contextKey string

const requestIDKey contextKey = "request_id"

// New builds a logger writing to stdout. format is "json" or "console".
func New(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var encoderConfig zapcore.EncoderConfig
	if format == "json" {
		encoderConfig = zap.NewProductionEncoderConfig()
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapLevel)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// Init builds the process logger and installs it globally.
func Init(level, format string) (*zap.Logger, error) {
	l, err := New(level, format)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	globalLogger = l
	mu.Unlock()
	zap.ReplaceGlobals(l)
	return l, nil
}

// Get returns the global logger (a no-op logger before Init).
func Get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// WithRequestID stores a request id for WithContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithContext returns the global logger annotated with the request id in ctx.
func WithContext(ctx context.Context) *zap.Logger {
	l := Get()
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		l = l.With(zap.String("request_id", id))
	}
	return l
}

// Sync flushes the global logger.
func Sync() error {
	return Get().Sync()
}
