// Package observability wires structured logging, Cloud Trace propagation
// and panic recovery into the HTTP stack.
package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RelayDigital/vrem-sub004/internal/platform/requestctx"
)

// NewLogger builds the process logger: JSON to stdout with Cloud Logging
// field names (severity, message, timestamp). LOG_LEVEL overrides the info
// default.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.Config{
		Level:             logLevelFromEnv(),
		Encoding:          "json",
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(strings.ToUpper(level.String()))
			},
		},
	}
	return cfg.Build()
}

func logLevelFromEnv() zap.AtomicLevel {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if raw == "" {
		return level
	}
	// An unparseable value keeps the info default.
	_ = level.UnmarshalText([]byte(raw))
	return level
}

// WithLogger binds the logger to the context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// PrintfAdapter exposes zap behind the Printf interface some SDK clients
// want for their debug output.
type PrintfAdapter struct {
	sugar *zap.SugaredLogger
}

// NewPrintfAdapter wraps the logger. A nil logger yields a silent adapter.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{sugar: logger.Sugar()}
}

// Printf logs at info level.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.sugar.Infof(format, args...)
}
