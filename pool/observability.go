package pool

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production (JSON) zap logger at the given level,
// following the teacher's internal/observability/logging.go pattern.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// NewDevelopmentLogger builds a colorized console logger for local runs.
func NewDevelopmentLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, _ := cfg.Build()
	return logger
}

// LoggerFromEnv picks a development or production logger based on GO_ENV,
// falling back to a development logger if production construction fails.
func LoggerFromEnv() *zap.Logger {
	if os.Getenv("GO_ENV") == "development" {
		return NewDevelopmentLogger()
	}
	logger, err := NewLogger("info")
	if err != nil {
		return NewDevelopmentLogger()
	}
	return logger
}

// StartSpan opens the per-request trace span every public capability method
// wraps around worker selection through the first reply (spec.md §4.7,
// SPEC_FULL §4.11). With no TracerProvider configured, p.Tracer is the
// global no-op tracer and this costs essentially nothing.
func StartSpan(ctx context.Context, tracer trace.Tracer, name, registryKey string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("registry_key", registryKey)))
}

// EndSpan tags the span with the worker that served the request, if one was
// selected, records the terminal error if any, and closes the span.
func EndSpan(span trace.Span, workerID uint64, err error) {
	if workerID != 0 {
		span.SetAttributes(attribute.Int64("worker_id", int64(workerID)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

var setMaxProcsOnce sync.Once

// setMaxProcs applies automaxprocs once per process so GOMAXPROCS reflects
// the cgroup CPU quota rather than the host's full core count. No pool in
// this module sizes its own concurrency off GOMAXPROCS.
func setMaxProcs(logger *zap.Logger) {
	setMaxProcsOnce.Do(func() {
		undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
			if logger != nil {
				logger.Sugar().Debugf(format, args...)
			}
		}))
		_ = undo // process lifetime owns GOMAXPROCS; nothing to restore on pool shutdown
		if err != nil && logger != nil {
			logger.Warn("automaxprocs: failed to set GOMAXPROCS", zap.Error(err))
		}
	})
}
