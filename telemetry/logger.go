package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL trace correlation
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with the service name attached
func NewLogger(service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// NewTestLogger creates a silent logger for tests
func NewTestLogger() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Convenience methods for cycle and reclaim events

func (l *Logger) LogCycleStart(ctx context.Context, mode string) {
	l.WithContext(ctx).Info().
		Str("mode", mode).
		Msg("cycle started")
}

func (l *Logger) LogCycleComplete(ctx context.Context, mode string, durationMs float64, errs int) {
	l.WithContext(ctx).Info().
		Str("mode", mode).
		Float64("duration_ms", durationMs).
		Int("errors", errs).
		Msg("cycle completed")
}

func (l *Logger) LogRejection(ctx context.Context, handle, check, reason string, dryRun bool) {
	l.WithContext(ctx).Info().
		Str("handle", handle).
		Str("check", check).
		Str("reason", reason).
		Bool("dry_run", dryRun).
		Msg("reclaim rejected")
}

func (l *Logger) LogReclaim(ctx context.Context, handle, signature string, lamports uint64, dryRun bool) {
	l.WithContext(ctx).Info().
		Str("handle", handle).
		Str("signature", signature).
		Uint64("lamports", lamports).
		Bool("dry_run", dryRun).
		Msg("reclaim succeeded")
}

func (l *Logger) LogStoreError(ctx context.Context, operation string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Msg("store operation failed")
}
