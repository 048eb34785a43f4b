package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type cycleCtxKey struct{}
type phaseCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// RunFields identifies the run a log entry belongs to.
type RunFields struct {
	RunID    string
	SystemID string
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 7)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if run, ok := RunFromContext(ctx); ok {
		fields = append(fields,
			zap.String("run_id", run.RunID),
			zap.String("system_id", run.SystemID),
		)
	}
	if cycle, ok := ctx.Value(cycleCtxKey{}).(int); ok {
		fields = append(fields, zap.Int("cycle", cycle))
	}
	if phase, ok := ctx.Value(phaseCtxKey{}).(string); ok {
		fields = append(fields, zap.String("phase", phase))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return fields
}

// WithRun tags ctx with the run and system identifiers.
func WithRun(ctx context.Context, runID, systemID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, RunFields{RunID: runID, SystemID: systemID})
}

// RunFromContext returns the run fields set by WithRun.
func RunFromContext(ctx context.Context) (RunFields, bool) {
	run, ok := ctx.Value(runCtxKey{}).(RunFields)
	return run, ok
}

// WithCycle tags ctx with the current cycle number.
func WithCycle(ctx context.Context, cycle int) context.Context {
	return context.WithValue(ctx, cycleCtxKey{}, cycle)
}

// WithPhase tags ctx with the current phase name.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// WithRequestID tags ctx with an HTTP request identifier.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
