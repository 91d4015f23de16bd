package logger

import (
	"context"
	"fmt"
	"runtime"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// Required fields (per logging spec)
	ComponentKey contextKey = "component"
	VersionKey   contextKey = "version"
	HostnameKey  contextKey = "hostname"

	// Error fields (per logging spec)
	ErrorKey      contextKey = "error"
	StackTraceKey contextKey = "stack_trace"

	// Correlation fields (distributed tracing)
	TraceIDKey contextKey = "trace_id"
	SpanIDKey  contextKey = "span_id"
	EventIDKey contextKey = "event_id"

	// Run/fragment resource fields
	RunIDKey         contextKey = "run_id"
	RunFragmentIDKey contextKey = "run_fragment_id"
	ExecutorTagKey   contextKey = "executor_tag"
	ExecutorNameKey  contextKey = "executor_name"
	EventTypeKey     contextKey = "event_type"
	RunStateKey      contextKey = "run_state"

	// Dynamic log fields
	LogFieldsKey contextKey = "log_fields"
)

// LogFields holds dynamic key-value pairs for logging
type LogFields map[string]interface{}

// -----------------------------------------------------------------------------
// Context Setters
// -----------------------------------------------------------------------------

// WithLogField adds a single dynamic log field to the context
// These fields will be extracted and included in all log entries
func WithLogField(ctx context.Context, key string, value interface{}) context.Context {
	fields := GetLogFields(ctx)
	if fields == nil {
		fields = make(LogFields)
	}
	fields[key] = value
	return context.WithValue(ctx, LogFieldsKey, fields)
}

// WithLogFields adds multiple dynamic log fields to the context
// These fields will be extracted and included in all log entries
func WithLogFields(ctx context.Context, newFields LogFields) context.Context {
	fields := GetLogFields(ctx)
	if fields == nil {
		fields = make(LogFields)
	}
	for k, v := range newFields {
		fields[k] = v
	}
	return context.WithValue(ctx, LogFieldsKey, fields)
}

// WithTraceID returns a context with the trace ID set
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return WithLogField(ctx, string(TraceIDKey), traceID)
}

// WithSpanID returns a context with the span ID set
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return WithLogField(ctx, string(SpanIDKey), spanID)
}

// WithEventID returns a context with the event ID set
func WithEventID(ctx context.Context, eventID string) context.Context {
	return WithLogField(ctx, string(EventIDKey), eventID)
}

// WithRunID returns a context with the run id set.
func WithRunID(ctx context.Context, runID int64) context.Context {
	return WithLogField(ctx, string(RunIDKey), runID)
}

// WithRunFragmentID returns a context with the run-fragment id set.
func WithRunFragmentID(ctx context.Context, fragmentID int64) context.Context {
	return WithLogField(ctx, string(RunFragmentIDKey), fragmentID)
}

// WithExecutorTag returns a context with the configured executor tag set.
func WithExecutorTag(ctx context.Context, tag string) context.Context {
	return WithLogField(ctx, string(ExecutorTagKey), tag)
}

// WithExecutorName returns a context with the running executor's name set.
func WithExecutorName(ctx context.Context, name string) context.Context {
	return WithLogField(ctx, string(ExecutorNameKey), name)
}

// WithEventType returns a context with the event-type-name discriminator set.
func WithEventType(ctx context.Context, eventType string) context.Context {
	return WithLogField(ctx, string(EventTypeKey), eventType)
}

// WithRunState returns a context with the run state set.
func WithRunState(ctx context.Context, state string) context.Context {
	return WithLogField(ctx, string(RunStateKey), state)
}

// WithErrorField returns a context with the error message set.
// If err is nil, it returns the original context unchanged.
func WithErrorField(ctx context.Context, err error) context.Context {
	if err == nil {
		return ctx
	}
	return WithLogField(ctx, string(ErrorKey), err.Error())
}

// WithStackTraceField returns a context with the stack trace set.
// If frames is nil or empty, the original context is returned unchanged.
func WithStackTraceField(ctx context.Context, frames []string) context.Context {
	if len(frames) == 0 {
		return ctx
	}
	return WithLogField(ctx, string(StackTraceKey), frames)
}

// CaptureStackTrace captures the current goroutine's stack frames and returns
// them as formatted strings. skip omits that many additional caller frames
// (skip=0 omits runtime.Callers and CaptureStackTrace itself).
func CaptureStackTrace(skip int) []string {
	const maxFrames = 32
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	var stack []string
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}
	return stack
}

// WithOTelTraceID adds the OpenTelemetry span's trace ID to the context's log
// fields when present, otherwise returns ctx unchanged.
func WithOTelTraceID(ctx context.Context) context.Context {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ctx
	}
	if spanCtx.HasTraceID() {
		ctx = WithLogField(ctx, string(TraceIDKey), spanCtx.TraceID().String())
	}
	return ctx
}

// WithOTelTraceContext adds OpenTelemetry trace and span identifiers from
// ctx's current span to the context's log fields.
func WithOTelTraceContext(ctx context.Context) context.Context {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ctx
	}
	if spanCtx.HasTraceID() {
		ctx = WithLogField(ctx, string(TraceIDKey), spanCtx.TraceID().String())
	}
	if spanCtx.HasSpanID() {
		ctx = WithLogField(ctx, string(SpanIDKey), spanCtx.SpanID().String())
	}
	return ctx
}

// -----------------------------------------------------------------------------
// Context Getters
// -----------------------------------------------------------------------------

// GetLogFields returns the dynamic log fields from the context, or nil if not set
func GetLogFields(ctx context.Context) LogFields {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(LogFieldsKey).(LogFields); ok {
		// Return a copy to avoid mutation
		fields := make(LogFields, len(v))
		for k, val := range v {
			fields[k] = val
		}
		return fields
	}
	return nil
}
