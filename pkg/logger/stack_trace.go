package logger

import (
	"context"
	"errors"
	"io"

	"github.com/simbricks/runner/pkg/apperrors"
)

// -----------------------------------------------------------------------------
// Stack Trace Capture
// -----------------------------------------------------------------------------

// skipStackTraceCheckers is a list of functions that check if an error should skip stack trace capture.
// Each checker returns true if the error is an expected operational error.
// Add new error types here to extend the blocklist.
var skipStackTraceCheckers = []func(error) bool{
	// Context errors (expected in graceful shutdown)
	func(err error) bool { return errors.Is(err, context.Canceled) },
	func(err error) bool { return errors.Is(err, context.DeadlineExceeded) },
	func(err error) bool { return errors.Is(err, io.EOF) },

	// Network/transient errors (expected in distributed systems)
	apperrors.IsNetworkError,

	// Backend RPC errors with a retryable classification are expected
	isRetryableBackendError,

	// Unknown executor tags and configuration errors are operator-facing
	// configuration problems, not bugs in this process
	isExpectedDomainError,
}

// isRetryableBackendError reports whether err is a *apperrors.BackendRPCError
// classified as retryable (transient by nature).
func isRetryableBackendError(err error) bool {
	rpcErr, ok := apperrors.AsBackendRPCError(err)
	if !ok {
		return false
	}
	return rpcErr.IsRetryable()
}

// isExpectedDomainError checks for error kinds that are expected operator
// misconfigurations rather than bugs worth a stack trace.
func isExpectedDomainError(err error) bool {
	var unknownTag *apperrors.UnknownExecutorTagError
	if errors.As(err, &unknownTag) {
		return true
	}
	var cfgErr *apperrors.ConfigError
	return errors.As(err, &cfgErr)
}

// shouldCaptureStackTrace determines if a stack trace should be captured for the given error.
// Returns false for expected operational errors (high frequency, known causes) to avoid
// performance overhead during error storms. Returns true for unexpected errors that
// indicate bugs or require investigation.
func shouldCaptureStackTrace(err error) bool {
	if err == nil {
		return false
	}

	for _, check := range skipStackTraceCheckers {
		if check(err) {
			return false
		}
	}

	return true
}

// withStackTraceField returns a context with the stack trace set.
// If frames is nil or empty, returns the context unchanged.
func withStackTraceField(ctx context.Context, frames []string) context.Context {
	if len(frames) == 0 {
		return ctx
	}
	return WithLogField(ctx, string(StackTraceKey), frames)
}
