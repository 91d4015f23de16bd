// Package apperrors provides structured error types for the main runner.
// Each error type carries enough context (run id, fragment id, executor tag,
// operation) to drive both logging and the retry/classification decisions in
// internal/backend.
package apperrors

import (
	"errors"
	"fmt"
)

// ConfigError represents a fatal configuration problem found while loading
// the configuration: an unreadable file, malformed YAML, a malformed
// executor entry, a duplicate executor name, zero configured executors, or
// a failed validation. Always fatal at startup (spec.md §7). An unknown
// plugin type is not detected at load time: executorplugin.Registry.Build
// reports it as a plain error when a fragment is started.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError with an optional wrapped cause.
func NewConfigError(reason string, err error) *ConfigError {
	return &ConfigError{Reason: reason, Err: err}
}

// UnknownExecutorTagError is raised when a fragment declares a
// fragment_executor_tag that has no matching configuration (spec.md §4.2
// step 3 and §7).
type UnknownExecutorTagError struct {
	RunID int64
	Tag   string
}

func (e *UnknownExecutorTagError) Error() string {
	return fmt.Sprintf("run %d: unsupported fragment executor tag %q", e.RunID, e.Tag)
}

// StartFailedError wraps any failure that occurs while starting a run:
// payload-parse errors, artifact-fetch errors, or executor start errors
// (spec.md §7 "Start failure").
type StartFailedError struct {
	RunID int64
	Stage string // "parse", "duplicate_run", "artifact_fetch", "executor_start"
	Err   error
}

func (e *StartFailedError) Error() string {
	return fmt.Sprintf("run %d: start failed at %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *StartFailedError) Unwrap() error { return e.Err }

// ProtocolViolationError is raised when an executor plugin emits an event
// type the router must never receive from a fragment (spec.md §4.8,
// "ApiEventRead received from an executor is a protocol violation").
// The router logs it and drops the offending bundle; the router task keeps
// running.
type ProtocolViolationError struct {
	ExecutorName string
	EventType    string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: executor %q emitted disallowed event type %q",
		e.ExecutorName, e.EventType)
}

// ReaderFailedError wraps the error returned by a Fragment Runner Handle's
// background reader task (spec.md §4.4, §7 "Reader failure").
type ReaderFailedError struct {
	ExecutorName string
	Err          error
}

func (e *ReaderFailedError) Error() string {
	return fmt.Sprintf("reader for executor %q failed: %v", e.ExecutorName, e.Err)
}

func (e *ReaderFailedError) Unwrap() error { return e.Err }

// BackendRPCError wraps a failure from a backend RPC (spec.md §6), carrying
// the RPC name and, if available, the HTTP status code, so callers can
// decide retryability without string-matching the error message.
type BackendRPCError struct {
	RPC        string
	StatusCode int // 0 if no HTTP response was received
	Err        error
}

func (e *BackendRPCError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend RPC %s failed with status %d: %v", e.RPC, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend RPC %s failed: %v", e.RPC, e.Err)
}

func (e *BackendRPCError) Unwrap() error { return e.Err }

// IsRetryable reports whether the wrapped failure is safe to retry: network
// errors and 5xx/429 responses are retryable; 4xx (other than 429) are not.
func (e *BackendRPCError) IsRetryable() bool {
	if e.StatusCode == 0 {
		return IsNetworkError(e.Err)
	}
	if e.StatusCode == 429 || e.StatusCode >= 500 {
		return true
	}
	return false
}

// AsBackendRPCError unwraps err looking for a *BackendRPCError.
func AsBackendRPCError(err error) (*BackendRPCError, bool) {
	var rpcErr *BackendRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
