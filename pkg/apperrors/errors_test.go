package apperrors

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError_WrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewConfigError("missing fragment_executors", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "missing fragment_executors")
}

func TestUnknownExecutorTagError_Message(t *testing.T) {
	err := &UnknownExecutorTagError{RunID: 42, Tag: "gpu-farm"}
	assert.Contains(t, err.Error(), "42")
	assert.Contains(t, err.Error(), "gpu-farm")
}

func TestStartFailedError_Unwrap(t *testing.T) {
	cause := errors.New("exec: no such file")
	err := &StartFailedError{RunID: 7, Stage: "executor_start", Err: cause}
	assert.ErrorIs(t, err, cause)
}

func TestBackendRPCError_IsRetryable(t *testing.T) {
	cases := []struct {
		name      string
		err       *BackendRPCError
		retryable bool
	}{
		{"5xx is retryable", &BackendRPCError{RPC: "update_run", StatusCode: 503}, true},
		{"429 is retryable", &BackendRPCError{RPC: "fetch_events", StatusCode: 429}, true},
		{"404 is not retryable", &BackendRPCError{RPC: "get_artifact", StatusCode: 404}, false},
		{"400 is not retryable", &BackendRPCError{RPC: "create_event", StatusCode: 400}, false},
		{
			"no status code falls back to network classification",
			&BackendRPCError{RPC: "heartbeat", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}},
			true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, tc.err.IsRetryable())
		})
	}
}

func TestAsBackendRPCError_FindsWrappedError(t *testing.T) {
	rpcErr := &BackendRPCError{RPC: "heartbeat", StatusCode: 500}
	wrapped := fmt.Errorf("calling backend: %w", rpcErr)

	found, ok := AsBackendRPCError(wrapped)
	assert.True(t, ok)
	assert.Same(t, rpcErr, found)
}

func TestAsBackendRPCError_FalseForUnrelatedError(t *testing.T) {
	_, ok := AsBackendRPCError(errors.New("unrelated"))
	assert.False(t, ok)
}
