package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/simbricks/runner/internal/events"
	"github.com/simbricks/runner/pkg/apperrors"
	"github.com/simbricks/runner/pkg/logger"
	"github.com/simbricks/runner/pkg/version"
	"github.com/sony/gobreaker"
)

// BackoffKind selects the retry backoff shape an RPC uses between attempts.
type BackoffKind int

const (
	BackoffExponential BackoffKind = iota
	BackoffLinear
	BackoffConstant
)

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithBaseURL overrides the backend's base URL.
func WithBaseURL(url string) Option {
	return func(c *HTTPClient) { c.baseURL = url }
}

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// WithRetryAttempts overrides the maximum number of attempts per RPC
// (including the first), default 3.
func WithRetryAttempts(n int) Option {
	return func(c *HTTPClient) { c.retryAttempts = n }
}

// WithRetryBackoff overrides the backoff shape used between retry attempts.
func WithRetryBackoff(kind BackoffKind) Option {
	return func(c *HTTPClient) { c.backoffKind = kind }
}

// HTTPClient is the production backend.Client, talking to the orchestration
// backend over HTTP+JSON with per-RPC retry and circuit breaking so a
// backend outage degrades to fast failures instead of hanging goroutines.
type HTTPClient struct {
	baseURL       string
	httpClient    *http.Client
	log           logger.Logger
	retryAttempts int
	backoffKind   BackoffKind

	breakers map[string]*gobreaker.CircuitBreaker[any]
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs a backend client for baseURL.
func NewHTTPClient(baseURL string, log logger.Logger, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		log:           log,
		retryAttempts: 3,
		backoffKind:   BackoffExponential,
		breakers:      make(map[string]*gobreaker.CircuitBreaker[any]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) breaker(name string) *gobreaker.CircuitBreaker[any] {
	if cb, ok := c.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[name] = cb
	return cb
}

func (c *HTTPClient) newBackoff() backoff.BackOff {
	var b backoff.BackOff
	switch c.backoffKind {
	case BackoffLinear:
		b = backoff.NewConstantBackOff(500 * time.Millisecond)
	case BackoffConstant:
		b = backoff.NewConstantBackOff(200 * time.Millisecond)
	default:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 200 * time.Millisecond
		eb.MaxInterval = 5 * time.Second
		b = eb
	}
	return backoff.WithMaxRetries(b, uint64(c.retryAttempts-1))
}

// do issues method/path with an optional JSON body, decoding the response
// body into out (if non-nil), retrying retryable failures through the named
// circuit breaker.
func (c *HTTPClient) do(ctx context.Context, rpcName, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend %s: encoding request: %w", rpcName, err)
		}
		payload = encoded
	}

	cb := c.breaker(rpcName)
	operation := func() error {
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, c.doOnce(ctx, method, path, payload, out)
		})
		if err != nil {
			if rpcErr, ok := apperrors.AsBackendRPCError(err); ok {
				if rpcErr.IsRetryable() {
					return err
				}
				return backoff.Permanent(err)
			}
			if apperrors.IsNetworkError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackoff(), ctx)); err != nil {
		if c.log != nil {
			c.log.Error(ctx, err, fmt.Sprintf("backend RPC %s failed", rpcName))
		}
		return err
	}
	return nil
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return &apperrors.BackendRPCError{
			RPC:        method + " " + path,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", string(respBody)),
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) RunnerStarted(ctx context.Context, runnerID string, tags []string) error {
	return c.do(ctx, "runner_started", http.MethodPost, "/v1/runners/"+runnerID+"/started",
		map[string][]string{"tags": tags}, nil)
}

func (c *HTTPClient) SendHeartbeat(ctx context.Context, runnerID string) error {
	return c.do(ctx, "send_heartbeat", http.MethodPost, "/v1/runners/"+runnerID+"/heartbeat", nil, nil)
}

func (c *HTTPClient) FetchEvents(ctx context.Context, runnerID string, query events.Bundle) (events.Bundle, error) {
	var result events.Bundle
	err := c.do(ctx, "fetch_events", http.MethodPost, "/v1/runners/"+runnerID+"/events:fetch", query, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) CreateEvents(ctx context.Context, bundle events.Bundle) (events.Bundle, error) {
	var result events.Bundle
	err := c.do(ctx, "create_events", http.MethodPost, "/v1/events:create", bundle, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) UpdateEvents(ctx context.Context, bundle events.Bundle) error {
	return c.do(ctx, "update_events", http.MethodPost, "/v1/events:update", bundle, nil)
}

func (c *HTTPClient) DeleteEvents(ctx context.Context, bundle events.Bundle) error {
	return c.do(ctx, "delete_events", http.MethodPost, "/v1/events:delete", bundle, nil)
}

func (c *HTTPClient) UpdateRun(ctx context.Context, runID int64, state, msg string) error {
	return c.do(ctx, "update_run", http.MethodPost, fmt.Sprintf("/v1/runs/%d:update", runID),
		map[string]string{"state": state, "msg": msg}, nil)
}

func (c *HTTPClient) GetInstInputArtifact(ctx context.Context, instID int64) ([]byte, error) {
	var result struct {
		Data []byte `json:"data"`
	}
	err := c.do(ctx, "get_inst_input_artifact_raw", http.MethodGet,
		fmt.Sprintf("/v1/instantiations/%d/input-artifact", instID), nil, &result)
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

func (c *HTTPClient) GetFragmentInputArtifact(ctx context.Context, instID, runFragmentID int64) ([]byte, error) {
	var result struct {
		Data []byte `json:"data"`
	}
	err := c.do(ctx, "get_fragment_input_artifact_raw", http.MethodGet,
		fmt.Sprintf("/v1/instantiations/%d/fragments/%d/input-artifact", instID, runFragmentID), nil, &result)
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

func (c *HTTPClient) SetRunFragmentOutputArtifact(ctx context.Context, runFragmentID int64, streamName string, data []byte) error {
	return c.do(ctx, "set_run_fragment_output_artifact_raw", http.MethodPut,
		fmt.Sprintf("/v1/run-fragments/%d/output-artifact", runFragmentID),
		map[string]interface{}{"name": streamName, "data": data}, nil)
}
