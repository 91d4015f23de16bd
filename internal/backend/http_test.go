package backend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"context"
	"testing"

	"github.com/simbricks/runner/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_RunnerStarted(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	err := c.RunnerStarted(context.Background(), "runner-1", []string{"local"})
	require.NoError(t, err)
	assert.Equal(t, "/v1/runners/runner-1/started", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestHTTPClient_FetchEvents_DecodesBundle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]map[string]string{
			"run.fragment.state": {{
				"id": "1", "type": "run.fragment.state", "source": "test", "specversion": "1.0",
			}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	bundle, err := c.FetchEvents(context.Background(), "runner-1", events.NewBundle())
	require.NoError(t, err)
	assert.Equal(t, 1, bundle.Count())
}

func TestHTTPClient_NonRetryable4xx_FailsFast(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil, WithRetryAttempts(3))
	err := c.SendHeartbeat(context.Background(), "runner-1")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHTTPClient_UpdateRun_SendsStateAndMsg(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	err := c.UpdateRun(context.Background(), 1, "Completed", "done")
	require.NoError(t, err)
	assert.Equal(t, "Completed", body["state"])
	assert.Equal(t, "done", body["msg"])
}
