package backend

import (
	"context"

	"github.com/simbricks/runner/internal/events"
)

// MockClient implements Client for testing, recording every call made to it
// and returning configurable canned responses/errors per method.
type MockClient struct {
	StartedErr error
	StartedTags map[string][]string // runnerID -> tags seen

	HeartbeatErr   error
	HeartbeatCalls int

	FetchResponse events.Bundle
	FetchErr      error
	FetchQueries  []events.Bundle

	CreateResponse events.Bundle
	CreateErr      error
	CreateBundles  []events.Bundle

	UpdateErr     error
	UpdateBundles []events.Bundle

	DeleteErr     error
	DeleteBundles []events.Bundle

	UpdateRunErr   error
	UpdateRunCalls []UpdateRunCall

	InstArtifact         []byte
	InstArtifactErr      error
	InstArtifactCalls    []int64 // instIDs passed to GetInstInputArtifact
	FragmentArtifact     []byte
	FragmentArtifactErr  error
	FragmentArtifactCalls []FragmentArtifactCall
	SetOutputArtifactErr error
	SetOutputArtifacts   []OutputArtifactCall
}

type FragmentArtifactCall struct {
	InstID        int64
	RunFragmentID int64
}

type UpdateRunCall struct {
	RunID       int64
	State, Msg  string
}

type OutputArtifactCall struct {
	RunFragmentID int64
	StreamName    string
	Data          []byte
}

// NewMockClient returns a MockClient with empty-but-non-nil response
// bundles, so callers don't need to special-case a nil map.
func NewMockClient() *MockClient {
	return &MockClient{
		StartedTags:    make(map[string][]string),
		FetchResponse:  events.NewBundle(),
		CreateResponse: events.NewBundle(),
	}
}

func (m *MockClient) RunnerStarted(ctx context.Context, runnerID string, tags []string) error {
	if m.StartedTags == nil {
		m.StartedTags = make(map[string][]string)
	}
	m.StartedTags[runnerID] = tags
	return m.StartedErr
}

func (m *MockClient) SendHeartbeat(ctx context.Context, runnerID string) error {
	m.HeartbeatCalls++
	return m.HeartbeatErr
}

func (m *MockClient) FetchEvents(ctx context.Context, runnerID string, query events.Bundle) (events.Bundle, error) {
	m.FetchQueries = append(m.FetchQueries, query)
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	return m.FetchResponse, nil
}

func (m *MockClient) CreateEvents(ctx context.Context, bundle events.Bundle) (events.Bundle, error) {
	m.CreateBundles = append(m.CreateBundles, bundle)
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	return m.CreateResponse, nil
}

func (m *MockClient) UpdateEvents(ctx context.Context, bundle events.Bundle) error {
	m.UpdateBundles = append(m.UpdateBundles, bundle)
	return m.UpdateErr
}

func (m *MockClient) DeleteEvents(ctx context.Context, bundle events.Bundle) error {
	m.DeleteBundles = append(m.DeleteBundles, bundle)
	return m.DeleteErr
}

func (m *MockClient) UpdateRun(ctx context.Context, runID int64, state, msg string) error {
	m.UpdateRunCalls = append(m.UpdateRunCalls, UpdateRunCall{RunID: runID, State: state, Msg: msg})
	return m.UpdateRunErr
}

func (m *MockClient) GetInstInputArtifact(ctx context.Context, instID int64) ([]byte, error) {
	m.InstArtifactCalls = append(m.InstArtifactCalls, instID)
	return m.InstArtifact, m.InstArtifactErr
}

func (m *MockClient) GetFragmentInputArtifact(ctx context.Context, instID, runFragmentID int64) ([]byte, error) {
	m.FragmentArtifactCalls = append(m.FragmentArtifactCalls, FragmentArtifactCall{InstID: instID, RunFragmentID: runFragmentID})
	return m.FragmentArtifact, m.FragmentArtifactErr
}

func (m *MockClient) SetRunFragmentOutputArtifact(ctx context.Context, runFragmentID int64, streamName string, data []byte) error {
	m.SetOutputArtifacts = append(m.SetOutputArtifacts, OutputArtifactCall{
		RunFragmentID: runFragmentID, StreamName: streamName, Data: data,
	})
	return m.SetOutputArtifactErr
}

var _ Client = (*MockClient)(nil)
