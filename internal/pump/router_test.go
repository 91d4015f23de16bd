package pump

import (
	"context"
	"encoding/json"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/simbricks/runner/internal/backend"
	"github.com/simbricks/runner/internal/callback"
	"github.com/simbricks/runner/internal/events"
	"github.com/simbricks/runner/internal/executorplugin"
	"github.com/simbricks/runner/internal/fragment"
	"github.com/simbricks/runner/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFragmentCreateEvent(t *testing.T, runID, runFragmentID int64, state string) cloudevents.Event {
	t.Helper()
	evt := cloudevents.NewEvent()
	evt.SetID("state-1")
	evt.SetType(string(events.TypeFragmentStateCreate))
	evt.SetSource("executor")
	require.NoError(t, evt.SetData(cloudevents.ApplicationJSON, events.FragmentStatePayload{
		RunID: runID, RunFragmentID: runFragmentID, State: state,
	}))
	return evt
}

func TestApplyCallbacks_NoMatchForwardsEvent(t *testing.T) {
	table := callback.NewTable()
	evt := newFragmentCreateEvent(t, 1, 10, "RUNNING")

	consumed := applyCallbacks(context.Background(), table, evt, nil)
	assert.False(t, consumed, "an empty table must never consume an event")
}

func TestApplyCallbacks_StateTrackerPassesThrough(t *testing.T) {
	table := callback.NewTable()
	sink := &fakeStateSink{states: make(map[int64]events.RunState)}
	callback.NewFragmentStateTracker([]*callback.Table{table}, 1, sink)

	evt := newFragmentCreateEvent(t, 1, 10, "RUNNING")
	consumed := applyCallbacks(context.Background(), table, evt, nil)

	assert.False(t, consumed, "FragmentStateTracker.Passthrough() is true")
	assert.Equal(t, events.RunStateRunning, sink.states[10])
}

type fakeStateSink struct {
	states map[int64]events.RunState
}

func (s *fakeStateSink) SetFragmentState(runFragmentID int64, state events.RunState) {
	s.states[runFragmentID] = state
}

func TestDirectionForTypeName(t *testing.T) {
	cases := map[events.TypeName]events.Direction{
		events.TypeFragmentStateCreate:    events.DirectionCreate,
		events.TypeFragmentArtifactCreate: events.DirectionCreate,
		events.TypeEventCreate:            events.DirectionCreate,
		events.TypeEventUpdate:            events.DirectionUpdate,
		events.TypeEventDelete:            events.DirectionDelete,
		events.TypeEventQuery:             events.DirectionQuery,
	}
	for typeName, want := range cases {
		got, ok := directionForTypeName(string(typeName))
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := directionForTypeName("bogus")
	assert.False(t, ok)
}

type fakePlugin struct {
	name string
}

func (f *fakePlugin) Name() string { return f.name }
func (f *fakePlugin) Start(ctx context.Context, settings, parameters json.RawMessage) error {
	return nil
}
func (f *fakePlugin) SendEvents(ctx context.Context, typeName string, bundle events.Bundle) error {
	return nil
}
func (f *fakePlugin) GetEvents(ctx context.Context) (string, events.Bundle, error) {
	<-ctx.Done()
	return "", nil, ctx.Err()
}
func (f *fakePlugin) Stop(ctx context.Context) error { return nil }

var _ executorplugin.Plugin = (*fakePlugin)(nil)

type fakeResolverForRouterTest struct{}

func (fakeResolverForRouterTest) Resolve(tag string) (executorplugin.Config, executorplugin.Factory, bool) {
	return executorplugin.Config{Name: "local-1"}, func(cfg executorplugin.Config) (executorplugin.Plugin, error) {
		return &fakePlugin{name: cfg.Name}, nil
	}, true
}

type readerFailure struct{}

func (readerFailure) Error() string { return "reader died" }

func TestRouter_Dispatch_ReaderFailureTearsDownRun(t *testing.T) {
	be := backend.NewMockClient()
	queue := make(chan fragment.RouterEvent, 4)
	reg := registry.New(be, events.DefaultPayloadParser{}, fakeResolverForRouterTest{}, queue, nil)

	startEvt := cloudevents.NewEvent()
	startEvt.SetID("start-1")
	startEvt.SetType(string(events.TypeStartRunRead))
	startEvt.SetSource("test")
	require.NoError(t, startEvt.SetData(cloudevents.ApplicationJSON, map[string]interface{}{
		"run_id":    1,
		"fragments": []map[string]interface{}{{"run_fragment_id": 10}},
	}))
	require.NoError(t, reg.StartRun(context.Background(), startEvt))

	run, ok := reg.Get(1)
	require.True(t, ok)
	var dead *fragment.Handle
	for _, h := range run.Fragments {
		dead = h
	}
	require.NotNil(t, dead)

	router := NewRouter("runner-1", queue, be, reg, nil)
	router.dispatch(context.Background(), fragment.RouterEvent{Handle: dead, Err: readerFailure{}})

	_, stillTracked := reg.Get(1)
	assert.False(t, stillTracked)
	require.Len(t, be.UpdateRunCalls, 1)
	assert.Equal(t, events.RunStateError.String(), be.UpdateRunCalls[0].State)
}

func TestRouter_Dispatch_ProtocolViolationIsLoggedNotPanic(t *testing.T) {
	be := backend.NewMockClient()
	queue := make(chan fragment.RouterEvent, 4)
	reg := registry.New(be, events.DefaultPayloadParser{}, fakeResolverForRouterTest{}, queue, nil)
	router := NewRouter("runner-1", queue, be, reg, nil)

	h := &fragment.Handle{ExecutorName: "local-1"}
	assert.NotPanics(t, func() {
		router.dispatch(context.Background(), fragment.RouterEvent{
			Handle: h, TypeName: string(events.TypeEventRead), Bundle: events.NewBundle(),
		})
	})
}
