package callback

import (
	"context"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/simbricks/runner/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackendUpdater struct {
	updates []events.Bundle
}

func (f *fakeBackendUpdater) UpdateEvents(ctx context.Context, bundle events.Bundle) error {
	f.updates = append(f.updates, bundle)
	return nil
}

func newUpdateEvent(t *testing.T, id, status string) cloudevents.Event {
	t.Helper()
	evt := cloudevents.NewEvent()
	evt.SetID("evt-" + id)
	evt.SetType(string(events.TypeEventUpdate))
	evt.SetSource("/fragment")
	require.NoError(t, evt.SetData(cloudevents.ApplicationJSON, events.UpdatePayload{ID: id, Status: status}))
	return evt
}

func newUpdateStub(t *testing.T) cloudevents.Event {
	t.Helper()
	evt := cloudevents.NewEvent()
	evt.SetID("stub")
	evt.SetType(string(events.TypeEventUpdate))
	evt.SetSource("/main-runner")
	return evt
}

func TestBundleUpdateAggregator_ArityAndRemoval(t *testing.T) {
	table1 := NewTable()
	table2 := NewTable()
	backend := &fakeBackendUpdater{}

	agg := NewBundleUpdateAggregator([]*Table{table1, table2}, "start-1", 2, newUpdateStub(t), backend)
	assert.Equal(t, 1, table1.Len())
	assert.Equal(t, 1, table2.Len())

	matched, err := agg.Handle(context.Background(), newUpdateEvent(t, "start-1", "COMPLETED"))
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Empty(t, backend.updates, "no update sent before Nth match")

	matched, err = agg.Handle(context.Background(), newUpdateEvent(t, "start-1", "COMPLETED"))
	require.NoError(t, err)
	assert.True(t, matched)

	require.Len(t, backend.updates, 1, "exactly one update sent after Nth match")
	assert.Equal(t, 0, table1.Len(), "aggregator removed from table1")
	assert.Equal(t, 0, table2.Len(), "aggregator removed from table2")
}

func TestBundleUpdateAggregator_StatusCompositionAllCompleted(t *testing.T) {
	table := NewTable()
	backend := &fakeBackendUpdater{}
	agg := NewBundleUpdateAggregator([]*Table{table}, "start-2", 2, newUpdateStub(t), backend)

	_, err := agg.Handle(context.Background(), newUpdateEvent(t, "start-2", "COMPLETED"))
	require.NoError(t, err)
	_, err = agg.Handle(context.Background(), newUpdateEvent(t, "start-2", "COMPLETED"))
	require.NoError(t, err)

	require.Len(t, backend.updates, 1)
	final := backend.updates[0][string(events.TypeEventUpdate)][0]
	var payload events.UpdatePayload
	require.NoError(t, final.DataAs(&payload))
	assert.Equal(t, "COMPLETED", payload.Status)
}

func TestBundleUpdateAggregator_StatusCompositionAnyFailure(t *testing.T) {
	table := NewTable()
	backend := &fakeBackendUpdater{}
	agg := NewBundleUpdateAggregator([]*Table{table}, "start-3", 2, newUpdateStub(t), backend)

	_, err := agg.Handle(context.Background(), newUpdateEvent(t, "start-3", "COMPLETED"))
	require.NoError(t, err)
	_, err = agg.Handle(context.Background(), newUpdateEvent(t, "start-3", "ERROR"))
	require.NoError(t, err)

	require.Len(t, backend.updates, 1)
	final := backend.updates[0][string(events.TypeEventUpdate)][0]
	var payload events.UpdatePayload
	require.NoError(t, final.DataAs(&payload))
	assert.Equal(t, "ERROR", payload.Status)
}

func TestBundleUpdateAggregator_IgnoresNonMatchingID(t *testing.T) {
	table := NewTable()
	backend := &fakeBackendUpdater{}
	agg := NewBundleUpdateAggregator([]*Table{table}, "start-4", 1, newUpdateStub(t), backend)

	matched, err := agg.Handle(context.Background(), newUpdateEvent(t, "other-event", "COMPLETED"))
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Empty(t, backend.updates)
}
