package fragment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/simbricks/runner/internal/events"
	"github.com/simbricks/runner/internal/executorplugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outboxItem struct {
	typeName string
	bundle   events.Bundle
}

type fakePlugin struct {
	name    string
	outbox  chan outboxItem
	sent    []string
	stopped bool
}

func newFakePlugin(name string) *fakePlugin {
	return &fakePlugin{name: name, outbox: make(chan outboxItem, 8)}
}

func (f *fakePlugin) Name() string { return f.name }
func (f *fakePlugin) Start(ctx context.Context, settings, parameters json.RawMessage) error {
	return nil
}
func (f *fakePlugin) SendEvents(ctx context.Context, typeName string, bundle events.Bundle) error {
	f.sent = append(f.sent, typeName)
	return nil
}
func (f *fakePlugin) GetEvents(ctx context.Context) (string, events.Bundle, error) {
	select {
	case item := <-f.outbox:
		return item.typeName, item.bundle, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}
func (f *fakePlugin) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}

func TestHandle_Start_LaunchesReader(t *testing.T) {
	plugin := newFakePlugin("exec-1")
	queue := make(chan RouterEvent, 8)

	factory := func(cfg executorplugin.Config) (executorplugin.Plugin, error) { return plugin, nil }
	h, err := Start(context.Background(), factory, executorplugin.Config{Name: "exec-1"},
		1, 10, "local", nil, nil, queue, nil)
	require.NoError(t, err)

	evt := cloudevents.NewEvent()
	evt.SetID("e1")
	evt.SetType(string(events.TypeFragmentStateCreate))
	evt.SetSource("test")
	bundle := events.NewBundle()
	bundle.AddEvent(evt)
	plugin.outbox <- outboxItem{typeName: string(events.TypeFragmentStateCreate), bundle: bundle}

	select {
	case re := <-queue:
		assert.Equal(t, h, re.Handle)
		assert.Equal(t, string(events.TypeFragmentStateCreate), re.TypeName)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for router event")
	}

	require.NoError(t, h.Stop(context.Background()))
	assert.True(t, plugin.stopped)
}

func TestHandle_Stop_Idempotent(t *testing.T) {
	plugin := newFakePlugin("exec-1")
	queue := make(chan RouterEvent, 1)
	factory := func(cfg executorplugin.Config) (executorplugin.Plugin, error) { return plugin, nil }
	h, err := Start(context.Background(), factory, executorplugin.Config{Name: "exec-1"},
		1, 10, "local", nil, nil, queue, nil)
	require.NoError(t, err)

	require.NoError(t, h.Stop(context.Background()))
	require.NoError(t, h.Stop(context.Background()))
}

func TestHandle_Tables_OnePerDirection(t *testing.T) {
	plugin := newFakePlugin("exec-1")
	queue := make(chan RouterEvent, 1)
	factory := func(cfg executorplugin.Config) (executorplugin.Plugin, error) { return plugin, nil }
	h, err := Start(context.Background(), factory, executorplugin.Config{Name: "exec-1"},
		1, 10, "local", nil, nil, queue, nil)
	require.NoError(t, err)
	defer h.Stop(context.Background())

	assert.Len(t, h.Tables(), len(events.AllDirections))
	for _, dir := range events.AllDirections {
		assert.NotNil(t, h.Table(dir))
	}
}
