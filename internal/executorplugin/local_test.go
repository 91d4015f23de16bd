package executorplugin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/simbricks/runner/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCloudEvent(t *testing.T, typeName string) cloudevents.Event {
	t.Helper()
	evt := cloudevents.NewEvent()
	evt.SetID("test-id")
	evt.SetType(typeName)
	evt.SetSource("test")
	require.NoError(t, evt.SetData(cloudevents.ApplicationJSON, map[string]string{"hello": "world"}))
	return evt
}

// catPlugin is built around /bin/cat so the test never depends on a real
// fragment executor binary: whatever is written to stdin is echoed back on
// stdout, letting us exercise the frame-level protocol end to end.
func newCatPlugin(t *testing.T) Plugin {
	t.Helper()
	p, err := NewLocalPlugin(Config{
		Name:       "cat-executor",
		PluginType: "local",
		Settings:   json.RawMessage(`{"command":"cat"}`),
	})
	require.NoError(t, err)
	return p
}

func TestNewLocalPlugin_RequiresCommand(t *testing.T) {
	_, err := NewLocalPlugin(Config{Name: "bad", Settings: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestLocalPlugin_Name(t *testing.T) {
	p := newCatPlugin(t)
	assert.Equal(t, "cat-executor", p.Name())
}

func TestLocalPlugin_StartSendReceive(t *testing.T) {
	p := newCatPlugin(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.Start(ctx, json.RawMessage(`{"k":"v"}`), json.RawMessage(`{}`)))

	bundle := events.NewBundle()
	evt := newTestCloudEvent(t, "run.fragment.state")
	bundle.AddEvent(evt)

	require.NoError(t, p.SendEvents(ctx, "run.fragment.state", bundle))

	// cat echoes the init frame Start wrote before any event frame.
	_, _, err := p.GetEvents(ctx)
	require.NoError(t, err)

	typeName, got, err := p.GetEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run.fragment.state", typeName)
	assert.Equal(t, 1, got.Count())

	require.NoError(t, p.Stop(ctx))
	require.NoError(t, p.Stop(ctx)) // idempotent
}

func TestLocalPlugin_Stop_BeforeStart(t *testing.T) {
	p := newCatPlugin(t)
	assert.NoError(t, p.Stop(context.Background()))
}
