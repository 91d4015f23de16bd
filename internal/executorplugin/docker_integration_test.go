//go:build docker_integration

package executorplugin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDockerPlugin_StartStop exercises NewDockerPlugin against a real Docker
// daemon: starts a container, confirms it's running, then stops it and
// confirms it's gone. Gated behind the docker_integration build tag since it
// needs a live daemon, mirroring the teacher's test/integration split without
// a root-level tests/ directory.
func TestDockerPlugin_StartStop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	settings, err := json.Marshal(dockerConfig{
		Image:      "alpine:3.20",
		Entrypoint: []string{"sleep"},
		Args:       []string{"30"},
	})
	require.NoError(t, err)

	plugin, err := NewDockerPlugin(Config{Name: "docker-it", PluginType: "docker", Settings: settings})
	require.NoError(t, err)
	dp := plugin.(*DockerPlugin)

	require.NoError(t, dp.Start(ctx, json.RawMessage(`{}`), json.RawMessage(`{}`)))

	inspect, err := dp.cli.ContainerInspect(ctx, dp.container)
	require.NoError(t, err)
	require.True(t, inspect.State.Running)

	require.NoError(t, dp.Stop(ctx))

	_, err = dp.cli.ContainerInspect(ctx, dp.container)
	require.Error(t, err, "container should be removed after Stop")
}
