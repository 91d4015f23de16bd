//go:build docker_integration

package backend

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/simbricks/runner/pkg/logger"
)

// TestHTTPClient_AgainstEchoContainer spins up a real HTTP echo server and
// drives HTTPClient's heartbeat RPC against it end to end, exercising the
// retry/circuit-breaker path against a real listener instead of a mock
// http.RoundTripper. Gated behind the docker_integration build tag, mirroring
// the teacher's test/integration container-backed test setup.
func TestHTTPClient_AgainstEchoContainer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const echoPort = "8080/tcp"
	req := testcontainers.ContainerRequest{
		Image:        "mendhak/http-https-echo:31",
		ExposedPorts: []string{echoPort},
		Env:          map[string]string{"HTTP_PORT": "8080"},
		WaitingFor:   wait.ForListeningPort(nat.Port(echoPort)).WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, nat.Port(echoPort))
	require.NoError(t, err)

	log := logger.NewLogger(logger.Config{Level: "warn", Format: "console"})
	client := NewHTTPClient("http://"+host+":"+port.Port(), log, WithRetryAttempts(1))

	require.NoError(t, client.SendHeartbeat(ctx, "runner-it"))
}
