package executorplugin

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"
	"github.com/simbricks/runner/internal/events"
)

// dockerConfig is the settings shape a "docker" plugin_type expects.
type dockerConfig struct {
	Image       string   `json:"image"`
	Entrypoint  []string `json:"entrypoint,omitempty"`
	Args        []string `json:"args,omitempty"`
	Host        string   `json:"host,omitempty"`         // defaults to DOCKER_HOST/local socket
	TLSCertPath string   `json:"tls_cert_path,omitempty"` // directory with ca/cert/key.pem, as in DOCKER_CERT_PATH
	TLSVerify   bool     `json:"tls_verify,omitempty"`
}

// DockerPlugin runs a fragment executor as a single container on the local
// (or configured remote) Docker daemon, attaching to its stdio the same way
// LocalPlugin attaches to a subprocess's.
type DockerPlugin struct {
	name       string
	image      string
	entrypoint []string
	args       []string
	cli        *client.Client
	container  string

	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu      sync.Mutex
	stopped bool
}

// NewDockerPlugin constructs (but does not yet start) a Docker-backed
// plugin from cfg.
func NewDockerPlugin(cfg Config) (Plugin, error) {
	var dc dockerConfig
	if len(cfg.Settings) > 0 {
		if err := json.Unmarshal(cfg.Settings, &dc); err != nil {
			return nil, fmt.Errorf("docker plugin %q: invalid settings: %w", cfg.Name, err)
		}
	}
	if dc.Image == "" {
		return nil, fmt.Errorf("docker plugin %q: settings.image is required", cfg.Name)
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if dc.Host != "" {
		opts = append(opts, client.WithHost(dc.Host))
	}
	if dc.TLSCertPath != "" {
		tlsCfg, err := tlsconfig.Client(tlsconfig.Options{
			CAFile:             dc.TLSCertPath + "/ca.pem",
			CertFile:           dc.TLSCertPath + "/cert.pem",
			KeyFile:            dc.TLSCertPath + "/key.pem",
			InsecureSkipVerify: !dc.TLSVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("docker plugin %q: building TLS config: %w", cfg.Name, err)
		}
		opts = append(opts, client.WithHTTPClient(httpClientWithTLS(tlsCfg)))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker plugin %q: creating client: %w", cfg.Name, err)
	}

	return &DockerPlugin{
		name:       cfg.Name,
		image:      dc.Image,
		entrypoint: dc.Entrypoint,
		args:       dc.Args,
		cli:        cli,
	}, nil
}

func (p *DockerPlugin) Name() string { return p.name }

// Start creates and starts the container, passing settings/parameters as an
// environment variable so the container's entrypoint can parse them the
// same way a local subprocess reads its init frame on stdin.
func (p *DockerPlugin) Start(ctx context.Context, settings, parameters json.RawMessage) error {
	init := struct {
		Settings   json.RawMessage `json:"settings"`
		Parameters json.RawMessage `json:"parameters"`
	}{Settings: settings, Parameters: parameters}
	initJSON, err := json.Marshal(init)
	if err != nil {
		return fmt.Errorf("docker plugin %q: encoding init payload: %w", p.name, err)
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:        p.image,
		Entrypoint:   p.entrypoint,
		Cmd:          p.args,
		Env:          []string{"FRAGMENT_INIT=" + string(initJSON)},
		AttachStdin:  true,
		AttachStdout: true,
		OpenStdin:    true,
		StdinOnce:    true,
		Tty:          false,
	}, nil, nil, nil, "")
	if err != nil {
		return fmt.Errorf("docker plugin %q: creating container: %w", p.name, err)
	}
	p.container = resp.ID

	attach, err := p.cli.ContainerAttach(ctx, p.container, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true,
	})
	if err != nil {
		return fmt.Errorf("docker plugin %q: attaching: %w", p.name, err)
	}
	p.stdin = attach.Conn
	p.stdout = bufio.NewReader(attach.Reader)

	if err := p.cli.ContainerStart(ctx, p.container, container.StartOptions{}); err != nil {
		return fmt.Errorf("docker plugin %q: starting container: %w", p.name, err)
	}
	return nil
}

// SendEvents writes one frame to the container's attached stdin.
func (p *DockerPlugin) SendEvents(ctx context.Context, typeName string, bundle events.Bundle) error {
	line, err := json.Marshal(frame{Type: typeName, Bundle: bundle})
	if err != nil {
		return fmt.Errorf("docker plugin %q: encoding frame: %w", p.name, err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("docker plugin %q: writing frame: %w", p.name, err)
	}
	return nil
}

// GetEvents blocks reading the next newline-delimited frame from the
// container's attached stdout.
func (p *DockerPlugin) GetEvents(ctx context.Context) (string, events.Bundle, error) {
	line, err := p.stdout.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("docker plugin %q: reading frame: %w", p.name, err)
	}
	var f frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return "", nil, fmt.Errorf("docker plugin %q: decoding frame: %w", p.name, err)
	}
	return f.Type, f.Bundle, nil
}

// Stop stops and removes the container. Safe to call more than once.
func (p *DockerPlugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.container == "" {
		return nil
	}

	timeout := 10
	if err := p.cli.ContainerStop(ctx, p.container, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("docker plugin %q: stopping container: %w", p.name, err)
	}
	if err := p.cli.ContainerRemove(ctx, p.container, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("docker plugin %q: removing container: %w", p.name, err)
	}
	return nil
}

func httpClientWithTLS(cfg *tls.Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: cfg},
	}
}
