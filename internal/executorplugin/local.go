package executorplugin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/simbricks/runner/internal/events"
)

// frame is the newline-delimited JSON envelope exchanged with a local
// subprocess executor over stdin/stdout: one frame per SendEvents/GetEvents
// call.
type frame struct {
	Type   string        `json:"type"`
	Bundle events.Bundle  `json:"bundle"`
}

// localConfig is the settings shape a "local" plugin_type expects in its
// YAML settings block.
type localConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// LocalPlugin runs a fragment executor as a subprocess, framing event
// bundles to/from the process as newline-delimited JSON over stdio.
type LocalPlugin struct {
	name string
	cmd  *exec.Cmd

	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu       sync.Mutex
	stopped  bool
}

// NewLocalPlugin constructs (but does not yet start) a local subprocess
// plugin from cfg.
func NewLocalPlugin(cfg Config) (Plugin, error) {
	var lc localConfig
	if len(cfg.Settings) > 0 {
		if err := json.Unmarshal(cfg.Settings, &lc); err != nil {
			return nil, fmt.Errorf("local plugin %q: invalid settings: %w", cfg.Name, err)
		}
	}
	if lc.Command == "" {
		return nil, fmt.Errorf("local plugin %q: settings.command is required", cfg.Name)
	}

	return &LocalPlugin{
		name: cfg.Name,
		cmd:  exec.Command(lc.Command, lc.Args...),
	}, nil
}

func (p *LocalPlugin) Name() string { return p.name }

// Start launches the subprocess and sends it an initial frame carrying the
// fragment's settings and parameters.
func (p *LocalPlugin) Start(ctx context.Context, settings, parameters json.RawMessage) error {
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("local plugin %q: stdin pipe: %w", p.name, err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("local plugin %q: stdout pipe: %w", p.name, err)
	}
	p.stdin = stdin
	p.stdout = bufio.NewReader(stdout)

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("local plugin %q: start: %w", p.name, err)
	}

	init := struct {
		Settings   json.RawMessage `json:"settings"`
		Parameters json.RawMessage `json:"parameters"`
	}{Settings: settings, Parameters: parameters}

	line, err := json.Marshal(init)
	if err != nil {
		return fmt.Errorf("local plugin %q: encoding init frame: %w", p.name, err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("local plugin %q: writing init frame: %w", p.name, err)
	}
	return nil
}

// SendEvents writes one frame to the subprocess's stdin.
func (p *LocalPlugin) SendEvents(ctx context.Context, typeName string, bundle events.Bundle) error {
	line, err := json.Marshal(frame{Type: typeName, Bundle: bundle})
	if err != nil {
		return fmt.Errorf("local plugin %q: encoding frame: %w", p.name, err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("local plugin %q: writing frame: %w", p.name, err)
	}
	return nil
}

// GetEvents blocks reading the next newline-delimited frame from stdout.
func (p *LocalPlugin) GetEvents(ctx context.Context) (string, events.Bundle, error) {
	line, err := p.stdout.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("local plugin %q: reading frame: %w", p.name, err)
	}

	var f frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return "", nil, fmt.Errorf("local plugin %q: decoding frame: %w", p.name, err)
	}
	return f.Type, f.Bundle, nil
}

// Stop closes the subprocess's stdin and waits for it to exit. Safe to
// call more than once.
func (p *LocalPlugin) Stop(ctx context.Context) error {
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
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("local plugin %q: process exit: %w", p.name, err)
	}
	return nil
}
