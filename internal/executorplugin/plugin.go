// Package executorplugin defines the Fragment Executor plugin contract
// (spec §4.5) and its two concrete implementations: local subprocesses and
// Docker containers.
package executorplugin

import (
	"context"
	"encoding/json"

	"github.com/simbricks/runner/internal/events"
)

// Plugin is the opaque per-fragment executor contract. The Main Runner
// assumes a plugin multiplexes its own internal transport; it never
// inspects a plugin's internals beyond this interface.
type Plugin interface {
	// Start prepares the executor for a single fragment run.
	Start(ctx context.Context, settings json.RawMessage, parameters json.RawMessage) error
	// SendEvents delivers a batch of events of the given type to the executor.
	SendEvents(ctx context.Context, typeName string, bundle events.Bundle) error
	// GetEvents blocks until the executor produces its next batch.
	GetEvents(ctx context.Context) (typeName string, bundle events.Bundle, err error)
	// Stop releases the executor's resources. Safe to call once; a second
	// call must be a no-op rather than an error.
	Stop(ctx context.Context) error
	// Name identifies the running executor instance for diagnostics.
	Name() string
}

// Config is one entry of the fragment_executors YAML list (spec §6).
type Config struct {
	Name       string          `yaml:"-" validate:"required"`
	PluginType string          `yaml:"plugin" validate:"required"`
	Settings   json.RawMessage `yaml:"settings"`
}

// Factory constructs a fresh Plugin instance for one fragment, given the
// executor's static configuration. Each plugin_type registers exactly one
// Factory.
type Factory func(cfg Config) (Plugin, error)
