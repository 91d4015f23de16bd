package executorplugin

import "fmt"

// Registry resolves a plugin_type string to its Factory, loaded once per
// distinct type and cached for the lifetime of the process (spec §6:
// "plugin modules are loaded once and cached by path").
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a Registry with the built-in local and docker
// factories pre-registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("local", NewLocalPlugin)
	r.Register("docker", NewDockerPlugin)
	return r
}

// Register adds or replaces the factory for pluginType. Exposed so tests
// and alternative deployments can add plugin types beyond local/docker.
func (r *Registry) Register(pluginType string, factory Factory) {
	r.factories[pluginType] = factory
}

// Build resolves cfg.PluginType to its factory and constructs a fresh
// Plugin instance for one fragment.
func (r *Registry) Build(cfg Config) (Plugin, error) {
	factory, ok := r.factories[cfg.PluginType]
	if !ok {
		return nil, fmt.Errorf("unknown plugin type %q for executor %q", cfg.PluginType, cfg.Name)
	}
	return factory(cfg)
}
