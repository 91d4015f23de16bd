// Package config loads the Main Runner's YAML configuration file: the
// fragment_executors list (spec §6) plus ambient runner-level settings
// (runner id, backend base URL, polling/heartbeat intervals), with
// environment-variable and CLI-flag overrides layered on top via viper,
// following the teacher's config_loader/viper_loader.go shape.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/simbricks/runner/internal/executorplugin"
	"github.com/simbricks/runner/pkg/apperrors"
)

// EnvPrefix is the prefix for every environment variable that overrides
// runner-level settings.
const EnvPrefix = "MAIN_RUNNER"

// scalarEnvMappings maps a runner-level config key to the env var suffix
// that overrides it, following the teacher's viperKeyMappings table.
var scalarEnvMappings = map[string]string{
	"runner_id":             "RUNNER_ID",
	"backend_base_url":      "BACKEND_BASE_URL",
	"polling_delay_sec":     "POLLING_DELAY_SEC",
	"heartbeat_interval_sec": "HEARTBEAT_INTERVAL_SEC",
}

// cliFlags maps a CLI flag name to the runner-level config key it overrides.
var cliFlags = map[string]string{
	"runner-id":         "runner_id",
	"backend-url":       "backend_base_url",
	"polling-delay-sec": "polling_delay_sec",
}

// FileConfig is the decoded shape of the YAML configuration file.
type FileConfig struct {
	// FragmentExecutors is a sequence of single-key mappings: the key is
	// the executor name, the value its plugin type and settings (spec §6).
	// Kept as raw yaml.Node entries because the executor name lives in the
	// map key, not a field, and duplicate/arity validation needs the
	// original entry shape before it's flattened.
	FragmentExecutors    []yaml.Node `yaml:"fragment_executors"`
	RunnerID             string      `yaml:"runner_id"`
	BackendBaseURL       string      `yaml:"backend_base_url" validate:"required,url"`
	PollingDelaySec      float64     `yaml:"polling_delay_sec"`
	HeartbeatIntervalSec float64     `yaml:"heartbeat_interval_sec"`
}

// Loader resolves fragment executor tags to their plugin configuration and
// factory, and exposes the runner-level ambient settings. Implements
// registry.ExecutorResolver.
type Loader struct {
	ordered     []executorplugin.Config
	byName      map[string]executorplugin.Config
	defaultName string
	plugins     *executorplugin.Registry

	runnerID        string
	backendBaseURL  string
	pollingDelay    time.Duration
	heartbeatPeriod time.Duration
}

// Option customizes Load's behavior.
type Option func(*loadOptions)

type loadOptions struct {
	flags *pflag.FlagSet
}

// WithCLIFlags layers CLI flag overrides on top of the file and environment
// layers, highest priority, mirroring the teacher's cliFlags precedence.
func WithCLIFlags(flags *pflag.FlagSet) Option {
	return func(o *loadOptions) { o.flags = flags }
}

// Load reads and validates the configuration file at path, applying
// environment-variable and CLI-flag overrides to its runner-level scalar
// settings. The fragment_executors list is not override-able: it is only
// ever sourced from the file.
func Load(path string, plugins *executorplugin.Registry, opts ...Option) (*Loader, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("reading config file %q", path), err)
	}

	var file FileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.NewConfigError("parsing config YAML", err)
	}

	executors, defaultName, err := parseExecutors(file.FragmentExecutors)
	if err != nil {
		return nil, err
	}
	if len(executors) == 0 {
		return nil, apperrors.NewConfigError("no fragment_executors configured", nil)
	}

	applyScalarOverrides(&file, o.flags)

	if err := validator.New().Struct(&file); err != nil {
		return nil, apperrors.NewConfigError("validating config", err)
	}

	byName := make(map[string]executorplugin.Config, len(executors))
	for _, cfg := range executors {
		if err := validator.New().Struct(&cfg); err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("validating executor %q", cfg.Name), err)
		}
		byName[cfg.Name] = cfg
	}

	pollingDelay := time.Duration(file.PollingDelaySec * float64(time.Second))
	if pollingDelay <= 0 {
		pollingDelay = 5 * time.Second
	}
	heartbeatPeriod := time.Duration(file.HeartbeatIntervalSec * float64(time.Second))
	if heartbeatPeriod <= 0 {
		heartbeatPeriod = 30 * time.Second
	}

	return &Loader{
		ordered:         executors,
		byName:          byName,
		defaultName:     defaultName,
		plugins:         plugins,
		runnerID:        file.RunnerID,
		backendBaseURL:  file.BackendBaseURL,
		pollingDelay:    pollingDelay,
		heartbeatPeriod: heartbeatPeriod,
	}, nil
}

// parseExecutors flattens the fragment_executors sequence, enforcing that
// every entry is a single-key mapping (spec §6: "each list entry is a
// single-key mapping") and rejecting duplicate executor names.
func parseExecutors(entries []yaml.Node) ([]executorplugin.Config, string, error) {
	var ordered []executorplugin.Config
	seen := make(map[string]bool)

	for i, entry := range entries {
		if entry.Kind != yaml.MappingNode {
			return nil, "", apperrors.NewConfigError(
				fmt.Sprintf("fragment_executors[%d]: expected a mapping", i), nil)
		}
		if len(entry.Content)/2 != 1 {
			return nil, "", apperrors.NewConfigError(
				fmt.Sprintf("fragment_executors[%d]: must be a single-key mapping, got %d keys", i, len(entry.Content)/2), nil)
		}

		var name string
		if err := entry.Content[0].Decode(&name); err != nil {
			return nil, "", apperrors.NewConfigError(fmt.Sprintf("fragment_executors[%d]: decoding name", i), err)
		}
		if seen[name] {
			return nil, "", apperrors.NewConfigError(fmt.Sprintf("duplicate executor name %q", name), nil)
		}
		seen[name] = true

		var body struct {
			Plugin   string    `yaml:"plugin"`
			Settings yaml.Node `yaml:"settings"`
		}
		if err := entry.Content[1].Decode(&body); err != nil {
			return nil, "", apperrors.NewConfigError(fmt.Sprintf("fragment_executors[%d]: decoding body", i), err)
		}

		settingsJSON, err := yamlNodeToJSON(body.Settings)
		if err != nil {
			return nil, "", apperrors.NewConfigError(fmt.Sprintf("fragment_executors[%d]: settings must be JSON-representable", i), err)
		}

		ordered = append(ordered, executorplugin.Config{
			Name:       name,
			PluginType: body.Plugin,
			Settings:   settingsJSON,
		})
	}

	defaultName := ""
	if len(ordered) > 0 {
		defaultName = ordered[0].Name
	}
	return ordered, defaultName, nil
}

// yamlNodeToJSON converts an executor's opaque YAML settings block to its
// JSON-encoded form, the wire shape executorplugin.Config.Settings expects
// (every plugin unmarshals it with encoding/json). An empty/unset node
// yields nil, so plugins can treat "no settings" uniformly.
func yamlNodeToJSON(node yaml.Node) (json.RawMessage, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	var generic interface{}
	if err := node.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// applyScalarOverrides layers environment and CLI overrides onto file's
// runner-level settings, using viper purely as the precedence/merge engine
// (CLI flags > environment > file), following the teacher's override
// layering in config_loader/viper_loader.go.
func applyScalarOverrides(file *FileConfig, flags *pflag.FlagSet) {
	v := viper.New()
	v.Set("runner_id", file.RunnerID)
	v.Set("backend_base_url", file.BackendBaseURL)
	v.Set("polling_delay_sec", file.PollingDelaySec)
	v.Set("heartbeat_interval_sec", file.HeartbeatIntervalSec)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	for key, envSuffix := range scalarEnvMappings {
		envVar := EnvPrefix + "_" + envSuffix
		if val := os.Getenv(envVar); val != "" {
			v.Set(key, val)
		}
	}

	if flags != nil {
		for flagName, key := range cliFlags {
			if flag := flags.Lookup(flagName); flag != nil && flag.Changed {
				v.Set(key, flag.Value.String())
			}
		}
	}

	file.RunnerID = v.GetString("runner_id")
	file.BackendBaseURL = v.GetString("backend_base_url")
	file.PollingDelaySec = v.GetFloat64("polling_delay_sec")
	file.HeartbeatIntervalSec = v.GetFloat64("heartbeat_interval_sec")
}

// Resolve implements registry.ExecutorResolver: tag "" selects the first
// configured executor in file order (spec §3: FragmentExecutorConfig "the
// first config in insertion order is the default").
func (l *Loader) Resolve(tag string) (executorplugin.Config, executorplugin.Factory, bool) {
	if tag == "" {
		tag = l.defaultName
	}
	cfg, ok := l.byName[tag]
	if !ok {
		return executorplugin.Config{}, nil, false
	}
	return cfg, l.plugins.Build, true
}

// RunnerID returns the configured runner identity.
func (l *Loader) RunnerID() string { return l.runnerID }

// BackendBaseURL returns the configured backend base URL.
func (l *Loader) BackendBaseURL() string { return l.backendBaseURL }

// PollingInterval returns the event pump's poll period.
func (l *Loader) PollingInterval() time.Duration { return l.pollingDelay }

// HeartbeatInterval returns the heartbeat send period.
func (l *Loader) HeartbeatInterval() time.Duration { return l.heartbeatPeriod }

// ExecutorTags returns every configured executor tag, in file order.
func (l *Loader) ExecutorTags() []string {
	tags := make([]string, 0, len(l.ordered))
	for _, cfg := range l.ordered {
		tags = append(tags, cfg.Name)
	}
	return tags
}
