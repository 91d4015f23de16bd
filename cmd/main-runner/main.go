package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/simbricks/runner/internal/backend"
	"github.com/simbricks/runner/internal/config"
	"github.com/simbricks/runner/internal/events"
	"github.com/simbricks/runner/internal/executorplugin"
	"github.com/simbricks/runner/internal/fragment"
	"github.com/simbricks/runner/internal/pump"
	"github.com/simbricks/runner/internal/registry"
	"github.com/simbricks/runner/pkg/health"
	"github.com/simbricks/runner/pkg/logger"
	"github.com/simbricks/runner/pkg/otel"
	"github.com/simbricks/runner/pkg/version"
)

// Command-line flags
var (
	configPath string
	logLevel   string
	logFormat  string
	logOutput  string
	serveFlags *pflag.FlagSet
)

// Timeout constants
const (
	OTelShutdownTimeout         = 5 * time.Second
	HealthServerShutdownTimeout = 5 * time.Second
)

// Server port constants
const (
	HealthServerPort  = "8080"
	MetricsServerPort = "9090"
)

// routerQueueSize bounds the number of executor events buffered between a
// fragment's reader task and the router loop draining the shared queue.
const routerQueueSize = 256

func main() {
	rootCmd := &cobra.Command{
		Use:   "main-runner",
		Short: "Main Runner - mediates between the orchestration backend and local fragment executors",
		Long: `Main Runner is a long-lived agent that polls the orchestration
backend for run control and heartbeat events, starts and tears down
simulation fragments on configured executor plugins, and routes events
between fragments and the backend.`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the runner and begin processing events",
		Long: `Start the Main Runner in serve mode. The runner will:
- Announce its presence and configured executor tags to the backend
- Poll for runner, run-control, and start-run events
- Start fragments on the configured executor plugins and route their events
- Report heartbeats and run state back to the backend`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to the runner configuration file (can also use MAIN_RUNNER_CONFIG env var)")
	serveCmd.Flags().String("runner-id", "", "Runner identity (overrides config file / env)")
	serveCmd.Flags().String("backend-url", "", "Backend base URL (overrides config file / env)")
	serveCmd.Flags().String("polling-delay-sec", "", "Event pump poll period in seconds (overrides config file / env)")

	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error). Env: LOG_LEVEL")
	serveCmd.Flags().StringVar(&logFormat, "log-format", "", "Log format (json, console). Env: LOG_FORMAT")
	serveCmd.Flags().StringVar(&logOutput, "log-output", "", "Log output (stdout, stderr)")
	serveFlags = serveCmd.Flags()

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			fmt.Printf("Main Runner\n")
			fmt.Printf("  Version:    %s\n", info.Version)
			fmt.Printf("  Commit:     %s\n", info.Commit)
			fmt.Printf("  Built:      %s\n", info.BuildDate)
			fmt.Printf("  Tag:        %s\n", info.Tag)
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildLoggerConfig creates a logger configuration from environment
// variables and command-line flags, flags taking precedence.
func buildLoggerConfig(component string) logger.Config {
	cfg := logger.ConfigFromEnv(component, version.Version)

	if logLevel != "" {
		cfg.Level = logLevel
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}
	switch logOutput {
	case "stderr":
		cfg.Output = os.Stderr
	case "stdout":
		cfg.Output = os.Stdout
	}

	return cfg
}

// resolveConfigPath applies the env-var fallback for the config flag.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("MAIN_RUNNER_CONFIG")
}

// runServe wires together configuration, backend client, run registry, and
// the event pump / router pair, then blocks until a shutdown signal arrives.
func runServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.NewLogger(buildLoggerConfig("main-runner"))
	log.Infof(ctx, "starting main runner version=%s commit=%s built=%s tag=%s",
		version.Version, version.Commit, version.BuildDate, version.Tag)

	path := resolveConfigPath()
	if path == "" {
		err := fmt.Errorf("no config file specified: pass --config or set MAIN_RUNNER_CONFIG")
		log.Error(ctx, err, "missing configuration path")
		return err
	}

	loader, err := config.Load(path, executorplugin.NewRegistry(), config.WithCLIFlags(serveFlags))
	if err != nil {
		log.Error(ctx, err, "failed to load configuration")
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Recreate the logger now that the runner identity is known, so every
	// subsequent log line carries it as the component field.
	log = logger.NewLogger(buildLoggerConfig(loader.RunnerID()))
	log.Infof(ctx, "configuration loaded: runner_id=%s backend_url=%s executors=%v",
		loader.RunnerID(), loader.BackendBaseURL(), loader.ExecutorTags())

	sampleRatio := otel.GetTraceSampleRatio(log, ctx)
	tp, err := otel.InitTracer(loader.RunnerID(), version.Version, sampleRatio)
	if err != nil {
		log.Error(ctx, err, "failed to initialize OpenTelemetry")
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), OTelShutdownTimeout)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, err, "failed to shut down tracer provider")
		}
	}()

	healthServer := health.NewServer(log, HealthServerPort)
	if err := healthServer.Start(ctx); err != nil {
		log.Error(ctx, err, "failed to start health server")
		return fmt.Errorf("failed to start health server: %w", err)
	}
	healthServer.SetConfigLoaded()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), HealthServerShutdownTimeout)
		defer shutdownCancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, err, "failed to shut down health server")
		}
	}()

	metricsServer := health.NewMetricsServer(log, MetricsServerPort, health.MetricsConfig{
		Component: loader.RunnerID(),
		Version:   version.Version,
		Commit:    version.Commit,
	})
	if err := metricsServer.Start(ctx); err != nil {
		log.Error(ctx, err, "failed to start metrics server")
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), HealthServerShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, err, "failed to shut down metrics server")
		}
	}()

	be := backend.NewHTTPClient(loader.BackendBaseURL(), log)

	queue := make(chan fragment.RouterEvent, routerQueueSize)
	reg := registry.New(be, events.DefaultPayloadParser{}, loader, queue, log)

	log.Info(ctx, "announcing presence to backend")
	if err := be.RunnerStarted(ctx, loader.RunnerID(), loader.ExecutorTags()); err != nil {
		log.Error(ctx, err, "failed to announce runner presence")
		return fmt.Errorf("failed to announce runner presence: %w", err)
	}

	eventPump := pump.New(loader.RunnerID(), be, reg, log, loader.PollingInterval())
	router := pump.NewRouter(loader.RunnerID(), queue, be, reg, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof(ctx, "received signal %s, initiating graceful shutdown", sig)
		healthServer.SetShuttingDown(true)
		cancel()

		sig = <-sigCh
		log.Infof(ctx, "received second signal %s, forcing immediate exit", sig)
		os.Exit(1)
	}()

	done := make(chan struct{}, 2)
	go func() {
		eventPump.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		router.Run(ctx)
		done <- struct{}{}
	}()
	go runHeartbeatLoop(ctx, be, loader.RunnerID(), loader.HeartbeatInterval(), log)

	log.Info(ctx, "main runner started, waiting for events")

	<-ctx.Done()
	log.Info(ctx, "context cancelled, waiting for pump and router to stop")
	<-done
	<-done

	log.Info(ctx, "main runner shutdown complete")
	return nil
}

// runHeartbeatLoop independently reports liveness to the backend on a fixed
// period, separate from the reactive heartbeat the pump sends in response to
// a runner-read query. Exits when ctx is cancelled.
func runHeartbeatLoop(ctx context.Context, be backend.Client, runnerID string, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := be.SendHeartbeat(ctx, runnerID); err != nil {
				log.Error(ctx, err, "periodic heartbeat failed")
			}
		}
	}
}
