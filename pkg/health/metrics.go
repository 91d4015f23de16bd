package health

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/simbricks/runner/pkg/logger"
)

// MetricsServer provides the Prometheus /metrics HTTP endpoint.
type MetricsServer struct {
	server           *http.Server
	log              logger.Logger
	port             string
	upGauge          prometheus.Gauge
	buildInfo        *prometheus.GaugeVec
	lastTickGauge    prometheus.Gauge
	lastSuccessGauge prometheus.Gauge
	lastFailureGauge prometheus.Gauge
	activeRunsGauge  prometheus.Gauge
}

// MetricsConfig holds configuration for metrics registration.
type MetricsConfig struct {
	Component string
	Version   string
	Commit    string
}

// NewMetricsServer creates a new metrics server with the runner's standard
// metric set. Each server uses its own Prometheus registry to avoid
// conflicts when multiple instances run in the same test process.
func NewMetricsServer(log logger.Logger, port string, cfg MetricsConfig) *MetricsServer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "main_runner_build_info",
			Help: "Build information for the main runner",
		},
		[]string{"component", "version", "commit"},
	)

	upGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "main_runner_up",
			Help: "Whether the main runner process is up and running",
			ConstLabels: prometheus.Labels{
				"component": cfg.Component,
				"version":   cfg.Version,
			},
		},
	)

	// Dead man's switch: timestamp of the last completed event-pump tick,
	// regardless of whether the tick found any events to process.
	lastTickGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "main_runner_last_pump_tick_timestamp",
			Help: "Unix timestamp of the last completed event pump tick (dead man's switch)",
			ConstLabels: prometheus.Labels{
				"component": cfg.Component,
			},
		},
	)

	lastSuccessGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "main_runner_last_event_success_timestamp",
			Help: "Unix timestamp of the last event dispatched and applied successfully",
			ConstLabels: prometheus.Labels{
				"component": cfg.Component,
			},
		},
	)

	lastFailureGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "main_runner_last_event_failure_timestamp",
			Help: "Unix timestamp of the last event that failed processing",
			ConstLabels: prometheus.Labels{
				"component": cfg.Component,
			},
		},
	)

	activeRunsGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "main_runner_active_runs",
			Help: "Number of runs currently tracked in the run registry",
			ConstLabels: prometheus.Labels{
				"component": cfg.Component,
			},
		},
	)

	registry.MustRegister(buildInfo)
	registry.MustRegister(upGauge)
	registry.MustRegister(lastTickGauge)
	registry.MustRegister(lastSuccessGauge)
	registry.MustRegister(lastFailureGauge)
	registry.MustRegister(activeRunsGauge)

	buildInfo.WithLabelValues(cfg.Component, cfg.Version, cfg.Commit).Set(1)
	upGauge.Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		log:              log,
		port:             port,
		upGauge:          upGauge,
		buildInfo:        buildInfo,
		lastTickGauge:    lastTickGauge,
		lastSuccessGauge: lastSuccessGauge,
		lastFailureGauge: lastFailureGauge,
		activeRunsGauge:  activeRunsGauge,
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start starts the metrics server in a goroutine.
func (s *MetricsServer) Start(ctx context.Context) error {
	s.log.Infof(ctx, "starting metrics server on port %s", s.port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCtx := logger.WithErrorField(ctx, err)
			s.log.Errorf(errCtx, "metrics server error")
		}
	}()

	return nil
}

// RecordPumpTick updates the dead man's switch metric to the current time.
// Call this after every event pump tick, regardless of outcome.
func (s *MetricsServer) RecordPumpTick() {
	s.lastTickGauge.SetToCurrentTime()
}

// RecordEventSuccess updates the last-success timestamp to the current time.
func (s *MetricsServer) RecordEventSuccess() {
	s.lastSuccessGauge.SetToCurrentTime()
}

// RecordEventFailure updates the last-failure timestamp to the current time.
func (s *MetricsServer) RecordEventFailure() {
	s.lastFailureGauge.SetToCurrentTime()
}

// SetActiveRuns reports the current size of the run registry.
func (s *MetricsServer) SetActiveRuns(n int) {
	s.activeRunsGauge.Set(float64(n))
}

// Shutdown gracefully shuts down the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down metrics server")
	s.upGauge.Set(0)
	return s.server.Shutdown(ctx)
}
