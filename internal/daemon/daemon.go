// Package daemon runs the bot continuously: monitor and reclaim cycles on
// independent intervals, with Prometheus metrics and health endpoints.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/solreap/solreap/ledger"
	"github.com/solreap/solreap/orchestrator"
	"github.com/solreap/solreap/reclaim"
	"github.com/solreap/solreap/telemetry"
)

// Config holds daemon configuration.
type Config struct {
	MonitorInterval time.Duration
	ReclaimInterval time.Duration
	MetricsPort     int
}

// Runner is the cycle surface the daemon drives.
type Runner interface {
	Monitor(ctx context.Context) (orchestrator.MonitorResult, error)
	Reclaim(ctx context.Context) (reclaim.Summary, error)
}

// Daemon schedules cycles. Cycles never overlap: both tickers feed one
// select loop, so a slow reclaim pass delays the next monitor pass instead
// of racing it for the store.
type Daemon struct {
	config  Config
	runner  Runner
	store   *ledger.Store
	metrics *Metrics
	logger  *telemetry.Logger

	startTime  time.Time
	cycleCount atomic.Int64
	boundPort  atomic.Int64
}

// New creates a daemon.
func New(config Config, runner Runner, store *ledger.Store, logger *telemetry.Logger) (*Daemon, error) {
	if config.MonitorInterval <= 0 {
		config.MonitorInterval = 15 * time.Minute
	}
	if config.ReclaimInterval <= 0 {
		config.ReclaimInterval = 6 * time.Hour
	}
	metrics, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon metrics: %w", err)
	}
	return &Daemon{
		config:    config,
		runner:    runner,
		store:     store,
		metrics:   metrics,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// Start runs the cycle loop and the metrics server until ctx is cancelled
// or either actor fails.
func (d *Daemon) Start(ctx context.Context) error {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	server := d.metricsServer(registry)
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", d.config.MetricsPort))
	if err != nil {
		return fmt.Errorf("failed to bind metrics port: %w", err)
	}
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		d.boundPort.Store(int64(addr.Port))
	}

	var group run.Group

	loopCtx, cancelLoop := context.WithCancel(ctx)
	group.Add(
		func() error { return d.loop(loopCtx) },
		func(error) { cancelLoop() },
	)

	group.Add(
		func() error {
			d.logger.Info().Int64("port", d.boundPort.Load()).Msg("metrics server listening")
			if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
		func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		},
	)

	return group.Run()
}

// MetricsPort returns the port the metrics server actually bound, or 0
// before Start.
func (d *Daemon) MetricsPort() int {
	return int(d.boundPort.Load())
}

func (d *Daemon) metricsServer(registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	healthy := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok uptime=%ds cycles=%d\n",
			int64(time.Since(d.startTime).Seconds()), d.cycleCount.Load())
	}
	mux.HandleFunc("/health", healthy)
	mux.HandleFunc("/-/healthy", healthy)
	mux.HandleFunc("/-/ready", healthy)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", d.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// loop runs an immediate monitor pass, then alternates on the two tickers.
func (d *Daemon) loop(ctx context.Context) error {
	monitorTicker := time.NewTicker(d.config.MonitorInterval)
	defer monitorTicker.Stop()
	reclaimTicker := time.NewTicker(d.config.ReclaimInterval)
	defer reclaimTicker.Stop()

	d.runMonitor(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-monitorTicker.C:
			d.runMonitor(ctx)
		case <-reclaimTicker.C:
			d.runReclaim(ctx)
		}
	}
}

func (d *Daemon) runMonitor(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	d.cycleCount.Add(1)
	start := time.Now()

	result, err := d.runner.Monitor(ctx)
	d.metrics.RecordCycle(ctx, "monitor", time.Since(start), err)
	if err != nil {
		d.logger.WithContext(ctx).Error().Err(err).Msg("monitor cycle failed")
		return
	}

	d.metrics.RecordDiscovery(ctx, result)
	d.recordStoreGauges(ctx)
}

func (d *Daemon) runReclaim(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	d.cycleCount.Add(1)
	start := time.Now()

	summary, err := d.runner.Reclaim(ctx)
	d.metrics.RecordCycle(ctx, "reclaim", time.Since(start), err)
	if err != nil {
		d.logger.WithContext(ctx).Error().Err(err).Msg("reclaim cycle failed")
		return
	}

	d.metrics.RecordReclaim(ctx, summary)
	d.recordStoreGauges(ctx)
}

func (d *Daemon) recordStoreGauges(ctx context.Context) {
	stats, err := d.store.ComputeStats()
	if err != nil {
		d.logger.LogStoreError(ctx, "compute_stats", err)
		return
	}
	d.metrics.RecordStoreStats(ctx, stats)
}

// CycleCount returns the number of cycles started so far.
func (d *Daemon) CycleCount() int64 {
	return d.cycleCount.Load()
}

// Health reports liveness for the health endpoints.
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
	}
}

// HealthStatus is the daemon liveness report.
type HealthStatus struct {
	Status string
	Uptime int64
}
