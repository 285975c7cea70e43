package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/solreap/solreap/ledger"
	"github.com/solreap/solreap/orchestrator"
	"github.com/solreap/solreap/reclaim"
)

// Metrics holds operational metrics using OTEL semantic conventions
type Metrics struct {
	cycles             metric.Int64Counter
	cycleDuration      metric.Float64Histogram
	accountsDiscovered metric.Int64Counter
	accountsClosed     metric.Int64Counter
	reclaims           metric.Int64Counter
	reclaimedLamports  metric.Int64Counter
	accountsTracked    metric.Int64Gauge
	pendingLamports    metric.Int64Gauge
}

// NewMetrics creates daemon metrics following OTEL semantic conventions
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("solreap.daemon")

	cycles, err := meter.Int64Counter(
		"solreap.daemon.cycles",
		metric.WithDescription("Number of monitor/reclaim cycles run"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"solreap.daemon.cycle.duration",
		metric.WithDescription("Duration of monitor/reclaim cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	accountsDiscovered, err := meter.Int64Counter(
		"solreap.accounts.discovered",
		metric.WithDescription("Number of newly tracked accounts"),
		metric.WithUnit("{account}"),
	)
	if err != nil {
		return nil, err
	}

	accountsClosed, err := meter.Int64Counter(
		"solreap.accounts.closed",
		metric.WithDescription("Number of accounts observed transitioning to closed"),
		metric.WithUnit("{account}"),
	)
	if err != nil {
		return nil, err
	}

	reclaims, err := meter.Int64Counter(
		"solreap.reclaims",
		metric.WithDescription("Number of reclaim executions by outcome"),
		metric.WithUnit("{reclaim}"),
	)
	if err != nil {
		return nil, err
	}

	reclaimedLamports, err := meter.Int64Counter(
		"solreap.reclaimed.lamports",
		metric.WithDescription("Total lamports recovered"),
		metric.WithUnit("{lamport}"),
	)
	if err != nil {
		return nil, err
	}

	accountsTracked, err := meter.Int64Gauge(
		"solreap.accounts.tracked",
		metric.WithDescription("Current number of tracked accounts"),
		metric.WithUnit("{account}"),
	)
	if err != nil {
		return nil, err
	}

	pendingLamports, err := meter.Int64Gauge(
		"solreap.pending.lamports",
		metric.WithDescription("Rent still locked in closed, unreclaimed accounts"),
		metric.WithUnit("{lamport}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cycles:             cycles,
		cycleDuration:      cycleDuration,
		accountsDiscovered: accountsDiscovered,
		accountsClosed:     accountsClosed,
		reclaims:           reclaims,
		reclaimedLamports:  reclaimedLamports,
		accountsTracked:    accountsTracked,
		pendingLamports:    pendingLamports,
	}, nil
}

// RecordCycle records one cycle run with its mode and status
func (m *Metrics) RecordCycle(ctx context.Context, mode string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDiscovery records counts from one monitor cycle
func (m *Metrics) RecordDiscovery(ctx context.Context, result orchestrator.MonitorResult) {
	m.accountsDiscovered.Add(ctx, int64(result.Discovery.NewAccounts))
	m.accountsClosed.Add(ctx, int64(result.Discovery.NewlyClosed+result.Reconcile.NewlyClosed))
}

// RecordReclaim records one reclaim pass's outcomes
func (m *Metrics) RecordReclaim(ctx context.Context, summary reclaim.Summary) {
	for _, result := range summary.Results {
		m.reclaims.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("outcome", string(result.Outcome)),
				attribute.Bool("dry_run", summary.DryRun),
			),
		)
	}
	if !summary.DryRun {
		m.reclaimedLamports.Add(ctx, int64(summary.ReclaimedLamports)) // #nosec G115 -- lamport totals fit int64
	}
}

// RecordStoreStats records store-level gauges
func (m *Metrics) RecordStoreStats(ctx context.Context, stats *ledger.Stats) {
	m.accountsTracked.Record(ctx, int64(stats.Total))
	m.pendingLamports.Record(ctx, int64(stats.PendingLamports)) // #nosec G115 -- lamport totals fit int64
}
