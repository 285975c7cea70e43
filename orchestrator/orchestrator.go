// Package orchestrator sequences the discovery and reclaim engines into
// operator-facing cycles. It owns scheduling concerns only; all domain state
// lives behind the engines.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/solreap/solreap/discovery"
	"github.com/solreap/solreap/notify"
	"github.com/solreap/solreap/reclaim"
	"github.com/solreap/solreap/telemetry"
)

// Discoverer is the discovery engine surface.
type Discoverer interface {
	Discover(ctx context.Context) (discovery.Result, error)
	Reconcile(ctx context.Context) (discovery.Result, error)
}

// Reclaimer is the reclaim engine surface.
type Reclaimer interface {
	Run(ctx context.Context) (reclaim.Summary, error)
}

// MonitorResult aggregates one monitor cycle.
type MonitorResult struct {
	Discovery discovery.Result `json:"discovery"`
	Reconcile discovery.Result `json:"reconcile"`
	Duration  time.Duration    `json:"duration"`
}

// Orchestrator runs monitor and reclaim cycles.
type Orchestrator struct {
	disc     Discoverer
	rec      Reclaimer
	notifier notify.Notifier
	logger   *telemetry.Logger

	now func() time.Time
}

// New creates an orchestrator.
func New(disc Discoverer, rec Reclaimer, notifier notify.Notifier, logger *telemetry.Logger) *Orchestrator {
	return &Orchestrator{
		disc:     disc,
		rec:      rec,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Monitor runs one discovery pass followed by one reconciliation pass.
func (o *Orchestrator) Monitor(ctx context.Context) (MonitorResult, error) {
	start := o.now()
	o.logger.LogCycleStart(ctx, "monitor")

	var result MonitorResult

	discovered, err := o.disc.Discover(ctx)
	result.Discovery = discovered
	if err != nil {
		o.notifyFailure(ctx, "discovery pass failed", err)
		return result, fmt.Errorf("discovery failed: %w", err)
	}

	reconciled, err := o.disc.Reconcile(ctx)
	result.Reconcile = reconciled
	if err != nil {
		o.notifyFailure(ctx, "reconciliation pass failed", err)
		return result, fmt.Errorf("reconciliation failed: %w", err)
	}

	result.Duration = o.now().Sub(start)
	o.logger.LogCycleComplete(ctx, "monitor",
		float64(result.Duration.Milliseconds()),
		discovered.Errors+reconciled.Errors)

	if discovered.NewlyClosed+reconciled.NewlyClosed > 0 {
		o.notify(ctx, notify.SeverityInfo, "accounts newly closed",
			fmt.Sprintf("%d tracked accounts were closed since the last cycle",
				discovered.NewlyClosed+reconciled.NewlyClosed))
	}
	return result, nil
}

// Reclaim runs one reclaim pass and reports its summary.
func (o *Orchestrator) Reclaim(ctx context.Context) (reclaim.Summary, error) {
	o.logger.LogCycleStart(ctx, "reclaim")

	summary, err := o.rec.Run(ctx)
	if err != nil {
		o.notifyFailure(ctx, "reclaim pass failed", err)
		return summary, fmt.Errorf("reclaim failed: %w", err)
	}

	o.logger.LogCycleComplete(ctx, "reclaim",
		float64(summary.EndTime.Sub(summary.StartTime).Milliseconds()),
		summary.Failed)

	if summary.Failed > 0 {
		o.notify(ctx, notify.SeverityWarning, "reclaim failures",
			fmt.Sprintf("%d of %d reclaims failed", summary.Failed, summary.Processed))
	}
	if summary.Succeeded > 0 {
		mode := "reclaimed"
		if summary.DryRun {
			mode = "reclaimable (dry run)"
		}
		o.notify(ctx, notify.SeverityInfo, "rent recovered",
			fmt.Sprintf("%d accounts, %d lamports %s",
				summary.Succeeded, summary.ReclaimedLamports, mode))
	}
	return summary, nil
}

func (o *Orchestrator) notifyFailure(ctx context.Context, title string, err error) {
	o.notify(ctx, notify.SeverityCritical, title, err.Error())
}

func (o *Orchestrator) notify(ctx context.Context, severity notify.Severity, title, body string) {
	err := o.notifier.Notify(ctx, notify.Event{Severity: severity, Title: title, Body: body})
	if err != nil {
		o.logger.WithContext(ctx).Warn().Err(err).Str("title", title).Msg("notification delivery failed")
	}
}
