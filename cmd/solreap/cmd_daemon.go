package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solreap/solreap/config"
	"github.com/solreap/solreap/internal/daemon"
)

var (
	daemonMonitorInterval time.Duration
	daemonReclaimInterval time.Duration
	daemonMetricsPort     int
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run continuous monitor and reclaim cycles",
	Long: `Run Solreap in daemon mode.

The daemon runs monitor cycles (discovery plus reconciliation) and
reclaim cycles on independent intervals. Cycles never overlap: a slow
pass delays the next one rather than racing it for the store.

Features:
- Prometheus metrics on /metrics
- Health checks on /health, /-/healthy, /-/ready
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  solreap daemon                         # Run with config intervals
  solreap daemon --monitor-interval 5m   # Re-check accounts every 5 minutes
  solreap daemon --reclaim-interval 1h   # Attempt reclaims hourly
  solreap daemon --metrics-port 9090     # Custom metrics port`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonMonitorInterval, "monitor-interval", 0, "Monitor cycle interval (0: use config)")
	daemonCmd.Flags().DurationVar(&daemonReclaimInterval, "reclaim-interval", 0, "Reclaim cycle interval (0: use config)")
	daemonCmd.Flags().IntVar(&daemonMetricsPort, "metrics-port", 0, "Metrics HTTP server port (0: use config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := buildApp(func(cfg *config.Config) {
		if daemonMonitorInterval > 0 {
			cfg.Daemon.MonitorInterval = daemonMonitorInterval
		}
		if daemonReclaimInterval > 0 {
			cfg.Daemon.ReclaimInterval = daemonReclaimInterval
		}
		if daemonMetricsPort > 0 {
			cfg.Daemon.MetricsPort = daemonMetricsPort
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := daemon.New(daemon.Config{
		MonitorInterval: a.cfg.Daemon.MonitorInterval,
		ReclaimInterval: a.cfg.Daemon.ReclaimInterval,
		MetricsPort:     a.cfg.Daemon.MetricsPort,
	}, a.orch, a.store, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode := "live"
	if a.cfg.Reclaim.DryRun {
		mode = "dry run"
	}
	fmt.Printf("Starting solreap daemon (%s)\n", mode)
	fmt.Printf("  Monitor interval: %s\n", a.cfg.Daemon.MonitorInterval)
	fmt.Printf("  Reclaim interval: %s\n", a.cfg.Daemon.ReclaimInterval)
	fmt.Printf("  Metrics port:     %d\n\n", a.cfg.Daemon.MetricsPort)

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	fmt.Println("Daemon stopped")
	return nil
}
