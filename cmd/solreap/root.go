package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solreap/solreap/config"
	"github.com/solreap/solreap/discovery"
	"github.com/solreap/solreap/gateway"
	"github.com/solreap/solreap/ledger"
	"github.com/solreap/solreap/notify"
	"github.com/solreap/solreap/orchestrator"
	"github.com/solreap/solreap/policy"
	"github.com/solreap/solreap/reclaim"
	"github.com/solreap/solreap/telemetry"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "solreap",
		Short: "Rent reclaim bot for sponsor-created accounts",
		Long: `Solreap - Rent Reclaim Bot

Solreap tracks every account your sponsor identity created on the remote
ledger, watches for the moment they are closed, and safely recovers the
rent deposits locked inside them.

Discovery pages through the sponsor's history, reconciliation keeps the
local ledger honest, and the reclaim pipeline runs every candidate
through ordered safety checks before the irreversible close.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`Solreap {{.Version}} - Rent Reclaim Bot
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "solreap.yaml", "Path to configuration file")
}

// app bundles everything a subcommand needs. Close releases the store and
// the audit file.
type app struct {
	cfg     *config.Config
	logger  *telemetry.Logger
	store   *ledger.Store
	gw      *gateway.Gateway
	auditor *telemetry.FileAuditor
	orch    *orchestrator.Orchestrator
}

func (a *app) Close() {
	if a.auditor != nil {
		_ = a.auditor.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// buildApp loads config and wires the full engine stack.
func buildApp(overrides ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	for _, fn := range overrides {
		fn(cfg)
	}

	logger := telemetry.NewLogger("solreap")

	store, err := ledger.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	auditor, err := telemetry.NewFileAuditor(cfg.AuditPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	gw := gateway.New(
		gateway.NewHTTPTransport(cfg.RPCEndpoint),
		cfg.CallsPerSecond,
		cfg.Retry,
		logger.Logger,
	)

	disc := discovery.NewEngine(gw, store, logger, discovery.Options{
		Sponsor:   cfg.Sponsor,
		PageSize:  cfg.Discovery.PageSize,
		BatchSize: cfg.Discovery.BatchSize,
	})

	guard := policy.NewGuard(cfg.Reclaim.AllowedControllers, cfg.Reclaim.BlockedControllers)
	rec := reclaim.NewEngine(gw, store, guard, auditor, logger, reclaim.Options{
		Signer:            cfg.Signer,
		Destination:       cfg.Destination,
		MinAge:            cfg.Reclaim.MinAge,
		MinLamports:       cfg.Reclaim.MinLamports,
		BatchSize:         cfg.Reclaim.BatchSize,
		DryRun:            cfg.Reclaim.DryRun,
		InterReclaimDelay: cfg.Reclaim.InterReclaimDelay,
	})

	orch := orchestrator.New(disc, rec, notify.NewLogNotifier(logger), logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		gw:      gw,
		auditor: auditor,
		orch:    orch,
	}, nil
}
