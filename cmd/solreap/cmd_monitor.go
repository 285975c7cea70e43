package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run one discovery and reconciliation pass",
	Long: `Run a single monitor cycle:
- Page through the sponsor's operation history for newly created accounts
- Re-check every tracked account's existence and balance in bulk
- Record newly closed accounts as reclaim candidates`,
	Example: `  solreap monitor                      # Run with solreap.yaml
  solreap monitor --config prod.yaml   # Use another config file`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	result, err := a.orch.Monitor(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Monitor cycle complete in %s\n\n", result.Duration.Round(time.Millisecond))
	if slot, err := a.gw.CurrentSlot(ctx); err == nil {
		fmt.Printf("  Ledger slot:           %d\n", slot)
	}
	if balance, err := a.gw.GetBalance(ctx, a.cfg.Sponsor); err == nil {
		fmt.Printf("  Sponsor balance:       %d lamports\n", balance)
	}
	fmt.Printf("  New accounts tracked:  %d\n", result.Discovery.NewAccounts)
	fmt.Printf("  Pages scanned:         %d\n", result.Discovery.PagesScanned)
	fmt.Printf("  Accounts re-checked:   %d\n", result.Reconcile.Checked)
	fmt.Printf("  Newly closed:          %d\n", result.Discovery.NewlyClosed+result.Reconcile.NewlyClosed)
	fmt.Printf("  Errors:                %d\n", result.Discovery.Errors+result.Reconcile.Errors)
	return nil
}
