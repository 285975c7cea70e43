package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solreap/solreap/config"
	"github.com/solreap/solreap/reclaim"
)

var (
	reclaimDryRun bool
	reclaimLive   bool
)

// reclaimCmd represents the reclaim command
var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Reclaim rent from closed accounts",
	Long: `Run one reclaim pass over closed accounts, oldest first.

Every candidate walks the safety pipeline: minimum closed age, minimum
recoverable value, controller policy, a fresh revival check against the
remote ledger, and signer authority. Only candidates that clear every
check are executed.

Use --dry-run to see what a live run would recover without submitting
anything.`,
	Example: `  solreap reclaim --dry-run   # Report what would be reclaimed
  solreap reclaim --live      # Execute reclaims for real`,
	RunE: runReclaim,
}

func init() {
	rootCmd.AddCommand(reclaimCmd)

	reclaimCmd.Flags().BoolVar(&reclaimDryRun, "dry-run", false, "Simulate without submitting")
	reclaimCmd.Flags().BoolVar(&reclaimLive, "live", false, "Execute even if config says dry_run")
}

func runReclaim(cmd *cobra.Command, args []string) error {
	if reclaimDryRun && reclaimLive {
		return fmt.Errorf("--dry-run and --live are mutually exclusive")
	}

	a, err := buildApp(func(cfg *config.Config) {
		if reclaimDryRun {
			cfg.Reclaim.DryRun = true
		}
		if reclaimLive {
			cfg.Reclaim.DryRun = false
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.orch.Reclaim(cmd.Context())
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

func printSummary(summary reclaim.Summary) {
	mode := "LIVE"
	if summary.DryRun {
		mode = "DRY RUN"
	}
	fmt.Printf("Reclaim pass (%s) complete in %s\n\n",
		mode, summary.EndTime.Sub(summary.StartTime).Round(time.Millisecond))

	for _, result := range summary.Results {
		switch result.Outcome {
		case reclaim.OutcomeReclaimed:
			fmt.Printf("  ✓ %s  +%d lamports", result.Handle, result.Lamports)
			if result.Signature != "" {
				fmt.Printf("  (%s)", result.Signature)
			}
			fmt.Println()
		case reclaim.OutcomeFailed:
			fmt.Printf("  ✗ %s  %s\n", result.Handle, result.Reason)
		default:
			fmt.Printf("  - %s  %s: %s\n", result.Handle, result.Check, result.Reason)
		}
	}

	fmt.Printf("\n  Processed: %d  Succeeded: %d  Failed: %d\n",
		summary.Processed, summary.Succeeded, summary.Failed)
	fmt.Printf("  Recovered: %d lamports (of %d potential)\n",
		summary.ReclaimedLamports, summary.PotentialLamports)
}
