package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/solreap/solreap/config"
	"github.com/solreap/solreap/ledger"
	"github.com/solreap/solreap/types"
)

var (
	reportFormat   string
	reportAttempts int
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show ledger store statistics and recent reclaim attempts",
	Long: `Summarize the local ledger store:
- Tracked accounts by status and kind
- Lamports recovered so far and rent still locked in closed accounts
- The most recent reclaim attempts, newest first`,
	Example: `  solreap report                 # Human-readable summary
  solreap report --format json   # Machine-readable output
  solreap report --attempts 50   # Show more attempt history`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "table", "Output format: table, json")
	reportCmd.Flags().IntVar(&reportAttempts, "attempts", 10, "Number of recent attempts to show")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := ledger.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.ComputeStats()
	if err != nil {
		return err
	}
	attempts, err := store.ListAttempts(reportAttempts)
	if err != nil {
		return err
	}

	if reportFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(struct {
			Stats    *ledger.Stats `json:"stats"`
			Attempts any           `json:"attempts"`
		}{stats, attempts})
	}

	fmt.Printf("Ledger store: %s (%d KiB)\n\n", cfg.StorePath, stats.DBSizeBytes/1024)
	fmt.Printf("  Tracked accounts: %d\n", stats.Total)

	statuses := make([]string, 0, len(stats.ByStatus))
	for status := range stats.ByStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Printf("    %-10s %d\n", status, stats.ByStatus[types.AccountStatus(status)])
	}

	fmt.Printf("\n  Recovered:  %d lamports\n", stats.ReclaimedLamports)
	fmt.Printf("  Pending:    %d lamports in closed accounts\n", stats.PendingLamports)
	fmt.Printf("  Attempts:   %d recorded\n", stats.Attempts)

	if len(attempts) > 0 {
		fmt.Printf("\nRecent attempts:\n")
		for _, attempt := range attempts {
			status := "ok"
			if !attempt.Success {
				status = "failed"
			}
			if attempt.DryRun {
				status += " (dry run)"
			}
			fmt.Printf("  %s  %s  %d lamports  %s\n",
				attempt.Timestamp.Format("2006-01-02 15:04:05"),
				attempt.Handle, attempt.Lamports, status)
			if attempt.Error != "" {
				fmt.Printf("      %s\n", attempt.Error)
			}
		}
	}
	return nil
}
