package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/storechat/internal/daemon"
	"github.com/harun/storechat/pkg/ledger"
	"github.com/spf13/cobra"
)

var quotaJSON bool

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Print today's provider usage",
	Long: `Print today's usage per provider bucket from the persisted quota ledger.
A running gateway flushes its ledger a few seconds after each chat, so the
numbers may trail the live counts slightly.`,
	RunE: runQuota,
}

func init() {
	quotaCmd.Flags().BoolVar(&quotaJSON, "json", false, "print the summary as JSON")
	rootCmd.AddCommand(quotaCmd)
}

func runQuota(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := ledger.NewStore(cfg.Ledger.Driver, cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("failed to open ledger store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	summary, err := ledger.LoadSummary(ctx, store, daemon.BucketsFromConfig(cfg.Quota.Buckets), time.Now().Format(ledger.DayLayout))
	if err != nil {
		return fmt.Errorf("failed to read quota ledger: %w", err)
	}

	out := cmd.OutOrStdout()
	if quotaJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	if len(summary) == 0 {
		fmt.Fprintln(out, "No usage recorded today")
		return nil
	}
	fmt.Fprint(out, ledger.FormatSummary(summary))
	return nil
}
