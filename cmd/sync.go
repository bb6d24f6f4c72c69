package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/creditwatch/internal/cli"
)

var flagSyncBalance string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Correct the deposited total from the balance shown by the provider",
	Long: "Reconcile spend, then set the deposited total so the estimated balance equals\n" +
		"the balance reported on the billing dashboard. Spend history is unchanged.",
	Example: "  creditwatch sync --balance 20",
	RunE:    runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&flagSyncBalance, "balance", "b", "", "Actual remaining balance in USD (required)")
	_ = syncCmd.MarkFlagRequired("balance")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	actual, err := parseAmount(flagSyncBalance)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	progress("Reconciling spend...")
	view, err := a.monitor.SyncBalance(cmd.Context(), actual)
	if err != nil {
		return friendlyError(err)
	}

	fmt.Println()
	fmt.Printf("  Synced balance to %s\n\n", cli.FormatMoney(actual))
	fmt.Print(cli.RenderStatus(view, time.Now()))
	return nil
}
