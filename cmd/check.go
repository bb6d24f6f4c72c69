package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/creditwatch/internal/cli"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one reconcile-and-alert pass, for use from cron",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	view := a.monitor.CheckNow(cmd.Context())
	if !flagQuiet {
		fmt.Printf("  Balance %s (threshold %s, alert state %s)\n",
			cli.FormatMoney(view.Balance), cli.FormatMoney(view.Threshold), view.AlertState)
	}
	if view.Stale {
		return fmt.Errorf("spend fetch failed: %s", view.LastError)
	}
	return nil
}
