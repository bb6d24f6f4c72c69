package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/creditwatch/internal/cli"
	"github.com/theirongolddev/creditwatch/internal/daemon"
)

var (
	flagStatusJSON  bool
	flagStatusCheck bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Reconcile spend and show the estimated credit balance",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&flagStatusJSON, "json", false, "Print the API status payload as JSON")
	statusCmd.Flags().BoolVar(&flagStatusCheck, "check", false, "Also evaluate and send a low-balance alert")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	progress("Reconciling spend from %s...", a.cfg.CostAPI.BaseURL)

	check := a.monitor.Status
	if flagStatusCheck {
		check = a.monitor.CheckNow
	}
	view := check(cmd.Context())

	if flagStatusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(daemon.NewStatusResponse(view))
	}

	fmt.Println()
	fmt.Print(cli.RenderStatus(view, time.Now()))
	return nil
}
