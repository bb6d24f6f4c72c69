package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/creditwatch/internal/cli"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the persisted ledger without contacting the cost API",
	RunE:  runLedger,
}

var ledgerInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the seed ledger if none exists",
	RunE:  runLedgerInit,
}

func init() {
	ledgerCmd.AddCommand(ledgerInitCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading ledger %s: %w", a.store.Name(), err)
	}

	fmt.Println()
	fmt.Printf("  Ledger: %s\n\n", a.store.Name())
	fmt.Print(cli.RenderLedger(l))
	return nil
}

func runLedgerInit(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.monitor.Init(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  Ledger: %s\n\n", a.store.Name())
	fmt.Print(cli.RenderLedger(l))
	return nil
}
