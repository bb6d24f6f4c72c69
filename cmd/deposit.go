package cmd

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/creditwatch/internal/cli"
)

var flagDepositAmount string

var depositCmd = &cobra.Command{
	Use:     "deposit",
	Aliases: []string{"recharge"},
	Short:   "Record a credit top-up",
	Example: "  creditwatch deposit --amount 50",
	RunE:    runDeposit,
}

func init() {
	depositCmd.Flags().StringVarP(&flagDepositAmount, "amount", "a", "", "Amount deposited in USD (required)")
	_ = depositCmd.MarkFlagRequired("amount")
	rootCmd.AddCommand(depositCmd)
}

func runDeposit(cmd *cobra.Command, _ []string) error {
	amount, err := parseAmount(flagDepositAmount)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.monitor.AddDeposit(cmd.Context(), amount)
	if err != nil {
		return friendlyError(err)
	}

	fmt.Println()
	fmt.Printf("  Recorded deposit of %s\n\n", cli.FormatMoney(amount))
	fmt.Print(cli.RenderLedger(l))
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, errors.New("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("amount must not be negative")
	}
	return d, nil
}
