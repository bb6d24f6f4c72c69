package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/creditwatch/internal/model"
)

// RenderStatus renders the balance view as a summary table followed by the
// month history.
func RenderStatus(v model.BalanceView, now time.Time) string {
	var b strings.Builder

	balance := FormatMoney(v.Balance)
	low := v.Balance.LessThan(v.Threshold)
	if low {
		balance += "  (below " + FormatMoney(v.Threshold) + ")"
	}

	rows := [][]string{
		{"Balance", balance},
		{"Deposited", FormatMoney(v.TotalDeposited)},
		{"Total Spend", FormatMoney(v.TotalSpend)},
		{"---"},
		{"Today", FormatMoney(v.DailyUsage)},
		{"This Month", FormatMoney(v.MonthlyUsage)},
		{"---"},
		{"Alert State", v.AlertState},
		{"Last Alert", FormatAgo(v.LastAlertSent, now)},
	}

	b.WriteString(RenderTitle(fmt.Sprintf("CREDIT BALANCE  %s", v.Currency)))
	b.WriteString("\n\n")
	b.WriteString(RenderTable(Table{
		Headers: []string{"Metric", "Value"},
		Rows:    rows,
	}))

	if low {
		b.WriteString("\n  ")
		b.WriteString(alertStyle.Render("Balance is below the alert threshold. Recharge soon."))
		b.WriteString("\n")
	}
	if bar := RenderUsageBar(v.TotalSpend, v.TotalDeposited, 30); bar != "" {
		b.WriteString("\n  ")
		b.WriteString(bar)
		b.WriteString("\n")
	}

	if len(v.History) > 0 {
		b.WriteString("\n")
		b.WriteString(RenderHistory(v.History))
	}

	if v.Stale {
		b.WriteString("\n  ")
		b.WriteString(warnStyle.Render("Showing last known data: " + v.LastError))
		b.WriteString("\n")
	}
	if !v.Checkpoint.IsZero() {
		b.WriteString("\n  ")
		b.WriteString(dimStyle.Render("Finalized through " + v.Checkpoint.UTC().Format(time.RFC3339)))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderHistory renders month history, most recent first, with a bar per
// month scaled to the largest month.
func RenderHistory(history []model.MonthSpend) string {
	peak := 0.0
	for _, m := range history {
		if f := m.Amount.InexactFloat64(); f > peak {
			peak = f
		}
	}

	rows := make([][]string, 0, len(history))
	for _, m := range history {
		rows = append(rows, []string{m.Month, FormatMoney(m.Amount), barOf(m.Amount.InexactFloat64(), peak, 20)})
	}

	// Oldest first for the trend line.
	values := make([]float64, len(history))
	for i, m := range history {
		values[len(history)-1-i] = m.Amount.InexactFloat64()
	}

	var b strings.Builder
	b.WriteString(RenderTable(Table{
		Title:   "Monthly Spend  " + RenderSparkline(values),
		Headers: []string{"Month", "Spend", ""},
		Rows:    rows,
	}))
	return b.String()
}

// RenderLedger renders the persisted ledger record.
func RenderLedger(l model.Ledger) string {
	lastAlert := "never"
	if !l.LastAlertSent.IsZero() {
		lastAlert = l.LastAlertSent.UTC().Format(time.RFC3339)
	}
	return RenderTable(Table{
		Headers: []string{"Ledger", "Value"},
		Rows: [][]string{
			{"Deposited", FormatMoney(l.TotalDeposited)},
			{"Finalized Spend", FormatMoney(l.HistoricalSpend)},
			{"Checkpoint", l.Checkpoint.UTC().Format(time.RFC3339)},
			{"Months Banked", FormatNumber(int64(len(l.MonthlyHistory)))},
			{"Last Alert", lastAlert},
		},
	})
}
