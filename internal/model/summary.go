package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonthSpend is one row of the month history list.
type MonthSpend struct {
	Month  string
	Amount decimal.Decimal
}

// SpendSummary is the spend view derived by one reconciliation run.
type SpendSummary struct {
	// Total is historical spend plus this run's ephemeral spend.
	Total   decimal.Decimal
	Daily   decimal.Decimal
	Monthly decimal.Decimal
	// History is sorted most recent month first and includes the
	// in-progress month for display.
	History []MonthSpend
}

// BalanceView is the user-facing balance estimate.
type BalanceView struct {
	Balance        decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalSpend     decimal.Decimal
	DailyUsage     decimal.Decimal
	MonthlyUsage   decimal.Decimal
	History        []MonthSpend
	Currency       string

	Threshold     decimal.Decimal
	AlertState    string
	LastAlertSent time.Time
	Checkpoint    time.Time
	ComputedAt    time.Time

	// Stale is set when the latest fetch failed and the view reflects the
	// last known good data.
	Stale     bool
	LastError string
}
