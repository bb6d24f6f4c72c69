// Package model defines domain types for the credit ledger and spend views.
package model

import (
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DayLayout formats bucket day labels.
	DayLayout = "2006-01-02"
	// MonthLayout formats month labels, e.g. "Jan 2026".
	MonthLayout = "Jan 2006"

	// DefaultLookback is how far back a fresh ledger starts fetching.
	DefaultLookback = 90 * 24 * time.Hour
)

// Ledger is the single durable record backing the balance estimate.
type Ledger struct {
	TotalDeposited  decimal.Decimal
	Checkpoint      time.Time
	HistoricalSpend decimal.Decimal
	// MonthlyHistory maps month label to finalized spend.
	// It never holds the label of the in-progress month.
	MonthlyHistory map[string]decimal.Decimal
	LastAlertSent  time.Time
}

// NewLedger returns a fresh ledger seeded with an initial deposit and a
// checkpoint lookback before now.
func NewLedger(now time.Time, initialDeposit decimal.Decimal, lookback time.Duration) Ledger {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return Ledger{
		TotalDeposited:  initialDeposit,
		Checkpoint:      now.Add(-lookback).Truncate(time.Second),
		HistoricalSpend: decimal.Zero,
		MonthlyHistory:  map[string]decimal.Decimal{},
	}
}

// Clone returns a deep copy so callers can mutate the history map safely.
func (l Ledger) Clone() Ledger {
	out := l
	out.MonthlyHistory = make(map[string]decimal.Decimal, len(l.MonthlyHistory))
	maps.Copy(out.MonthlyHistory, l.MonthlyHistory)
	return out
}

// Equal reports whether two ledgers hold the same values.
func (l Ledger) Equal(o Ledger) bool {
	if !l.TotalDeposited.Equal(o.TotalDeposited) ||
		!l.HistoricalSpend.Equal(o.HistoricalSpend) ||
		!l.Checkpoint.Equal(o.Checkpoint) ||
		!l.LastAlertSent.Equal(o.LastAlertSent) ||
		len(l.MonthlyHistory) != len(o.MonthlyHistory) {
		return false
	}
	for k, v := range l.MonthlyHistory {
		ov, ok := o.MonthlyHistory[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// MonthStart returns the first instant (UTC) of the month containing t.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DayLabel returns the UTC calendar day label of t.
func DayLabel(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// MonthLabel returns the UTC calendar month label of t.
func MonthLabel(t time.Time) string {
	return t.UTC().Format(MonthLayout)
}
