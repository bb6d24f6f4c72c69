package pipeline

import "github.com/theirongolddev/creditwatch/internal/model"

// Balance derives the balance view. Negative balances are deficits and are
// kept as is; no rounding is applied here.
func Balance(l model.Ledger, s model.SpendSummary) model.BalanceView {
	return model.BalanceView{
		Balance:        l.TotalDeposited.Sub(s.Total),
		TotalDeposited: l.TotalDeposited,
		TotalSpend:     s.Total,
		DailyUsage:     s.Daily,
		MonthlyUsage:   s.Monthly,
		History:        s.History,
		Currency:       "USD",
		LastAlertSent:  l.LastAlertSent,
		Checkpoint:     l.Checkpoint,
	}
}
