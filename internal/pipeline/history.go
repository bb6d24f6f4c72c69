package pipeline

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/creditwatch/internal/model"
)

// SortHistory flattens a month map into rows, most recent month first.
// Labels that don't parse as months sort last, alphabetically.
func SortHistory(m map[string]decimal.Decimal) []model.MonthSpend {
	rows := make([]model.MonthSpend, 0, len(m))
	for month, amount := range m {
		rows = append(rows, model.MonthSpend{Month: month, Amount: amount})
	}

	parsed := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		if t, err := time.Parse(model.MonthLayout, r.Month); err == nil {
			parsed[r.Month] = t
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		ti, okI := parsed[rows[i].Month]
		tj, okJ := parsed[rows[j].Month]
		switch {
		case okI && okJ:
			return ti.After(tj)
		case okI != okJ:
			return okI
		default:
			return rows[i].Month < rows[j].Month
		}
	})
	return rows
}
