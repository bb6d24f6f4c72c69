// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FormatMoney formats a USD amount rounded to cents with thousands
// separators, e.g. 1234.567 -> "$1,234.57", -4.2 -> "-$4.20".
func FormatMoney(d decimal.Decimal) string {
	d = d.Round(2)
	if d.IsNegative() {
		return "-" + FormatMoney(d.Neg())
	}
	whole := d.Truncate(0)
	cents := d.Sub(whole).Shift(2).IntPart()
	return fmt.Sprintf("$%s.%02d", FormatNumber(whole.IntPart()), cents)
}

// FormatDelta formats a signed money change, e.g. "+$5.00".
func FormatDelta(current, previous decimal.Decimal) string {
	delta := current.Sub(previous)
	if delta.IsNegative() {
		return FormatMoney(delta)
	}
	return "+" + FormatMoney(delta)
}

// FormatDuration formats seconds into a human-readable duration.
// e.g., 3725 -> "1h 2m", 125 -> "2m", 45 -> "45s"
func FormatDuration(secs int64) string {
	if secs <= 0 {
		return "0s"
	}

	days := secs / 86400
	hours := (secs % 86400) / 3600
	mins := (secs % 3600) / 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", secs)
}

// FormatAgo formats t relative to now, e.g. "2h 5m ago". A zero t is "never".
func FormatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return FormatDuration(int64(now.Sub(t).Seconds())) + " ago"
}

// FormatNumber adds comma separators to an integer.
// e.g., 1234567 -> "1,234,567"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}

	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// FormatPercent formats part/whole as a percentage; a zero whole is "-".
func FormatPercent(part, whole decimal.Decimal) string {
	if whole.IsZero() {
		return "-"
	}
	return part.Div(whole).Shift(2).StringFixed(1) + "%"
}
