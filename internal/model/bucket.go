package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bucket is one time-windowed spend record from the cost API.
type Bucket struct {
	Start  time.Time
	End    time.Time
	Amount decimal.Decimal
}

// Day returns the calendar-day label of the bucket start, or "" if unknown.
func (b Bucket) Day() string {
	if b.Start.IsZero() {
		return ""
	}
	return DayLabel(b.Start)
}

// Month returns the calendar-month label of the bucket start, or "" if unknown.
func (b Bucket) Month() string {
	if b.Start.IsZero() {
		return ""
	}
	return MonthLabel(b.Start)
}

// FetchReport describes how a paginated fetch went.
type FetchReport struct {
	Pages       int
	Requests    int
	RateLimited int
	Buckets     int
	// MaxEnd is the latest bucket end time observed.
	MaxEnd time.Time
	// Truncated is set when the page guard stopped the fetch.
	Truncated bool
	// Err is the error that ended the fetch early, if any.
	Err error
}
