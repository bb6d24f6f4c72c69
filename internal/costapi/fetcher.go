package costapi

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/creditwatch/internal/model"
)

// PageSource returns one page of cost buckets. *Client implements it.
type PageSource interface {
	FetchCosts(ctx context.Context, start time.Time, limit int) (*CostsPage, error)
}

// FetcherConfig bounds a paginated fetch.
type FetcherConfig struct {
	PageLimit int
	// MaxPages caps request attempts, rate-limited retries included.
	MaxPages       int
	RateLimitDelay time.Duration
	PageDelay      time.Duration
}

// Fetcher walks the costs endpoint forward from a checkpoint.
type Fetcher struct {
	src   PageSource
	cfg   FetcherConfig
	sleep func(context.Context, time.Duration) error
}

// NewFetcher returns a fetcher reading pages from src.
func NewFetcher(src PageSource, cfg FetcherConfig) *Fetcher {
	if cfg.PageLimit < 1 || cfg.PageLimit > MaxPageLimit {
		cfg.PageLimit = MaxPageLimit
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 100
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 2 * time.Second
	}
	return &Fetcher{src: src, cfg: cfg, sleep: sleepCtx}
}

// Fetch streams buckets from start onward to yield, in API order, until a
// short or empty page, the page guard, a non-recoverable error, or yield
// returning false. Buckets yielded before an error remain valid; the error
// is reported in the returned FetchReport.
func (f *Fetcher) Fetch(ctx context.Context, start time.Time, yield func(model.Bucket) bool) model.FetchReport {
	var report model.FetchReport
	cursor := start

	for {
		if report.Requests >= f.cfg.MaxPages {
			report.Truncated = true
			return report
		}
		if err := ctx.Err(); err != nil {
			report.Err = err
			return report
		}

		report.Requests++
		page, err := f.src.FetchCosts(ctx, cursor, f.cfg.PageLimit)
		if errors.Is(err, ErrRateLimited) {
			report.RateLimited++
			if err := f.sleep(ctx, f.cfg.RateLimitDelay); err != nil {
				report.Err = err
				return report
			}
			continue
		}
		if err != nil {
			report.Err = err
			return report
		}
		if len(page.Data) == 0 {
			return report
		}

		report.Pages++
		pageEnd := cursor
		for _, raw := range page.Data {
			b := toBucket(raw)
			if b.End.After(pageEnd) {
				pageEnd = b.End
			}
			if b.End.After(report.MaxEnd) {
				report.MaxEnd = b.End
			}
			report.Buckets++
			if !yield(b) {
				return report
			}
		}

		if len(page.Data) < f.cfg.PageLimit {
			return report
		}
		if pageEnd.After(cursor) {
			cursor = pageEnd
		} else {
			cursor = cursor.Add(24 * time.Hour)
		}

		if f.cfg.PageDelay > 0 {
			if err := f.sleep(ctx, f.cfg.PageDelay); err != nil {
				report.Err = err
				return report
			}
		}
	}
}

func toBucket(raw CostBucket) model.Bucket {
	b := model.Bucket{Amount: decimal.Zero}
	if raw.StartTime > 0 {
		b.Start = time.Unix(raw.StartTime, 0).UTC()
	}
	if raw.EndTime > 0 {
		b.End = time.Unix(raw.EndTime, 0).UTC()
	}
	for _, r := range raw.Results {
		b.Amount = b.Amount.Add(r.Amount.Value)
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
