// Package pipeline reconciles fetched spend into the durable ledger and
// derives spend and balance views.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/creditwatch/internal/model"
	"github.com/theirongolddev/creditwatch/internal/store"
)

// ErrNoFetcher indicates reconciliation ran without a configured cost API.
var ErrNoFetcher = errors.New("pipeline: no cost fetcher configured")

// Fetcher streams spend buckets from start onward. *costapi.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, start time.Time, yield func(model.Bucket) bool) model.FetchReport
}

// Outcome classifies a reconciliation run.
type Outcome string

const (
	// OutcomeNoNewData means the fetch completed and nothing was banked.
	OutcomeNoNewData Outcome = "no_new_data"
	// OutcomeUpdated means finalized spend or a newer checkpoint was persisted.
	OutcomeUpdated Outcome = "updated"
	// OutcomePartial means the fetch stopped early after yielding data.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed means the fetch stopped before yielding any data.
	OutcomeFailed Outcome = "failed"
)

// Result is everything one reconciliation run produced.
type Result struct {
	RunID     string
	StartedAt time.Time
	Outcome   Outcome
	Summary   model.SpendSummary
	// Ledger is the ledger after the run, persisted or not.
	Ledger    model.Ledger
	Persisted bool
	Fetch     model.FetchReport

	FinalizedSpend decimal.Decimal
	EphemeralSpend decimal.Decimal
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Store   store.Store
	Fetcher Fetcher // nil disables fetching
	// Seed builds the ledger used when none is persisted or it is unreadable.
	Seed   func(now time.Time) model.Ledger
	Now    func() time.Time
	Logger *slog.Logger
}

// Engine merges fetched buckets into the ledger without double counting.
//
// Spend of fully elapsed months is finalized: it is added to the ledger's
// historical spend and the checkpoint moves past it, so it is never fetched
// again. Spend of the current month is ephemeral: it is recomputed from the
// API on every run and never written, and the current month is kept out of
// the persisted month history.
//
// Engine does not serialize callers; the monitor holds the ledger lock.
type Engine struct {
	store   store.Store
	fetcher Fetcher
	seed    func(time.Time) model.Ledger
	now     func() time.Time
	logger  *slog.Logger
}

// NewEngine returns an engine for cfg.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		store:   cfg.Store,
		fetcher: cfg.Fetcher,
		seed:    cfg.Seed,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
	if e.seed == nil {
		e.seed = func(now time.Time) model.Ledger {
			return model.NewLedger(now, decimal.Zero, model.DefaultLookback)
		}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "pipeline.reconcile")
	return e
}

// LoadLedger returns the persisted ledger, or the seed ledger when none is
// stored or it cannot be read.
func (e *Engine) LoadLedger(ctx context.Context, now time.Time) model.Ledger {
	l, err := e.store.Load(ctx)
	switch {
	case err == nil:
		if l.MonthlyHistory == nil {
			l.MonthlyHistory = map[string]decimal.Decimal{}
		}
		return l
	case errors.Is(err, store.ErrNotFound):
		e.logger.Debug("no persisted ledger, using seed", "store", e.store.Name())
	default:
		e.logger.Error("loading ledger failed, using seed", "store", e.store.Name(), "error", err)
	}
	return e.seed(now)
}

// Reconcile fetches spend from the ledger checkpoint, banks finalized spend,
// and returns the spend summary. The wall clock is read once per run. The
// returned error is non-nil only when persisting the ledger failed; the
// result is usable either way.
func (e *Engine) Reconcile(ctx context.Context) (Result, error) {
	now := e.now().UTC()
	res := Result{
		RunID:          uuid.NewString(),
		StartedAt:      now,
		FinalizedSpend: decimal.Zero,
		EphemeralSpend: decimal.Zero,
	}
	logger := e.logger.With("run_id", res.RunID)

	monthStart := model.MonthStart(now)
	today := model.DayLabel(now)
	currentMonth := model.MonthLabel(now)

	ledger := e.LoadLedger(ctx, now)
	start := ledger.Checkpoint
	if start.IsZero() {
		start = now.Add(-24 * time.Hour)
	}

	// display holds every fetched amount; banked only finalized ones. Only
	// banked is persisted, so a bucket labelled with a past month that ends
	// after monthStart is never written and then fetched again.
	display := maps.Clone(ledger.MonthlyHistory)
	banked := maps.Clone(ledger.MonthlyHistory)
	if display == nil {
		display = map[string]decimal.Decimal{}
		banked = map[string]decimal.Decimal{}
	}
	daily, monthly := decimal.Zero, decimal.Zero
	candidate := ledger.Checkpoint

	yield := func(b model.Bucket) bool {
		month := b.Month()
		if month != "" {
			display[month] = display[month].Add(b.Amount)
		}

		if !b.End.IsZero() && !b.End.After(monthStart) {
			res.FinalizedSpend = res.FinalizedSpend.Add(b.Amount)
			if month != "" {
				banked[month] = banked[month].Add(b.Amount)
			}
			if b.End.After(candidate) {
				candidate = b.End
			}
		} else {
			res.EphemeralSpend = res.EphemeralSpend.Add(b.Amount)
		}

		if b.Day() == today {
			daily = daily.Add(b.Amount)
		}
		if month == currentMonth {
			monthly = monthly.Add(b.Amount)
		}
		return true
	}

	if e.fetcher == nil {
		res.Fetch = model.FetchReport{Err: ErrNoFetcher}
	} else {
		res.Fetch = e.fetcher.Fetch(ctx, start, yield)
	}
	res.Outcome = classify(res.Fetch)

	var saveErr error
	next := ledger
	if res.FinalizedSpend.GreaterThan(decimal.Zero) || candidate.After(ledger.Checkpoint) {
		next = ledger.Clone()
		next.HistoricalSpend = ledger.HistoricalSpend.Add(res.FinalizedSpend)
		next.Checkpoint = candidate
		delete(banked, currentMonth)
		next.MonthlyHistory = banked

		if err := e.store.Save(ctx, next); err != nil {
			saveErr = fmt.Errorf("persisting ledger: %w", err)
			logger.Error("persisting reconciled ledger failed", "error", err)
		} else {
			res.Persisted = true
			if res.Outcome == OutcomeNoNewData {
				res.Outcome = OutcomeUpdated
			}
			logger.Info("banked finalized spend",
				"amount", res.FinalizedSpend.StringFixed(4),
				"checkpoint", next.Checkpoint.Format(time.RFC3339),
				"historical_spend", next.HistoricalSpend.StringFixed(4),
			)
		}
	}
	res.Ledger = next

	res.Summary = model.SpendSummary{
		Total:   next.HistoricalSpend.Add(res.EphemeralSpend),
		Daily:   daily,
		Monthly: monthly,
		History: SortHistory(display),
	}

	if res.Fetch.Err != nil {
		logger.Warn("cost fetch ended early",
			"outcome", res.Outcome,
			"buckets", res.Fetch.Buckets,
			"requests", res.Fetch.Requests,
			"error", res.Fetch.Err,
		)
	} else {
		logger.Debug("reconciliation complete",
			"outcome", res.Outcome,
			"pages", res.Fetch.Pages,
			"buckets", res.Fetch.Buckets,
			"rate_limited", res.Fetch.RateLimited,
			"truncated", res.Fetch.Truncated,
		)
	}

	return res, saveErr
}

func classify(r model.FetchReport) Outcome {
	switch {
	case r.Err != nil && r.Buckets == 0:
		return OutcomeFailed
	case r.Err != nil, r.Truncated:
		return OutcomePartial
	default:
		return OutcomeNoNewData
	}
}
