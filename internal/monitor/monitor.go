// Package monitor is the service layer over the reconciliation engine. It
// serialises every ledger mutation, evaluates low-balance alerts and keeps
// the last good balance view for when the cost API is unavailable.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/creditwatch/internal/alert"
	"github.com/theirongolddev/creditwatch/internal/metrics"
	"github.com/theirongolddev/creditwatch/internal/model"
	"github.com/theirongolddev/creditwatch/internal/pipeline"
	"github.com/theirongolddev/creditwatch/internal/store"
)

var (
	// ErrInvalidAmount is returned for negative deposit or balance amounts.
	ErrInvalidAmount = errors.New("monitor: amount must not be negative")
	// ErrSpendUnavailable is returned by SyncBalance when current spend
	// could not be fetched, since syncing against a partial total would
	// inflate the deposit.
	ErrSpendUnavailable = errors.New("monitor: current spend unavailable")
)

// Config wires a Monitor.
type Config struct {
	Store    store.Store
	Engine   *pipeline.Engine
	Throttle *alert.Throttle
	Notifier alert.Notifier     // nil logs alerts only
	Metrics  *metrics.Collector // nil disables metrics
	Now      func() time.Time
	Logger   *slog.Logger
}

// Monitor exposes balance status, deposits, syncs and alert checks over a
// single ledger.
type Monitor struct {
	store    store.Store
	engine   *pipeline.Engine
	throttle *alert.Throttle
	notifier alert.Notifier
	metrics  *metrics.Collector
	now      func() time.Time
	logger   *slog.Logger

	lock *sync.Mutex

	viewMu   sync.Mutex
	lastGood *model.BalanceView
}

// New returns a monitor for cfg.
func New(cfg Config) *Monitor {
	m := &Monitor{
		store:    cfg.Store,
		engine:   cfg.Engine,
		throttle: cfg.Throttle,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		logger:   cfg.Logger,
		lock:     lockFor(cfg.Store.Name()),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "monitor")
	if m.notifier == nil {
		m.notifier = alert.LogNotifier{Logger: m.logger}
	}
	if m.throttle == nil {
		m.throttle = alert.NewThrottle(alert.ThrottleConfig{
			Threshold:  decimal.NewFromInt(10),
			Cooldown:   2 * time.Hour,
			QuietStart: 21,
			QuietEnd:   6,
		})
	}
	return m
}

// Init writes the seed ledger if none is persisted yet.
func (m *Monitor) Init(ctx context.Context) (model.Ledger, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	l, err := m.store.Load(ctx)
	switch {
	case err == nil:
		return l, nil
	case errors.Is(err, store.ErrCorrupt):
		// Left in place; the next save replaces it.
		m.logger.Warn("ledger unreadable, starting from seed", "store", m.store.Name(), "error", err)
		return m.engine.LoadLedger(ctx, m.now().UTC()), nil
	case !errors.Is(err, store.ErrNotFound):
		return model.Ledger{}, err
	}
	l = m.engine.LoadLedger(ctx, m.now().UTC())
	if err := m.store.Save(ctx, l); err != nil {
		return l, fmt.Errorf("writing initial ledger: %w", err)
	}
	m.logger.Info("initialised ledger",
		"store", m.store.Name(),
		"total_deposited", l.TotalDeposited.StringFixed(2),
		"checkpoint", l.Checkpoint.Format(time.RFC3339),
	)
	return l, nil
}

// Status reconciles and returns the current balance view.
func (m *Monitor) Status(ctx context.Context) model.BalanceView {
	m.lock.Lock()
	defer m.lock.Unlock()

	view, _ := m.reconcile(ctx)
	return view
}

// CheckNow reconciles, evaluates the alert throttle and notifies when
// warranted. Every attempt is stamped, so a failed notification is retried
// only after the cooldown.
func (m *Monitor) CheckNow(ctx context.Context) model.BalanceView {
	m.lock.Lock()
	defer m.lock.Unlock()

	view, res := m.reconcile(ctx)
	now := res.StartedAt

	decision := m.throttle.Evaluate(view.Balance, res.Ledger.LastAlertSent, now)
	logger := m.logger.With("run_id", res.RunID, "balance", view.Balance.StringFixed(2))
	if decision != alert.Notify {
		logger.Debug("no alert", "decision", string(decision))
		return view
	}

	a := alert.Alert{
		ID:        uuid.NewString(),
		Balance:   view.Balance,
		Threshold: m.throttle.Threshold(),
		At:        now,
	}
	err := m.notifier.Notify(ctx, a)
	if m.metrics != nil {
		m.metrics.RecordAlert(err)
	}
	if err != nil {
		// Stamped anyway: a send that failed after delivery must not repeat every tick.
		logger.Error("sending low balance alert failed", "alert_id", a.ID, "error", err)
	}

	next := res.Ledger.Clone()
	next.LastAlertSent = now.Truncate(time.Second)
	if err := m.store.Save(ctx, next); err != nil {
		logger.Error("recording alert time failed", "alert_id", a.ID, "error", err)
		return view
	}
	if err == nil {
		logger.Info("low balance alert sent", "alert_id", a.ID, "threshold", a.Threshold.StringFixed(2))
	}

	view.LastAlertSent = next.LastAlertSent
	view.AlertState = string(m.throttle.State(next.LastAlertSent, now))
	if !view.Stale {
		m.remember(view)
	}
	return view
}

// AddDeposit adds amount to the deposited total and clears the alert stamp.
// The first deposit into an untouched ledger also moves the checkpoint to
// now so backdated lookback spend is not charged against it.
func (m *Monitor) AddDeposit(ctx context.Context, amount decimal.Decimal) (model.Ledger, error) {
	if amount.IsNegative() {
		return model.Ledger{}, ErrInvalidAmount
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now().UTC()
	l := m.engine.LoadLedger(ctx, now).Clone()
	if l.TotalDeposited.IsZero() && l.HistoricalSpend.IsZero() && amount.IsPositive() {
		l.Checkpoint = now.Truncate(time.Second)
	}
	l.TotalDeposited = l.TotalDeposited.Add(amount)
	l.LastAlertSent = time.Time{}

	if err := m.store.Save(ctx, l); err != nil {
		return l, fmt.Errorf("saving deposit: %w", err)
	}
	m.forget()
	m.logger.Info("deposit recorded",
		"amount", amount.StringFixed(2),
		"total_deposited", l.TotalDeposited.StringFixed(2),
	)
	return l, nil
}

// SyncBalance sets the deposited total so the estimated balance equals
// actual, the balance reported by the provider.
func (m *Monitor) SyncBalance(ctx context.Context, actual decimal.Decimal) (model.BalanceView, error) {
	if actual.IsNegative() {
		return model.BalanceView{}, ErrInvalidAmount
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	res, err := m.engine.Reconcile(ctx)
	m.observe(res)
	if err != nil {
		return model.BalanceView{}, err
	}
	if res.Fetch.Err != nil && !errors.Is(res.Fetch.Err, pipeline.ErrNoFetcher) {
		return model.BalanceView{}, fmt.Errorf("%w: %w", ErrSpendUnavailable, res.Fetch.Err)
	}

	next := res.Ledger.Clone()
	next.TotalDeposited = actual.Add(res.Summary.Total)
	if err := m.store.Save(ctx, next); err != nil {
		return model.BalanceView{}, fmt.Errorf("saving sync: %w", err)
	}
	m.logger.Info("balance synced",
		"actual", actual.StringFixed(2),
		"total_spend", res.Summary.Total.StringFixed(4),
		"total_deposited", next.TotalDeposited.StringFixed(4),
	)

	view := m.decorate(pipeline.Balance(next, res.Summary), res.StartedAt)
	m.remember(view)
	return view, nil
}

// reconcile runs the engine and builds the view. The caller holds the lock.
func (m *Monitor) reconcile(ctx context.Context) (model.BalanceView, pipeline.Result) {
	res, err := m.engine.Reconcile(ctx)
	m.observe(res)
	if err != nil {
		m.logger.Warn("ledger not persisted", "run_id", res.RunID, "error", err)
	}

	view := m.decorate(pipeline.Balance(res.Ledger, res.Summary), res.StartedAt)
	if res.Fetch.Err == nil {
		m.remember(view)
		return view, res
	}

	view.Stale = true
	view.LastError = res.Fetch.Err.Error()
	if last := m.last(); last != nil {
		// Spend never decreases, so the larger total is the better estimate.
		total := last.TotalSpend
		if res.Summary.Total.GreaterThan(total) {
			total = res.Summary.Total
		} else {
			view.DailyUsage = last.DailyUsage
			view.MonthlyUsage = last.MonthlyUsage
			view.History = last.History
		}
		view.TotalSpend = total
		view.Balance = view.TotalDeposited.Sub(total)
	}
	return view, res
}

func (m *Monitor) decorate(v model.BalanceView, now time.Time) model.BalanceView {
	v.Threshold = m.throttle.Threshold()
	v.AlertState = string(m.throttle.State(v.LastAlertSent, now))
	v.ComputedAt = now
	return v
}

func (m *Monitor) observe(res pipeline.Result) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordReconcile(string(res.Outcome), res.Fetch.RateLimited, m.now().Sub(res.StartedAt))
	m.metrics.ObserveLedger(res.Ledger)
}

func (m *Monitor) remember(v model.BalanceView) {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	m.lastGood = &v
	if m.metrics != nil {
		m.metrics.ObserveView(v)
	}
}

func (m *Monitor) forget() {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	m.lastGood = nil
}

func (m *Monitor) last() *model.BalanceView {
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	if m.lastGood == nil {
		return nil
	}
	v := *m.lastGood
	return &v
}
