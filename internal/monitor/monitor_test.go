package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/creditwatch/internal/alert"
	"github.com/theirongolddev/creditwatch/internal/config"
	"github.com/theirongolddev/creditwatch/internal/logging"
	"github.com/theirongolddev/creditwatch/internal/metrics"
	"github.com/theirongolddev/creditwatch/internal/model"
	"github.com/theirongolddev/creditwatch/internal/pipeline"
	"github.com/theirongolddev/creditwatch/internal/store"
)

var noon = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu      sync.Mutex
	buckets []model.Bucket
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, start time.Time, yield func(model.Bucket) bool) model.FetchReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.FetchReport{Err: f.err}
	}
	var r model.FetchReport
	for _, b := range f.buckets {
		if b.Start.Before(start) {
			continue
		}
		r.Buckets++
		if !yield(b) {
			break
		}
	}
	r.Pages = 1
	return r
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeNotifier struct {
	mu     sync.Mutex
	err    error
	alerts []alert.Alert
}

func (n *fakeNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func day(y int, m time.Month, d int, amount string) model.Bucket {
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return model.Bucket{Start: start, End: start.AddDate(0, 0, 1), Amount: decimal.RequireFromString(amount)}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store    *store.MemoryStore
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	now      time.Time
	monitor  *Monitor
}

func newFixture(t *testing.T, seed *model.Ledger, buckets ...model.Bucket) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemory(),
		fetcher:  &fakeFetcher{buckets: buckets},
		notifier: &fakeNotifier{},
		now:      noon,
	}
	if seed != nil {
		if err := f.store.Save(context.Background(), *seed); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}
	clock := func() time.Time { return f.now }
	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Store:   f.store,
		Fetcher: f.fetcher,
		Now:     clock,
		Logger:  logging.Discard(),
	})
	f.monitor = New(Config{
		Store:  f.store,
		Engine: engine,
		Throttle: alert.NewThrottle(alert.ThrottleConfig{
			Threshold:  decimal.NewFromInt(10),
			Cooldown:   2 * time.Hour,
			QuietStart: 21,
			QuietEnd:   6,
			Location:   time.UTC,
		}),
		Notifier: f.notifier,
		Now:      clock,
		Logger:   logging.Discard(),
	})
	return f
}

func (f *fixture) ledger(t *testing.T) model.Ledger {
	t.Helper()
	l, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return l
}

func ledgerWith(deposited, historical string, checkpoint time.Time) *model.Ledger {
	return &model.Ledger{
		TotalDeposited:  dec(deposited),
		HistoricalSpend: dec(historical),
		Checkpoint:      checkpoint,
		MonthlyHistory:  map[string]decimal.Decimal{},
	}
}

func TestInitWritesSeed(t *testing.T) {
	f := newFixture(t, nil)
	l, err := f.monitor.Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	want := noon.Add(-model.DefaultLookback)
	if !l.Checkpoint.Equal(want) {
		t.Fatalf("checkpoint = %v, want %v", l.Checkpoint, want)
	}
	if f.store.Saves() != 1 {
		t.Fatalf("saves = %d, want 1", f.store.Saves())
	}

	if _, err := f.monitor.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if f.store.Saves() != 1 {
		t.Fatal("Init overwrote an existing ledger")
	}
}

func TestInitLeavesCorruptLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	fs := store.NewFileStore(path)
	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Store:  fs,
		Now:    func() time.Time { return noon },
		Logger: logging.Discard(),
	})
	m := New(Config{Store: fs, Engine: engine, Now: func() time.Time { return noon }, Logger: logging.Discard()})

	l, err := m.Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !l.TotalDeposited.IsZero() {
		t.Fatalf("deposited = %s, want seed", l.TotalDeposited)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{not json" {
		t.Fatalf("ledger file rewritten: %q", data)
	}
}

func TestAddDepositAccumulates(t *testing.T) {
	cp := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, ledgerWith("25", "5", cp))

	l, err := f.monitor.AddDeposit(context.Background(), dec("10.25"))
	if err != nil {
		t.Fatalf("AddDeposit: %v", err)
	}
	if !l.TotalDeposited.Equal(dec("35.25")) {
		t.Fatalf("total = %s, want 35.25", l.TotalDeposited)
	}
	if !l.Checkpoint.Equal(cp) {
		t.Fatalf("checkpoint moved to %v", l.Checkpoint)
	}
	if !f.ledger(t).TotalDeposited.Equal(dec("35.25")) {
		t.Fatal("deposit not persisted")
	}
}

func TestFirstDepositResetsCheckpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.now = noon.Add(1500 * time.Millisecond)

	l, err := f.monitor.AddDeposit(context.Background(), dec("50"))
	if err != nil {
		t.Fatalf("AddDeposit: %v", err)
	}
	if want := noon.Add(time.Second); !l.Checkpoint.Equal(want) {
		t.Fatalf("checkpoint = %v, want %v", l.Checkpoint, want)
	}
}

func TestZeroDepositKeepsLookback(t *testing.T) {
	f := newFixture(t, nil)
	l, err := f.monitor.AddDeposit(context.Background(), decimal.Zero)
	if err != nil {
		t.Fatalf("AddDeposit: %v", err)
	}
	if want := noon.Add(-model.DefaultLookback); !l.Checkpoint.Equal(want) {
		t.Fatalf("checkpoint = %v, want %v", l.Checkpoint, want)
	}
}

func TestAddDepositClearsAlertStamp(t *testing.T) {
	seed := ledgerWith("5", "0", noon.AddDate(0, -1, 0))
	seed.LastAlertSent = noon.Add(-10 * time.Minute)
	f := newFixture(t, seed)

	l, err := f.monitor.AddDeposit(context.Background(), dec("1"))
	if err != nil {
		t.Fatalf("AddDeposit: %v", err)
	}
	if !l.LastAlertSent.IsZero() {
		t.Fatalf("last alert = %v, want zero", l.LastAlertSent)
	}
}

func TestAddDepositRejectsNegative(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.monitor.AddDeposit(context.Background(), dec("-1")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if f.store.Saves() != 0 {
		t.Fatal("rejected deposit was saved")
	}
}

func TestSyncBalance(t *testing.T) {
	// 30 of spend already banked from September, nothing new this month.
	seed := ledgerWith("0", "30", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	seed.MonthlyHistory["Sep 2026"] = dec("30")
	f := newFixture(t, seed)

	view, err := f.monitor.SyncBalance(context.Background(), dec("20"))
	if err != nil {
		t.Fatalf("SyncBalance: %v", err)
	}
	if !view.TotalDeposited.Equal(dec("50")) {
		t.Fatalf("deposited = %s, want 50", view.TotalDeposited)
	}
	if !view.Balance.Equal(dec("20")) {
		t.Fatalf("balance = %s, want 20", view.Balance)
	}
	l := f.ledger(t)
	if !l.TotalDeposited.Equal(dec("50")) || !l.HistoricalSpend.Equal(dec("30")) {
		t.Fatalf("ledger = %+v", l)
	}
	if !l.MonthlyHistory["Sep 2026"].Equal(dec("30")) {
		t.Fatal("sync changed history")
	}
}

func TestSyncBalanceCountsCurrentMonth(t *testing.T) {
	seed := ledgerWith("0", "10", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	f := newFixture(t, seed, day(2026, 10, 3, "7.5"), day(2026, 10, 14, "2.5"))

	view, err := f.monitor.SyncBalance(context.Background(), dec("20"))
	if err != nil {
		t.Fatalf("SyncBalance: %v", err)
	}
	if !view.TotalDeposited.Equal(dec("40")) {
		t.Fatalf("deposited = %s, want 40", view.TotalDeposited)
	}
	if !f.ledger(t).HistoricalSpend.Equal(dec("10")) {
		t.Fatal("current month spend was banked")
	}
}

func TestSyncBalanceRefusesWithoutSpend(t *testing.T) {
	f := newFixture(t, ledgerWith("0", "0", noon.AddDate(0, -1, 0)))
	f.fetcher.fail(errors.New("connection refused"))

	if _, err := f.monitor.SyncBalance(context.Background(), dec("20")); !errors.Is(err, ErrSpendUnavailable) {
		t.Fatalf("err = %v, want ErrSpendUnavailable", err)
	}
	if !f.ledger(t).TotalDeposited.IsZero() {
		t.Fatal("failed sync changed the deposit")
	}
}

func TestCheckNowSendsAlert(t *testing.T) {
	// Deposit 50, one finalized bucket of 45 leaves 5, under the threshold.
	f := newFixture(t, ledgerWith("50", "0", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
		day(2026, 9, 10, "45"))

	view := f.monitor.CheckNow(context.Background())
	if !view.Balance.Equal(dec("5")) {
		t.Fatalf("balance = %s, want 5", view.Balance)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("alerts = %d, want 1", f.notifier.count())
	}
	a := f.notifier.alerts[0]
	if !a.Balance.Equal(dec("5")) || !a.Threshold.Equal(dec("10")) || a.ID == "" {
		t.Fatalf("alert = %+v", a)
	}

	l := f.ledger(t)
	if !l.HistoricalSpend.Equal(dec("45")) {
		t.Fatalf("historical = %s, want 45", l.HistoricalSpend)
	}
	if !l.LastAlertSent.Equal(noon) {
		t.Fatalf("last alert = %v, want %v", l.LastAlertSent, noon)
	}
	if view.AlertState != string(alert.StateAlerted) {
		t.Fatalf("state = %s", view.AlertState)
	}
}

func TestCheckNowRespectsCooldown(t *testing.T) {
	seed := ledgerWith("50", "45", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	seed.LastAlertSent = noon.Add(-10 * time.Minute)
	f := newFixture(t, seed)

	f.monitor.CheckNow(context.Background())
	if f.notifier.count() != 0 {
		t.Fatal("alerted during cooldown")
	}

	f.now = noon.Add(2 * time.Hour)
	f.monitor.CheckNow(context.Background())
	if f.notifier.count() != 1 {
		t.Fatalf("alerts = %d after cooldown, want 1", f.notifier.count())
	}
}

func TestCheckNowQuietHours(t *testing.T) {
	f := newFixture(t, ledgerWith("5", "0", noon.AddDate(0, 0, -1)))
	f.now = time.Date(2026, 10, 14, 22, 0, 0, 0, time.UTC)

	f.monitor.CheckNow(context.Background())
	if f.notifier.count() != 0 {
		t.Fatal("alerted during quiet hours")
	}
}

func TestCheckNowNotifyFailureStillCoolsDown(t *testing.T) {
	f := newFixture(t, ledgerWith("5", "0", noon.AddDate(0, 0, -1)))
	f.notifier.err = errors.New("smtp down")

	f.monitor.CheckNow(context.Background())
	if got := f.ledger(t).LastAlertSent; !got.Equal(noon) {
		t.Fatalf("last_alert_sent = %v, want %v", got, noon)
	}

	for i := 1; i <= 9; i++ {
		f.now = noon.Add(time.Duration(i) * 2 * time.Minute)
		view := f.monitor.CheckNow(context.Background())
		if view.AlertState != string(alert.StateAlerted) {
			t.Fatalf("check %d: alert state = %s, want %s", i, view.AlertState, alert.StateAlerted)
		}
	}
	if f.notifier.count() != 1 {
		t.Fatalf("attempts = %d, want 1", f.notifier.count())
	}

	f.now = noon.Add(2*time.Hour + time.Minute)
	f.monitor.CheckNow(context.Background())
	if f.notifier.count() != 2 {
		t.Fatalf("attempts after cooldown = %d, want 2", f.notifier.count())
	}
}

func TestCheckNowAboveThreshold(t *testing.T) {
	f := newFixture(t, ledgerWith("100", "0", noon.AddDate(0, 0, -1)), day(2026, 10, 14, "3"))
	view := f.monitor.CheckNow(context.Background())
	if !view.Balance.Equal(dec("97")) {
		t.Fatalf("balance = %s, want 97", view.Balance)
	}
	if f.notifier.count() != 0 {
		t.Fatal("alerted above threshold")
	}
}

func TestStatusStaleOnFetchFailure(t *testing.T) {
	f := newFixture(t, ledgerWith("100", "0", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)),
		day(2026, 10, 5, "12"), day(2026, 10, 14, "3"))

	good := f.monitor.Status(context.Background())
	if good.Stale || !good.Balance.Equal(dec("85")) {
		t.Fatalf("first view = %+v", good)
	}

	f.fetcher.fail(errors.New("api went away"))
	stale := f.monitor.Status(context.Background())
	if !stale.Stale || stale.LastError == "" {
		t.Fatalf("view not marked stale: %+v", stale)
	}
	if !stale.Balance.Equal(dec("85")) || !stale.DailyUsage.Equal(dec("3")) {
		t.Fatalf("stale view = balance %s daily %s, want last good", stale.Balance, stale.DailyUsage)
	}
}

func TestStatusDoesNotAlert(t *testing.T) {
	f := newFixture(t, ledgerWith("5", "0", noon.AddDate(0, 0, -1)))
	f.monitor.Status(context.Background())
	if f.notifier.count() != 0 {
		t.Fatal("Status sent an alert")
	}
}

func TestConcurrentChecksBankOnce(t *testing.T) {
	f := newFixture(t, ledgerWith("100", "0", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)),
		day(2026, 9, 3, "10"), day(2026, 9, 20, "5"), day(2026, 10, 2, "4"))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.monitor.CheckNow(context.Background())
			f.monitor.Status(context.Background())
		}()
	}
	wg.Wait()

	l := f.ledger(t)
	if !l.HistoricalSpend.Equal(dec("15")) {
		t.Fatalf("historical = %s, want 15", l.HistoricalSpend)
	}
	if _, ok := l.MonthlyHistory["Oct 2026"]; ok {
		t.Fatal("current month persisted")
	}
	view := f.monitor.Status(context.Background())
	if !view.Balance.Equal(dec("81")) {
		t.Fatalf("balance = %s, want 81", view.Balance)
	}
}

func TestCheckNowRecordsMetrics(t *testing.T) {
	f := newFixture(t, ledgerWith("5", "0", noon.AddDate(0, 0, -1)))
	reg := prometheus.NewRegistry()
	f.monitor.metrics = metrics.NewCollector(config.MetricsConfig{Enabled: true, Namespace: "cw"}, reg)

	f.monitor.CheckNow(context.Background())

	want := `
# HELP cw_alerts_sent_total Low-balance alerts delivered
# TYPE cw_alerts_sent_total counter
cw_alerts_sent_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "cw_alerts_sent_total"); err != nil {
		t.Fatal(err)
	}
}
