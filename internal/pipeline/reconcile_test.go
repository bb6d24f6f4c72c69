package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/creditwatch/internal/logging"
	"github.com/theirongolddev/creditwatch/internal/model"
	"github.com/theirongolddev/creditwatch/internal/store"
)

// fixedNow is mid-month so "current month" is October 2026.
var fixedNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

// fakeAPI serves buckets whose start is at or after the requested start,
// the way the costs endpoint does. failAfter > 0 aborts after that many
// buckets.
type fakeAPI struct {
	buckets   []model.Bucket
	failAfter int
	calls     []time.Time
}

func (f *fakeAPI) Fetch(_ context.Context, start time.Time, yield func(model.Bucket) bool) model.FetchReport {
	f.calls = append(f.calls, start)
	var r model.FetchReport
	for _, b := range f.buckets {
		if b.Start.Before(start) {
			continue
		}
		if f.failAfter > 0 && r.Buckets == f.failAfter {
			r.Err = errors.New("api went away")
			return r
		}
		r.Buckets++
		if b.End.After(r.MaxEnd) {
			r.MaxEnd = b.End
		}
		if !yield(b) {
			return r
		}
	}
	r.Pages = 1
	return r
}

func dayBucket(y int, m time.Month, d int, amount string) model.Bucket {
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return model.Bucket{Start: start, End: start.AddDate(0, 0, 1), Amount: decimal.RequireFromString(amount)}
}

// spread returns one bucket per day for [from, to) at amount each.
func spread(from, to time.Time, amount string) []model.Bucket {
	var out []model.Bucket
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		out = append(out, dayBucket(d.Year(), d.Month(), d.Day(), amount))
	}
	return out
}

func newEngine(st store.Store, f Fetcher, now *time.Time, deposit string) *Engine {
	return NewEngine(EngineConfig{
		Store:   st,
		Fetcher: f,
		Seed: func(n time.Time) model.Ledger {
			return model.NewLedger(n, decimal.RequireFromString(deposit), model.DefaultLookback)
		},
		Now:    func() time.Time { return *now },
		Logger: logging.Discard(),
	})
}

func mustReconcile(t *testing.T, e *Engine) Result {
	t.Helper()
	res, err := e.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return res
}

func TestReconcileFreshLedgerNoBuckets(t *testing.T) {
	st := store.NewMemory()
	now := fixedNow
	e := newEngine(st, &fakeAPI{}, &now, "0")

	res := mustReconcile(t, e)
	if !res.Summary.Total.IsZero() {
		t.Fatalf("Total = %s, want 0", res.Summary.Total)
	}
	view := Balance(res.Ledger, res.Summary)
	if !view.Balance.IsZero() {
		t.Fatalf("Balance = %s, want 0", view.Balance)
	}
	if res.Outcome != OutcomeNoNewData || res.Persisted {
		t.Fatalf("outcome=%s persisted=%v, want no_new_data without save", res.Outcome, res.Persisted)
	}
	if st.Saves() != 0 {
		t.Fatalf("store saved %d times, want 0", st.Saves())
	}
}

func TestReconcileBanksFinalizedMonth(t *testing.T) {
	st := store.NewMemory()
	seed := model.NewLedger(fixedNow, decimal.NewFromInt(50), model.DefaultLookback)
	seed.Checkpoint = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if err := st.Save(context.Background(), seed); err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{buckets: []model.Bucket{dayBucket(2026, 9, 10, "45")}}
	now := fixedNow
	e := newEngine(st, api, &now, "0")

	res := mustReconcile(t, e)
	if !res.Ledger.HistoricalSpend.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("HistoricalSpend = %s, want 45", res.Ledger.HistoricalSpend)
	}
	if got := Balance(res.Ledger, res.Summary).Balance; !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("Balance = %s, want 5", got)
	}
	if res.Outcome != OutcomeUpdated || !res.Persisted {
		t.Fatalf("outcome=%s persisted=%v", res.Outcome, res.Persisted)
	}
	want := time.Date(2026, 9, 11, 0, 0, 0, 0, time.UTC)
	if !res.Ledger.Checkpoint.Equal(want) {
		t.Fatalf("Checkpoint = %v, want %v", res.Ledger.Checkpoint, want)
	}
	stored, _ := st.Load(context.Background())
	if !stored.MonthlyHistory["Sep 2026"].Equal(decimal.NewFromInt(45)) {
		t.Fatalf("stored history = %v", stored.MonthlyHistory)
	}
}

func TestReconcileIsIdempotentWithoutNewData(t *testing.T) {
	st := store.NewMemory()
	api := &fakeAPI{buckets: append(
		spread(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "1"),
		spread(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), "2")...,
	)}
	now := fixedNow
	e := newEngine(st, api, &now, "100")

	first := mustReconcile(t, e)
	afterFirst, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load after first run: %v", err)
	}
	saves := st.Saves()

	second := mustReconcile(t, e)
	afterSecond, _ := st.Load(context.Background())

	if !afterFirst.Equal(afterSecond) {
		t.Fatalf("ledger changed on second run\nfirst:  %+v\nsecond: %+v", afterFirst, afterSecond)
	}
	if st.Saves() != saves {
		t.Fatalf("second run saved the ledger")
	}
	if !first.Summary.Total.Equal(second.Summary.Total) {
		t.Fatalf("totals differ: %s vs %s", first.Summary.Total, second.Summary.Total)
	}
	// Aug (31) + Sep (30) finalized, Oct 1..13 ephemeral at 2 each
	if want := decimal.NewFromInt(61 + 26); !second.Summary.Total.Equal(want) {
		t.Fatalf("Total = %s, want %s", second.Summary.Total, want)
	}
	if !second.EphemeralSpend.Equal(decimal.NewFromInt(26)) {
		t.Fatalf("EphemeralSpend = %s, want 26", second.EphemeralSpend)
	}
}

func TestReconcileNeverPersistsCurrentMonth(t *testing.T) {
	st := store.NewMemory()
	api := &fakeAPI{buckets: []model.Bucket{
		dayBucket(2026, 9, 29, "3"),
		dayBucket(2026, 9, 30, "4"),
		dayBucket(2026, 10, 1, "5"),
		dayBucket(2026, 10, 14, "6"),
	}}
	now := fixedNow
	e := newEngine(st, api, &now, "0")

	for i := 0; i < 3; i++ {
		res := mustReconcile(t, e)
		stored, err := st.Load(context.Background())
		if err != nil {
			t.Fatalf("run %d: Load: %v", i, err)
		}
		if _, ok := stored.MonthlyHistory["Oct 2026"]; ok {
			t.Fatalf("run %d: persisted history contains current month: %v", i, stored.MonthlyHistory)
		}
		// the display history still shows October with this run's spend only
		if len(res.Summary.History) == 0 || res.Summary.History[0].Month != "Oct 2026" ||
			!res.Summary.History[0].Amount.Equal(decimal.NewFromInt(11)) {
			t.Fatalf("run %d: history = %+v", i, res.Summary.History)
		}
		if !res.Summary.Total.Equal(decimal.NewFromInt(18)) {
			t.Fatalf("run %d: Total = %s, want 18", i, res.Summary.Total)
		}
	}
}

func TestReconcileDoesNotBankStraddlingBucket(t *testing.T) {
	st := store.NewMemory()
	straddle := time.Date(2026, 9, 30, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{buckets: []model.Bucket{
		dayBucket(2026, 9, 29, "4"),
		{Start: straddle, End: straddle.Add(24 * time.Hour), Amount: decimal.NewFromInt(6)},
		dayBucket(2026, 10, 2, "3"),
	}}
	seed := model.Ledger{
		TotalDeposited:  decimal.NewFromInt(100),
		Checkpoint:      time.Date(2026, 9, 29, 0, 0, 0, 0, time.UTC),
		HistoricalSpend: decimal.Zero,
		MonthlyHistory:  map[string]decimal.Decimal{},
	}
	if err := st.Save(context.Background(), seed); err != nil {
		t.Fatal(err)
	}
	now := fixedNow
	e := newEngine(st, api, &now, "100")

	for i := 0; i < 3; i++ {
		res := mustReconcile(t, e)
		stored, err := st.Load(context.Background())
		if err != nil {
			t.Fatalf("run %d: Load: %v", i, err)
		}
		if got := stored.MonthlyHistory["Sep 2026"]; !got.Equal(decimal.NewFromInt(4)) {
			t.Fatalf("run %d: persisted Sep = %s, want 4", i, got)
		}
		if !stored.HistoricalSpend.Equal(decimal.NewFromInt(4)) {
			t.Fatalf("run %d: historical = %s, want 4", i, stored.HistoricalSpend)
		}
		if !res.Summary.Total.Equal(decimal.NewFromInt(13)) {
			t.Fatalf("run %d: Total = %s, want 13", i, res.Summary.Total)
		}
	}
}

func TestReconcileDailyAndMonthly(t *testing.T) {
	api := &fakeAPI{buckets: []model.Bucket{
		dayBucket(2026, 9, 30, "10"),
		dayBucket(2026, 10, 13, "1.5"),
		dayBucket(2026, 10, 14, "2.25"),
	}}
	now := fixedNow
	e := newEngine(store.NewMemory(), api, &now, "0")

	res := mustReconcile(t, e)
	if !res.Summary.Daily.Equal(decimal.RequireFromString("2.25")) {
		t.Fatalf("Daily = %s, want 2.25", res.Summary.Daily)
	}
	if !res.Summary.Monthly.Equal(decimal.RequireFromString("3.75")) {
		t.Fatalf("Monthly = %s, want 3.75", res.Summary.Monthly)
	}
}

func TestReconcileMonotonicAcrossMonthRollover(t *testing.T) {
	st := store.NewMemory()
	api := &fakeAPI{buckets: spread(
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 11, 6, 0, 0, 0, 0, time.UTC),
		"1",
	)}
	now := time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC)
	e := newEngine(st, api, &now, "500")

	var prev model.Ledger
	for i, at := range []time.Time{
		time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 31, 23, 0, 0, 0, time.UTC),
		time.Date(2026, 11, 1, 1, 0, 0, 0, time.UTC),
		time.Date(2026, 11, 5, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 11, 5, 9, 5, 0, 0, time.UTC),
	} {
		now = at
		// only buckets that exist by now are served
		api.buckets = spread(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), dayStart(at), "1")
		res := mustReconcile(t, e)

		if i > 0 {
			if res.Ledger.Checkpoint.Before(prev.Checkpoint) {
				t.Fatalf("run %d: checkpoint went backwards %v -> %v", i, prev.Checkpoint, res.Ledger.Checkpoint)
			}
			if res.Ledger.HistoricalSpend.LessThan(prev.HistoricalSpend) {
				t.Fatalf("run %d: historical spend decreased", i)
			}
		}
		if _, ok := res.Ledger.MonthlyHistory[model.MonthLabel(at)]; ok {
			t.Fatalf("run %d: current month persisted", i)
		}
		prev = res.Ledger
	}

	// Sep (30) + Oct (31) finalized exactly once; Nov 1..4 ephemeral
	if want := decimal.NewFromInt(61); !prev.HistoricalSpend.Equal(want) {
		t.Fatalf("HistoricalSpend = %s, want %s", prev.HistoricalSpend, want)
	}
	if !prev.MonthlyHistory["Oct 2026"].Equal(decimal.NewFromInt(31)) {
		t.Fatalf("Oct history = %s, want 31", prev.MonthlyHistory["Oct 2026"])
	}
}

func TestReconcilePartialFailureBanksWhatArrived(t *testing.T) {
	st := store.NewMemory()
	seed := model.NewLedger(fixedNow, decimal.NewFromInt(100), model.DefaultLookback)
	seed.Checkpoint = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_ = st.Save(context.Background(), seed)

	api := &fakeAPI{
		buckets:   spread(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), "1"),
		failAfter: 40,
	}
	now := fixedNow
	e := newEngine(st, api, &now, "0")

	res := mustReconcile(t, e)
	if res.Outcome != OutcomePartial {
		t.Fatalf("Outcome = %s, want partial", res.Outcome)
	}
	if !res.Ledger.HistoricalSpend.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("HistoricalSpend = %s, want 40", res.Ledger.HistoricalSpend)
	}
	if want := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC); !res.Ledger.Checkpoint.Equal(want) {
		t.Fatalf("Checkpoint = %v, want %v", res.Ledger.Checkpoint, want)
	}

	// the next healthy run continues from the checkpoint without recounting
	api.failAfter = 0
	res = mustReconcile(t, e)
	if api.calls[1] != time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("second fetch started at %v", api.calls[1])
	}
	if want := decimal.NewFromInt(31 + 30); !res.Ledger.HistoricalSpend.Equal(want) {
		t.Fatalf("HistoricalSpend = %s, want %s", res.Ledger.HistoricalSpend, want)
	}
	if !res.Ledger.MonthlyHistory["Sep 2026"].Equal(decimal.NewFromInt(30)) {
		t.Fatalf("Sep history = %s, want 30", res.Ledger.MonthlyHistory["Sep 2026"])
	}
}

func TestReconcileFailedFetchLeavesLedger(t *testing.T) {
	st := store.NewMemory()
	seed := model.NewLedger(fixedNow, decimal.NewFromInt(20), model.DefaultLookback)
	seed.HistoricalSpend = decimal.NewFromInt(7)
	_ = st.Save(context.Background(), seed)

	e := newEngine(st, failingFetcher{}, ptr(fixedNow), "0")

	res := mustReconcile(t, e)
	if res.Outcome != OutcomeFailed || res.Persisted {
		t.Fatalf("outcome=%s persisted=%v", res.Outcome, res.Persisted)
	}
	if !res.Summary.Total.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("Total = %s, want stored historical 7", res.Summary.Total)
	}
	if st.Saves() != 1 {
		t.Fatalf("store saved after failed fetch")
	}
}

func TestReconcileWithoutFetcher(t *testing.T) {
	e := newEngine(store.NewMemory(), nil, ptr(fixedNow), "0")
	res := mustReconcile(t, e)
	if !errors.Is(res.Fetch.Err, ErrNoFetcher) || res.Outcome != OutcomeFailed {
		t.Fatalf("Fetch.Err=%v outcome=%s", res.Fetch.Err, res.Outcome)
	}
}

func TestReconcileSeedsFromFreshLedger(t *testing.T) {
	api := &fakeAPI{}
	e := newEngine(store.NewMemory(), api, ptr(fixedNow), "0")
	mustReconcile(t, e)

	want := fixedNow.Add(-model.DefaultLookback)
	if len(api.calls) != 1 || !api.calls[0].Equal(want) {
		t.Fatalf("fetch start = %v, want %v", api.calls, want)
	}
}

func TestReconcileSaveErrorIsReturned(t *testing.T) {
	api := &fakeAPI{buckets: []model.Bucket{dayBucket(2026, 9, 2, "3")}}
	e := newEngine(brokenStore{}, api, ptr(fixedNow), "10")

	res, err := e.Reconcile(context.Background())
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if res.Persisted {
		t.Fatal("Persisted set despite save failure")
	}
	if !res.Summary.Total.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("Total = %s, want 3", res.Summary.Total)
	}
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, time.Time, func(model.Bucket) bool) model.FetchReport {
	return model.FetchReport{Requests: 1, Err: errors.New("costapi: unexpected status 500")}
}

type brokenStore struct{}

func (brokenStore) Load(context.Context) (model.Ledger, error) { return model.Ledger{}, store.ErrCorrupt }
func (brokenStore) Save(context.Context, model.Ledger) error   { return errors.New("disk full") }
func (brokenStore) Name() string                               { return "broken" }
func (brokenStore) Close() error                               { return nil }

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }
