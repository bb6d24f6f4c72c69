// Package daemon provides the long-running balance monitor service: a
// scheduled check loop plus the HTTP API.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/theirongolddev/creditwatch/internal/model"
	"github.com/theirongolddev/creditwatch/internal/monitor"
)

// ErrShuttingDown is returned when a check is requested after shutdown began.
var ErrShuttingDown = errors.New("daemon: shutting down")

// Monitor is the balance service the daemon drives. *monitor.Monitor
// implements it.
type Monitor interface {
	Status(ctx context.Context) model.BalanceView
	CheckNow(ctx context.Context) model.BalanceView
	AddDeposit(ctx context.Context, amount decimal.Decimal) (model.Ledger, error)
	SyncBalance(ctx context.Context, actual decimal.Decimal) (model.BalanceView, error)
}

// Config controls the daemon runtime behavior.
type Config struct {
	Addr         string
	Schedule     string
	EventsBuffer int
	CheckTimeout time.Duration
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Snapshot is a compact balance state for status and event payloads.
type Snapshot struct {
	At             time.Time   `json:"at"`
	Balance        json.Number `json:"balance"`
	TotalDeposited json.Number `json:"total_deposited"`
	TotalSpend     json.Number `json:"total_spend"`
	DailyUsage     json.Number `json:"daily_usage"`
	MonthlyUsage   json.Number `json:"monthly_usage"`
	AlertState     string      `json:"alert_state"`
	Stale          bool        `json:"stale,omitempty"`
}

// Delta captures balance changes between checks.
type Delta struct {
	Balance    json.Number `json:"balance"`
	TotalSpend json.Number `json:"total_spend"`
}

// Event is emitted when a check changes the balance or sends an alert.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Snapshot  Snapshot  `json:"snapshot"`
	Delta     Delta     `json:"delta"`
}

// Event types.
const (
	EventSnapshot = "snapshot"
	EventBalance  = "balance_delta"
	EventAlert    = "low_balance"
)

// Status is served at /api/daemon.
type Status struct {
	StartedAt       time.Time  `json:"started_at"`
	LastCheckAt     time.Time  `json:"last_check_at"`
	NextCheckAt     *time.Time `json:"next_check_at,omitempty"`
	Schedule        string     `json:"schedule"`
	CheckCount      int64      `json:"check_count"`
	Summary         Snapshot   `json:"summary"`
	LastError       string     `json:"last_error,omitempty"`
	LastEvent       *Event     `json:"last_event,omitempty"`
	EventCount      int        `json:"event_count"`
	SubscriberCount int        `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg       Config
	monitor   Monitor
	scheduler *Scheduler
	logger    *slog.Logger

	// base is the context background checks run under.
	base    context.Context
	pending sync.WaitGroup

	mu          sync.RWMutex
	closing     bool
	startedAt   time.Time
	lastCheckAt time.Time
	checkCount  int64
	lastError   string
	hasView     bool
	view        model.BalanceView
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a new daemon service driving m.
func New(cfg Config, m Monitor) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 2m"
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8000"
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Service{
		cfg:       cfg,
		monitor:   m,
		logger:    cfg.Logger.With("component", "daemon"),
		base:      context.Background(),
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
	s.scheduler = NewScheduler(cfg.Schedule, s.checkOnce, cfg.Logger)
	return s
}

// Run serves the HTTP API and runs scheduled checks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.base = ctx

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if err := s.scheduler.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return err
	}
	s.logger.Info("daemon listening", "addr", s.cfg.Addr, "schedule", s.cfg.Schedule)

	// Seed an initial view so status is useful immediately.
	s.checkOnce(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		err := server.Shutdown(shutdownCtx)
		s.scheduler.Stop()
		s.pending.Wait()
		return err
	case err := <-errCh:
		s.scheduler.Stop()
		return fmt.Errorf("daemon http server: %w", err)
	}
}

// Handler returns the HTTP API router.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/deposit", s.handleDeposit)
		r.Post("/sync", s.handleSync)
		r.Post("/check-now", s.handleCheckNow)
		r.Get("/daemon", s.handleDaemonStatus)
		r.Get("/events", s.handleEvents)
		r.Get("/stream", s.handleStream)
	})
	return r
}

// checkOnce runs one reconcile-and-alert pass and publishes the outcome.
func (s *Service) checkOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	view := s.monitor.CheckNow(ctx)
	if view.LastError != "" {
		s.logger.Warn("check used stale data", "error", view.LastError)
	}
	s.record(view)
}

// record stores view as the latest and publishes an event if it changed.
func (s *Service) record(view model.BalanceView) {
	var (
		ev      Event
		publish bool
	)

	s.mu.Lock()
	prev := s.view
	prevExists := s.hasView

	s.hasView = true
	s.view = view
	s.lastCheckAt = view.ComputedAt
	s.checkCount++
	s.lastError = view.LastError

	snap := snapshotFromView(view)
	switch {
	case !prevExists:
		ev = Event{Type: EventSnapshot, Snapshot: snap}
		publish = true
	case view.LastAlertSent.After(prev.LastAlertSent):
		ev = Event{Type: EventAlert, Snapshot: snap, Delta: diffViews(prev, view)}
		publish = true
	default:
		if !deltaZero(prev, view) {
			ev = Event{Type: EventBalance, Snapshot: snap, Delta: diffViews(prev, view)}
			publish = true
		}
	}
	if publish {
		s.nextEventID++
		ev.ID = s.nextEventID
		ev.Timestamp = view.ComputedAt
	}
	s.mu.Unlock()

	if publish {
		s.publishEvent(ev)
	}
}

func snapshotFromView(v model.BalanceView) Snapshot {
	return Snapshot{
		At:             v.ComputedAt,
		Balance:        money(v.Balance),
		TotalDeposited: money(v.TotalDeposited),
		TotalSpend:     money(v.TotalSpend),
		DailyUsage:     money(v.DailyUsage),
		MonthlyUsage:   money(v.MonthlyUsage),
		AlertState:     v.AlertState,
		Stale:          v.Stale,
	}
}

func diffViews(prev, curr model.BalanceView) Delta {
	return Delta{
		Balance:    money(curr.Balance.Sub(prev.Balance)),
		TotalSpend: money(curr.TotalSpend.Sub(prev.TotalSpend)),
	}
}

func deltaZero(prev, curr model.BalanceView) bool {
	return curr.Balance.Equal(prev.Balance) && curr.TotalSpend.Equal(prev.TotalSpend)
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus() Status {
	// Taken before s.mu; the scheduler lock must never nest inside it.
	next := s.scheduler.NextRun()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *Event
	if n := len(s.events); n > 0 {
		ev := s.events[n-1]
		last = &ev
	}
	return Status{
		StartedAt:       s.startedAt,
		LastCheckAt:     s.lastCheckAt,
		NextCheckAt:     next,
		Schedule:        s.cfg.Schedule,
		CheckCount:      s.checkCount,
		Summary:         snapshotFromView(s.view),
		LastError:       s.lastError,
		LastEvent:       last,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// ErrorStatus maps monitor errors to HTTP status codes.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, monitor.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, monitor.ErrSpendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
