package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a check job on a cron schedule. Ticks that arrive while
// the previous run is still going are skipped.
type Scheduler struct {
	spec    string
	job     func(ctx context.Context)
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
	// stopped is done once the last Stop has drained the running job.
	stopped context.Context
}

// NewScheduler returns a scheduler that calls job on spec. spec accepts
// standard five-field cron expressions and descriptors such as "@every 2m".
func NewScheduler(spec string, job func(ctx context.Context), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "daemon.scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		spec:   spec,
		job:    job,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
	}
}

// ParseSchedule validates a schedule expression.
func ParseSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Start schedules the job and stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := ParseSchedule(s.spec); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.spec, func() { s.job(ctx) }); err != nil {
		return fmt.Errorf("scheduling check: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "schedule", s.spec)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish. The
// wait happens outside the lock so a job may still query the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		s.stopped = s.cron.Stop()
		s.logger.Info("scheduler stopping")
	}
	stopped := s.stopped
	s.mu.Unlock()

	if stopped != nil {
		<-stopped.Done()
	}
}

// NextRun returns the next scheduled run, or nil if not started.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
