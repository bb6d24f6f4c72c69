package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Alert is a low-balance notification.
type Alert struct {
	ID        string
	Balance   decimal.Decimal
	Threshold decimal.Decimal
	At        time.Time
}

// Notifier delivers an alert.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the log. It is the fallback when no
// transport is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the alert.
func (n LogNotifier) Notify(_ context.Context, a Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("credit balance below threshold",
		"alert_id", a.ID,
		"balance", a.Balance.StringFixed(2),
		"threshold", a.Threshold.StringFixed(2),
	)
	return nil
}

// Multi fans an alert out to every notifier. It succeeds if at least one
// notifier succeeds.
type Multi []Notifier

// Notify delivers a to all notifiers.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	if len(m) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m) {
		return errors.Join(errs...)
	}
	return nil
}
