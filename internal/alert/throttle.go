// Package alert decides when a low balance should notify and delivers the
// notification.
package alert

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the throttle state derived from the last alert time.
type State string

const (
	// StateNormal means no alert was sent within the cooldown.
	StateNormal State = "NORMAL"
	// StateAlerted means an alert was sent within the cooldown.
	StateAlerted State = "ALERTED"
)

// Decision is the outcome of evaluating a balance.
type Decision string

// Decisions returned by Evaluate.
const (
	Notify         Decision = "notify"
	AboveThreshold Decision = "above_threshold"
	CoolingDown    Decision = "cooling_down"
	QuietHours     Decision = "quiet_hours"
)

// ThrottleConfig configures a Throttle.
type ThrottleConfig struct {
	Threshold decimal.Decimal
	Cooldown  time.Duration
	// Alerts are suppressed from QuietStart (inclusive) until QuietEnd
	// (exclusive), in local hours of Location. Equal hours disable quiet hours.
	QuietStart int
	QuietEnd   int
	Location   *time.Location
}

// Throttle gates low-balance notifications. Eligibility resets by the
// cooldown elapsing alone: a balance that never recovers is re-alerted
// once per cooldown.
type Throttle struct {
	cfg ThrottleConfig
}

// NewThrottle returns a throttle for cfg.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Throttle{cfg: cfg}
}

// Threshold returns the configured low-balance threshold.
func (t *Throttle) Threshold() decimal.Decimal { return t.cfg.Threshold }

// State derives the throttle state at now from lastSent.
func (t *Throttle) State(lastSent, now time.Time) State {
	if !lastSent.IsZero() && now.Sub(lastSent) <= t.cfg.Cooldown {
		return StateAlerted
	}
	return StateNormal
}

// Evaluate decides whether balance warrants a notification at now.
func (t *Throttle) Evaluate(balance decimal.Decimal, lastSent, now time.Time) Decision {
	if !balance.LessThan(t.cfg.Threshold) {
		return AboveThreshold
	}
	if t.State(lastSent, now) == StateAlerted {
		return CoolingDown
	}
	if t.quiet(now) {
		return QuietHours
	}
	return Notify
}

func (t *Throttle) quiet(now time.Time) bool {
	start, end := t.cfg.QuietStart, t.cfg.QuietEnd
	if start == end {
		return false
	}
	h := now.In(t.cfg.Location).Hour()
	if start < end {
		return h >= start && h < end
	}
	// window wraps midnight, e.g. 21 -> 6
	return h >= start || h < end
}
