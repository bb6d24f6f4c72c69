package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate checks that cfg is usable by the monitor.
func Validate(cfg Config) error {
	var errs []error

	switch cfg.General.Store {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("general.store: unknown backend %q", cfg.General.Store))
	}
	if cfg.General.LedgerPath == "" {
		errs = append(errs, errors.New("general.ledger_path: must be set"))
	}
	if cfg.General.InitialDeposit.IsNegative() {
		errs = append(errs, errors.New("general.initial_deposit: must not be negative"))
	}
	if cfg.Alert.Threshold.IsNegative() {
		errs = append(errs, errors.New("alert.threshold: must not be negative"))
	}
	if cfg.General.LookbackDays < 0 {
		errs = append(errs, errors.New("general.lookback_days: must not be negative"))
	}

	if cfg.CostAPI.PageLimit < 1 || cfg.CostAPI.PageLimit > 100 {
		errs = append(errs, fmt.Errorf("cost_api.page_limit: %d outside 1..100", cfg.CostAPI.PageLimit))
	}
	if cfg.CostAPI.MaxPages < 1 {
		errs = append(errs, errors.New("cost_api.max_pages: must be at least 1"))
	}

	if cfg.Alert.QuietStart < 0 || cfg.Alert.QuietStart > 23 {
		errs = append(errs, fmt.Errorf("alert.quiet_start: hour %d outside 0..23", cfg.Alert.QuietStart))
	}
	if cfg.Alert.QuietEnd < 0 || cfg.Alert.QuietEnd > 23 {
		errs = append(errs, fmt.Errorf("alert.quiet_end: hour %d outside 0..23", cfg.Alert.QuietEnd))
	}
	if cfg.Alert.Cooldown.Duration < 0 {
		errs = append(errs, errors.New("alert.cooldown: must not be negative"))
	}
	if _, err := cfg.Alert.Location(); err != nil {
		errs = append(errs, fmt.Errorf("alert.timezone: %w", err))
	}

	if cfg.Daemon.Addr == "" {
		errs = append(errs, errors.New("daemon.addr: must be set"))
	}
	if _, err := cron.ParseStandard(cfg.Daemon.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("daemon.schedule: %w", err))
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic: required when brokers are set"))
	}

	return errors.Join(errs...)
}
