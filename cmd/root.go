// Package cmd implements the creditwatch CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/creditwatch/internal/alert"
	"github.com/theirongolddev/creditwatch/internal/config"
	"github.com/theirongolddev/creditwatch/internal/costapi"
	"github.com/theirongolddev/creditwatch/internal/logging"
	"github.com/theirongolddev/creditwatch/internal/metrics"
	"github.com/theirongolddev/creditwatch/internal/model"
	"github.com/theirongolddev/creditwatch/internal/monitor"
	"github.com/theirongolddev/creditwatch/internal/pipeline"
	"github.com/theirongolddev/creditwatch/internal/store"
)

var (
	flagConfig   string
	flagLedger   string
	flagStore    string
	flagQuiet    bool
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:          "creditwatch",
	Short:        "Prepaid API credit balance monitor",
	Long:         "Track prepaid API credit: reconcile spend from the organization cost API, estimate the remaining balance, and alert when it runs low.",
	RunE:         runStatus,
	SilenceUsage: true,
}

// Execute is the main entry point called from main.go.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.Path()+")")
	rootCmd.PersistentFlags().StringVar(&flagLedger, "ledger", "", "Ledger path, overrides general.ledger_path")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "Ledger backend: file, sqlite or memory")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// app is everything a command needs, built from config.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   store.Store
	monitor *monitor.Monitor
	metrics *metrics.Collector

	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// loadConfig resolves .env, the config file, env vars and flags.
func loadConfig() (config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagLedger != "" {
		cfg.General.LedgerPath = flagLedger
	}
	if flagStore != "" {
		cfg.General.Store = flagStore
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

// newApp wires the ledger store, cost fetcher, notifiers and monitor.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	st, err := store.Open(cfg.General.Store, cfg.General.LedgerPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: st, closers: []io.Closer{st}}

	loc, err := cfg.Alert.Location()
	if err != nil {
		a.Close()
		return nil, err
	}

	engineCfg := pipeline.EngineConfig{
		Store: st,
		Seed: func(now time.Time) model.Ledger {
			return model.NewLedger(now, cfg.General.InitialDeposit, lookback(cfg))
		},
		Logger: logger,
	}
	if client := costapi.NewClient(cfg.CostAPI.APIKey, cfg.CostAPI.BaseURL, cfg.CostAPI.Timeout.Duration); client != nil {
		engineCfg.Fetcher = costapi.NewFetcher(client, costapi.FetcherConfig{
			PageLimit:      cfg.CostAPI.PageLimit,
			MaxPages:       cfg.CostAPI.MaxPages,
			RateLimitDelay: cfg.CostAPI.RateLimitDelay.Duration,
			PageDelay:      cfg.CostAPI.PageDelay.Duration,
		})
		logger.Debug("cost api configured", "key", config.MaskKey(cfg.CostAPI.APIKey))
	} else {
		logger.Warn("OPENAI_ADMIN_KEY not set, spend will not be fetched")
	}

	a.metrics = metrics.NewCollector(cfg.Metrics, nil)
	a.monitor = monitor.New(monitor.Config{
		Store:  st,
		Engine: pipeline.NewEngine(engineCfg),
		Throttle: alert.NewThrottle(alert.ThrottleConfig{
			Threshold:  cfg.Alert.Threshold,
			Cooldown:   cfg.Alert.Cooldown.Duration,
			QuietStart: cfg.Alert.QuietStart,
			QuietEnd:   cfg.Alert.QuietEnd,
			Location:   loc,
		}),
		Notifier: a.notifiers(),
		Metrics:  a.metrics,
		Logger:   logger,
	})
	return a, nil
}

// notifiers builds the configured alert transports, falling back to the log.
func (a *app) notifiers() alert.Notifier {
	var ns alert.Multi

	smtpN := alert.NewSMTPNotifier(alert.SMTPConfig{
		Server:    a.cfg.SMTP.Server,
		Port:      a.cfg.SMTP.Port,
		User:      a.cfg.SMTP.User,
		Password:  a.cfg.SMTP.Password,
		Recipient: a.cfg.SMTP.Recipient,
	})
	if smtpN.Configured() {
		ns = append(ns, smtpN)
	}
	if len(a.cfg.Kafka.Brokers) > 0 {
		k := alert.NewKafkaNotifier(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
		a.closers = append(a.closers, k)
		ns = append(ns, k)
	}
	if len(ns) == 0 {
		a.logger.Warn("no alert transport configured, alerts go to the log only")
		return alert.LogNotifier{Logger: a.logger}
	}
	return ns
}

func lookback(cfg config.Config) time.Duration {
	return time.Duration(cfg.General.LookbackDays) * 24 * time.Hour
}

func progress(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  "+format+"\n", args...)
	}
}

// friendlyError rewrites cost API failures into actionable messages.
func friendlyError(err error) error {
	switch {
	case errors.Is(err, costapi.ErrUnauthorized):
		return errors.New("admin key rejected by the cost API; check OPENAI_ADMIN_KEY")
	case errors.Is(err, monitor.ErrInvalidAmount):
		return errors.New("amount must not be negative")
	default:
		return err
	}
}
