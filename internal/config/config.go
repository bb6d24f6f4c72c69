// Package config loads creditwatch configuration from TOML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all creditwatch configuration.
type Config struct {
	General GeneralConfig `toml:"general"`
	CostAPI CostAPIConfig `toml:"cost_api"`
	Alert   AlertConfig   `toml:"alert"`
	SMTP    SMTPConfig    `toml:"smtp"`
	Kafka   KafkaConfig   `toml:"kafka"`
	Daemon  DaemonConfig  `toml:"daemon"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// GeneralConfig holds ledger storage settings.
type GeneralConfig struct {
	LedgerPath     string          `toml:"ledger_path,omitempty"`
	Store          string          `toml:"store"` // "file", "sqlite" or "memory"
	InitialDeposit decimal.Decimal `toml:"initial_deposit"`
	LookbackDays   int             `toml:"lookback_days"`
}

// CostAPIConfig holds remote cost API settings.
type CostAPIConfig struct {
	APIKey         string   `toml:"api_key,omitempty"`
	BaseURL        string   `toml:"base_url,omitempty"`
	PageLimit      int      `toml:"page_limit"`
	MaxPages       int      `toml:"max_pages"`
	RateLimitDelay Duration `toml:"rate_limit_delay"`
	PageDelay      Duration `toml:"page_delay"`
	Timeout        Duration `toml:"timeout"`
}

// AlertConfig holds low-balance alert settings.
type AlertConfig struct {
	Threshold  decimal.Decimal `toml:"threshold"`
	Cooldown   Duration        `toml:"cooldown"`
	QuietStart int             `toml:"quiet_start"` // hour alerts stop
	QuietEnd   int             `toml:"quiet_end"`   // hour alerts resume
	Timezone   string          `toml:"timezone,omitempty"`
}

// SMTPConfig holds email notifier settings.
type SMTPConfig struct {
	Server    string `toml:"server"`
	Port      int    `toml:"port"`
	User      string `toml:"user,omitempty"`
	Password  string `toml:"password,omitempty"`
	Recipient string `toml:"recipient,omitempty"`
}

// KafkaConfig holds Kafka notifier settings. Empty brokers disables it.
type KafkaConfig struct {
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic"`
}

// DaemonConfig holds daemon runtime settings.
type DaemonConfig struct {
	Addr     string `toml:"addr"`
	Schedule string `toml:"schedule"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Duration wraps time.Duration so it can be written as "2h" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			LedgerPath:   filepath.Join(DataDir(), "ledger.json"),
			Store:        "file",
			LookbackDays: 90,
		},
		CostAPI: CostAPIConfig{
			BaseURL:        "https://api.openai.com/v1",
			PageLimit:      100,
			MaxPages:       100,
			RateLimitDelay: Duration{2 * time.Second},
			PageDelay:      Duration{50 * time.Millisecond},
			Timeout:        Duration{30 * time.Second},
		},
		Alert: AlertConfig{
			Threshold:  decimal.NewFromInt(10),
			Cooldown:   Duration{2 * time.Hour},
			QuietStart: 21,
			QuietEnd:   6,
		},
		SMTP: SMTPConfig{
			Server: "smtp.gmail.com",
			Port:   587,
		},
		Kafka: KafkaConfig{
			Topic: "credit_low_balance",
		},
		Daemon: DaemonConfig{
			Addr:     "127.0.0.1:8000",
			Schedule: "@every 2m",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "creditwatch",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "creditwatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "creditwatch")
}

// DataDir returns the XDG-compliant data directory holding the ledger.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "creditwatch")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "creditwatch")
}

// Path returns the full path to the default config file.
func Path() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// LoadEnv loads a .env file from the working directory if one exists.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// Load reads the config file at path (the default path when empty),
// returning defaults if it doesn't exist, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = Path()
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path is chosen by the local user
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the config to path (the default path when empty).
func Save(cfg Config, path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Exists returns true if a config file exists at path (the default path when empty).
func Exists(path string) bool {
	if path == "" {
		path = Path()
	}
	_, err := os.Stat(path)
	return err == nil
}

// applyEnv overlays the deployment environment variables onto cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	amount := func(key string, dst *decimal.Decimal) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("OPENAI_ADMIN_KEY", &cfg.CostAPI.APIKey)
	str("CREDITWATCH_LEDGER", &cfg.General.LedgerPath)
	str("SMTP_EMAIL", &cfg.SMTP.User)
	str("SMTP_PASSWORD", &cfg.SMTP.Password)
	str("SMTP_SERVER", &cfg.SMTP.Server)
	str("ALERT_RECIPIENT_EMAIL", &cfg.SMTP.Recipient)

	if err := amount("ALERT_THRESHOLD", &cfg.Alert.Threshold); err != nil {
		return err
	}
	if err := amount("INITIAL_TOTAL_DEPOSITED", &cfg.General.InitialDeposit); err != nil {
		return err
	}
	if v, ok := lookup("SMTP_PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parsing SMTP_PORT: %w", err)
		}
		cfg.SMTP.Port = port
	}
	if cfg.SMTP.Recipient == "" {
		cfg.SMTP.Recipient = cfg.SMTP.User
	}
	return nil
}

// Location resolves the alert time zone, defaulting to the local zone.
func (c AlertConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// MaskKey hides all but the first few characters of a secret.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "..." + fmt.Sprintf(" (%d chars)", len(key))
}
