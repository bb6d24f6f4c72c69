package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/creditwatch/internal/cli"
	"github.com/theirongolddev/creditwatch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := flagConfig
	if path == "" {
		path = config.Path()
	}
	fmt.Printf("  Config file: %s\n", path)
	if config.Exists(flagConfig) {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [General]")
	fmt.Printf("    Ledger:          %s (%s)\n", cfg.General.LedgerPath, cfg.General.Store)
	fmt.Printf("    Initial deposit: %s\n", cli.FormatMoney(cfg.General.InitialDeposit))
	fmt.Printf("    Lookback:        %d days\n", cfg.General.LookbackDays)
	fmt.Println()

	fmt.Println("  [Cost API]")
	if cfg.CostAPI.APIKey != "" {
		fmt.Printf("    Admin key: %s\n", config.MaskKey(cfg.CostAPI.APIKey))
	} else {
		fmt.Println("    Admin key: not configured")
	}
	fmt.Printf("    Base URL:  %s\n", cfg.CostAPI.BaseURL)
	fmt.Printf("    Paging:    %d per page, max %d requests\n", cfg.CostAPI.PageLimit, cfg.CostAPI.MaxPages)
	fmt.Println()

	fmt.Println("  [Alert]")
	fmt.Printf("    Threshold:   %s\n", cli.FormatMoney(cfg.Alert.Threshold))
	fmt.Printf("    Cooldown:    %s\n", cfg.Alert.Cooldown)
	fmt.Printf("    Quiet hours: %02d:00-%02d:00", cfg.Alert.QuietStart, cfg.Alert.QuietEnd)
	if cfg.Alert.Timezone != "" {
		fmt.Printf(" %s", cfg.Alert.Timezone)
	}
	fmt.Println()
	fmt.Println()

	fmt.Println("  [Transports]")
	if cfg.SMTP.User != "" && cfg.SMTP.Password != "" {
		fmt.Printf("    Email: %s via %s:%d\n", cfg.SMTP.Recipient, cfg.SMTP.Server, cfg.SMTP.Port)
	} else {
		fmt.Println("    Email: not configured")
	}
	if len(cfg.Kafka.Brokers) > 0 {
		fmt.Printf("    Kafka: %s on %s\n", cfg.Kafka.Topic, strings.Join(cfg.Kafka.Brokers, ","))
	} else {
		fmt.Println("    Kafka: not configured")
	}
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Listen:   %s\n", cfg.Daemon.Addr)
	fmt.Printf("    Schedule: %s\n", cfg.Daemon.Schedule)
	fmt.Printf("    Metrics:  %v\n", cfg.Metrics.Enabled)
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	if config.Exists(flagConfig) {
		return errors.New("config file already exists")
	}
	if err := config.Save(config.DefaultConfig(), flagConfig); err != nil {
		return err
	}
	path := flagConfig
	if path == "" {
		path = config.Path()
	}
	fmt.Printf("  Wrote %s\n", path)
	return nil
}
