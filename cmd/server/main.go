package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/config"
	"github.com/garyjia/portal-workflow/pkg/utils"
)

const version = "1.0.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "portal-workflow",
	Short: "Approval workflow engine for the job-hunting and certificate portal",
	Long: `portal-workflow drives job-search applications and certificate issuance
requests through their approval states, keeps the notification ledger in step,
and runs the periodic re-notification sweep and payment reaper.

Available commands:
  serve    - Start the HTTP API and the batch scheduler
  batch    - Run one sweep and reaper pass, then exit
  migrate  - Apply pending database migrations

Examples:
  portal-workflow serve --config configs/config.yaml
  portal-workflow batch
  portal-workflow migrate`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file (defaults and environment only when empty)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadRuntime reads configuration and builds the logger every command needs
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(cfg.ToLoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
