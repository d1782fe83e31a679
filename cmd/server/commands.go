package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/container"
	httpserver "github.com/garyjia/portal-workflow/internal/interfaces/http"
	"github.com/garyjia/portal-workflow/pkg/database"
	"github.com/garyjia/portal-workflow/pkg/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the batch scheduler",
	RunE:  runServe,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run one re-notification sweep and payment reaper pass",
	Long: `Run the batch once and print its report as JSON.

The sweep runs first; when it fails the reaper is skipped. The exit status is
non-zero when either step fails.`,
	RunE: runBatch,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting portal workflow engine",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("batch_schedule", cfg.Batch.Schedule))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container close failed", zap.Error(err))
		}
	}()

	server := httpserver.NewServer(cfg.ToServerConfig(), httpserver.Services{
		Engine: c.WorkflowEngine(),
		Ledger: c.Services().Ledger,
		Users:  c.Repositories().User,
		Batch:  c.BatchWorker(),
	}, utils.NewKVLogger(logger))

	// Start blocks until the signal context is cancelled
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Server exited successfully")
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cc := cfg.ToContainerConfig()
	cc.Batch.Enabled = false

	c, err := container.NewContainer(cc, logger)
	if err != nil {
		return err
	}
	if err := c.Start(cmd.Context()); err != nil {
		_ = c.Close()
		return err
	}
	defer c.Close()

	report, runErr := c.BatchWorker().RunOnce(cmd.Context())
	if report != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	return runErr
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := database.New(database.Config{Path: cfg.Database.Path, MaxOpenConns: 1}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.NewMigrator(db, logger).Migrate()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", applied, cfg.Database.Path)
	return nil
}
