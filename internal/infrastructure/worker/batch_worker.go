package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/service"
)

// DefaultBatchSchedule runs the batch every minute
const DefaultBatchSchedule = "* * * * *"

// BatchWorkerConfig holds configuration for the batch worker
type BatchWorkerConfig struct {
	// Schedule is a standard five-field cron expression or a descriptor such as "@daily"
	Schedule string
	Location *time.Location
	// RunTimeout bounds a single pass; zero means no limit
	RunTimeout time.Duration
}

// DefaultBatchWorkerConfig returns default configuration
func DefaultBatchWorkerConfig() BatchWorkerConfig {
	return BatchWorkerConfig{
		Schedule: DefaultBatchSchedule,
		Location: time.UTC,
	}
}

// BatchStats is a snapshot of the worker's runtime counters
type BatchStats struct {
	Runs      int
	Failures  int
	Skipped   int
	LastRunAt time.Time
	LastError error
}

// BatchWorker triggers the re-notification sweep and payment reaper on a cron schedule.
// A tick that fires while the previous pass is still running is skipped.
type BatchWorker struct {
	config BatchWorkerConfig
	batch  service.BatchService
	logger *zap.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	inFlight  bool
	stats     BatchStats
}

// NewBatchWorker creates a new batch worker
func NewBatchWorker(config BatchWorkerConfig, batch service.BatchService, logger *zap.Logger) *BatchWorker {
	if config.Schedule == "" {
		config.Schedule = DefaultBatchSchedule
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &BatchWorker{
		config: config,
		batch:  batch,
		logger: logger,
	}
}

// Start schedules the batch and returns immediately
func (w *BatchWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("batch worker already running")
	}

	cronLogger := NewCronLogger(w.logger)
	c := cron.New(
		cron.WithLocation(w.config.Location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)
	if _, err := c.AddFunc(w.config.Schedule, w.tick); err != nil {
		return fmt.Errorf("invalid batch schedule %q: %w", w.config.Schedule, err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.cron = c
	w.isRunning = true
	c.Start()

	w.logger.Info("BatchWorker started",
		zap.String("schedule", w.config.Schedule),
		zap.String("location", w.config.Location.String()))
	return nil
}

// Stop halts the schedule and waits for an in-flight pass to finish
func (w *BatchWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	c := w.cron
	w.mu.Unlock()

	<-c.Stop().Done()
	if w.cancel != nil {
		w.cancel()
	}

	stats := w.Stats()
	w.logger.Info("BatchWorker stopped",
		zap.Int("runs", stats.Runs),
		zap.Int("failures", stats.Failures),
		zap.Int("skipped", stats.Skipped))
	return nil
}

// Name returns the worker name for identification
func (w *BatchWorker) Name() string {
	return "BatchWorker"
}

// Stats returns a copy of the runtime counters
func (w *BatchWorker) Stats() BatchStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *BatchWorker) tick() {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_, _ = w.RunOnce(ctx)
}

// RunOnce executes one batch pass unless another is in flight, in which case
// it returns (nil, nil) and counts the skip.
func (w *BatchWorker) RunOnce(ctx context.Context) (*service.BatchReport, error) {
	w.mu.Lock()
	if w.inFlight {
		w.stats.Skipped++
		w.mu.Unlock()
		w.logger.Warn("Batch still running, skipping tick")
		return nil, nil
	}
	w.inFlight = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.inFlight = false
		w.mu.Unlock()
	}()

	if w.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.RunTimeout)
		defer cancel()
	}

	report, err := w.batch.Run(ctx)

	w.mu.Lock()
	w.stats.Runs++
	w.stats.LastRunAt = time.Now()
	w.stats.LastError = err
	if err != nil {
		w.stats.Failures++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Batch pass failed", zap.Error(err))
		return report, err
	}

	fields := []zap.Field{zap.Int("swept", len(report.Sweep)), zap.Duration("duration", report.Duration)}
	if report.Reap != nil {
		fields = append(fields,
			zap.Int("reaped", len(report.Reap.Reaped)),
			zap.Int("partial_failures", len(report.Reap.PartialFailures)))
	}
	w.logger.Info("Batch pass succeeded", fields...)
	return report, nil
}
