package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BatchReport is the outcome of one batch pass
type BatchReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Sweep     []SweepResult `json:"sweep"`
	Reap      *ReapReport   `json:"reap,omitempty"`
}

// BatchService runs the periodic maintenance: the re-notification sweep, then the payment reaper
type BatchService interface {
	Run(ctx context.Context) (*BatchReport, error)
}

type batchServiceImpl struct {
	sweep  SweepService
	reaper ReaperService
	logger *zap.Logger
}

// NewBatchService creates a new BatchService
func NewBatchService(sweep SweepService, reaper ReaperService, logger *zap.Logger) BatchService {
	return &batchServiceImpl{sweep: sweep, reaper: reaper, logger: logger}
}

// Run stops at the first failing step; work already done in the pass is kept
func (b *batchServiceImpl) Run(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{StartedAt: time.Now()}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	results, err := b.sweep.Run(ctx)
	report.Sweep = results
	if err != nil {
		b.logger.Error("Batch failed in sweep", zap.Error(err))
		return report, err
	}

	reap, err := b.reaper.Run(ctx)
	report.Reap = reap
	if err != nil {
		b.logger.Error("Batch failed in reaper", zap.Error(err))
		return report, err
	}

	b.logger.Info("Batch completed",
		zap.Int("swept", len(results)),
		zap.Int("reaped", len(reap.Reaped)),
		zap.Int("partial_failures", len(reap.PartialFailures)))
	return report, nil
}
