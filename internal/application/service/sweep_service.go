package service

import (
	"context"
	"time"
	_ "time/tzdata"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
)

// DefaultBreachThreshold is how long an open instance may sit idle before its notification is flagged
const DefaultBreachThreshold = 48 * time.Hour

// SweepResult records whether one open instance was found in breach
type SweepResult struct {
	Ref      entity.InstanceRef `json:"ref"`
	Breached bool               `json:"breached"`
}

// SweepService flags stalled instances for re-notification
type SweepService interface {
	// Run scans every open instance once. On failure the results gathered so far
	// are returned with the error; flags already set stay set.
	Run(ctx context.Context) ([]SweepResult, error)
}

type sweepServiceImpl struct {
	instanceRepo port.InstanceRepository
	ledger       NotificationLedger
	logger       *zap.Logger
	now          func() time.Time
	location     *time.Location
	threshold    time.Duration
}

// SweepOption configures the sweep
type SweepOption func(*sweepServiceImpl)

// WithSweepClock sets the sweep's time source
func WithSweepClock(now func() time.Time) SweepOption {
	return func(s *sweepServiceImpl) {
		s.now = now
	}
}

// WithSweepLocation sets the zone "now" is taken in
func WithSweepLocation(loc *time.Location) SweepOption {
	return func(s *sweepServiceImpl) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithBreachThreshold overrides DefaultBreachThreshold
func WithBreachThreshold(d time.Duration) SweepOption {
	return func(s *sweepServiceImpl) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// NewSweepService creates a new SweepService
func NewSweepService(instanceRepo port.InstanceRepository, ledger NotificationLedger, logger *zap.Logger, opts ...SweepOption) SweepService {
	s := &sweepServiceImpl{
		instanceRepo: instanceRepo,
		ledger:       ledger,
		logger:       logger,
		now:          time.Now,
		location:     time.UTC,
		threshold:    DefaultBreachThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var sweepKinds = []struct {
	kind     entity.Kind
	terminal func() []string
}{
	{entity.KindApplication, domainwf.TerminalApplicationCodes},
	{entity.KindCertificate, domainwf.TerminalCertificateCodes},
}

// Run scans applications, then certificate requests
func (s *sweepServiceImpl) Run(ctx context.Context) ([]SweepResult, error) {
	now := s.now().In(s.location)
	var results []SweepResult
	flagged := 0

	for _, k := range sweepKinds {
		open, err := s.instanceRepo.ListOpen(ctx, k.kind, k.terminal())
		if err != nil {
			s.logger.Error("Sweep aborted: failed to list open instances",
				zap.String("instance_kind", k.kind.String()),
				zap.Int("flagged", flagged),
				zap.Error(err))
			return results, errors.Mark(errors.Wrapf(err, "list open %s instances", k.kind), domainwf.ErrPersistenceFailure)
		}

		for _, inst := range open {
			if err := ctx.Err(); err != nil {
				return results, err
			}

			breached := now.Sub(relevantTime(inst)) >= s.threshold
			if breached {
				if _, err := s.ledger.MarkResend(ctx, inst.Ref()); err != nil {
					s.logger.Error("Sweep aborted: failed to flag notification",
						zap.String("instance_kind", inst.Kind.String()),
						zap.String("instance_id", inst.ID),
						zap.Int("flagged", flagged),
						zap.Error(err))
					return results, err
				}
				flagged++
			}
			results = append(results, SweepResult{Ref: inst.Ref(), Breached: breached})
		}
	}

	s.logger.Info("Sweep completed",
		zap.Int("scanned", len(results)),
		zap.Int("flagged", flagged))
	return results, nil
}

// relevantTime is the scheduled end for applications awaiting or holding an exam
// report, and the last activity time otherwise.
func relevantTime(inst *entity.WorkflowInstance) time.Time {
	if inst.Kind == entity.KindApplication && inst.ScheduledEndAt != nil {
		if code, err := domainwf.ParseApplicationCode(inst.StateCode); err == nil && code.UsesScheduledEnd() {
			return *inst.ScheduledEndAt
		}
	}
	return inst.LastActivityAt
}
