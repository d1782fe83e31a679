package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/dispatcher"
	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	"github.com/garyjia/portal-workflow/internal/domain/event"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
)

// DefaultPaymentGrace is how long an approved certificate request waits for payment
const DefaultPaymentGrace = 48 * time.Hour

// ReapReport summarizes one reaper pass
type ReapReport struct {
	Reaped          []string `json:"reaped"`
	PartialFailures []string `json:"partial_failures,omitempty"`
}

// ReaperService deletes certificate requests whose payment deadline passed
type ReaperService interface {
	Run(ctx context.Context) (*ReapReport, error)
}

type reaperServiceImpl struct {
	instanceRepo port.InstanceRepository
	historyRepo  port.HistoryRepository
	ledger       NotificationLedger
	txManager    port.TransactionManager
	dispatcher   dispatcher.Dispatcher
	logger       *zap.Logger
	now          func() time.Time
	grace        time.Duration
}

// ReaperOption configures the reaper
type ReaperOption func(*reaperServiceImpl)

// WithReaperClock sets the reaper's time source
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *reaperServiceImpl) {
		r.now = now
	}
}

// WithPaymentGrace overrides DefaultPaymentGrace
func WithPaymentGrace(d time.Duration) ReaperOption {
	return func(r *reaperServiceImpl) {
		if d > 0 {
			r.grace = d
		}
	}
}

// NewReaperService creates a new ReaperService. The dispatcher delivers
// certificate.reaped synchronously so a failed notice is reported as a partial failure.
func NewReaperService(
	instanceRepo port.InstanceRepository,
	historyRepo port.HistoryRepository,
	ledger NotificationLedger,
	txManager port.TransactionManager,
	d dispatcher.Dispatcher,
	logger *zap.Logger,
	opts ...ReaperOption,
) ReaperService {
	r := &reaperServiceImpl{
		instanceRepo: instanceRepo,
		historyRepo:  historyRepo,
		ledger:       ledger,
		txManager:    txManager,
		dispatcher:   d,
		logger:       logger,
		now:          time.Now,
		grace:        DefaultPaymentGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reaps every overdue request. A failed deletion aborts the pass; a failed
// notice after a deletion does not.
func (r *reaperServiceImpl) Run(ctx context.Context) (*ReapReport, error) {
	report := &ReapReport{}
	now := r.now()

	approved, err := r.instanceRepo.ListByState(ctx, entity.KindCertificate, domainwf.CertApproved.String())
	if err != nil {
		r.logger.Error("Reaper aborted: failed to list approved requests", zap.Error(err))
		return report, errors.Mark(errors.Wrap(err, "list approved certificate requests"), domainwf.ErrPersistenceFailure)
	}

	for _, inst := range approved {
		approvedAt := inst.LastActivityAt
		if inst.ApprovedAt != nil {
			approvedAt = *inst.ApprovedAt
		}
		if now.Sub(approvedAt) <= r.grace {
			continue
		}

		if err := r.reap(ctx, inst); err != nil {
			r.logger.Error("Reaper aborted: failed to delete overdue request",
				zap.String("instance_id", inst.ID),
				zap.Int("reaped", len(report.Reaped)),
				zap.Error(err))
			return report, err
		}
		report.Reaped = append(report.Reaped, inst.ID)

		evt := event.NewEvent(event.TypeCertificateReaped, inst.Ref(), map[string]interface{}{
			event.PayloadOwner:      inst.OwnerUserID,
			event.PayloadSupervisor: inst.SupervisorUserID,
			event.PayloadApprovedAt: approvedAt,
		})
		if err := r.dispatcher.Dispatch(ctx, evt); err != nil {
			r.logger.Warn("Request deleted but notice failed (partial failure)",
				zap.String("instance_id", inst.ID),
				zap.Error(err))
			report.PartialFailures = append(report.PartialFailures, inst.ID)
			continue
		}

		r.logger.Info("Overdue certificate request reaped",
			zap.String("instance_id", inst.ID),
			zap.Time("approved_at", approvedAt))
	}

	return report, nil
}

// reap revokes the notification and deletes the request in one transaction
func (r *reaperServiceImpl) reap(ctx context.Context, inst *entity.WorkflowInstance) error {
	ref := inst.Ref()
	return r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := r.ledger.Revoke(txCtx, ref); err != nil {
			return err
		}
		if err := r.instanceRepo.Delete(txCtx, ref); err != nil {
			return errors.Mark(errors.Wrap(err, "delete certificate request"), domainwf.ErrPersistenceFailure)
		}
		h := &entity.TransitionHistory{
			Kind:         ref.Kind,
			InstanceID:   ref.ID,
			ActorUserID:  "system",
			PreviousCode: inst.StateCode,
			Action:       entity.HistoryActionReap,
			CreatedAt:    r.now(),
		}
		if err := r.historyRepo.Create(txCtx, h); err != nil {
			return errors.Mark(errors.Wrap(err, "create history record"), domainwf.ErrPersistenceFailure)
		}
		return nil
	})
}

// NewReapNoticeHandler returns a certificate.reaped handler that emails the
// student with the supervising teacher in cc.
func NewReapNoticeHandler(users port.UserRepository, mailer port.Mailer, logger *zap.Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		student, err := users.GetByID(ctx, evt.GetPayloadString(event.PayloadOwner))
		if err != nil {
			return errors.Wrap(err, "resolve student")
		}
		if student == nil || student.Email == "" {
			return errors.Newf("no email address for student of %s", evt.InstanceID)
		}

		msg := port.MailMessage{
			To:      []string{student.Email},
			Subject: "証明書発行申請の取消のお知らせ",
			Body:    reapNoticeBody(evt),
		}

		teacher, err := users.GetByID(ctx, evt.GetPayloadString(event.PayloadSupervisor))
		if err != nil {
			logger.Warn("Could not resolve teacher for cc", zap.String("instance_id", evt.InstanceID), zap.Error(err))
		} else if teacher != nil && teacher.Email != "" {
			msg.Cc = []string{teacher.Email}
		}

		if err := mailer.Send(ctx, msg); err != nil {
			return errors.Wrap(err, "send deletion notice")
		}
		return nil
	}
}

func reapNoticeBody(evt *event.Event) string {
	body := fmt.Sprintf("証明書発行申請 %s は支払期限を過ぎたため削除されました。\n", evt.InstanceID)
	if at, ok := evt.GetPayloadTime(event.PayloadApprovedAt); ok {
		body += fmt.Sprintf("承認日: %s\n", at.Format("2006-01-02"))
	}
	return body + "再度申請する場合はポータルから手続きしてください。\n"
}
