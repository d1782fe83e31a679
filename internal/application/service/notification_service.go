package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
)

// NotificationLedger keeps at most one live notification per workflow instance.
// Calls made with a transaction context join that transaction.
type NotificationLedger interface {
	// Issue inserts a notification for userID. Unless first is set, the instance's
	// existing notifications are revoked beforehand.
	Issue(ctx context.Context, ref entity.InstanceRef, userID string, first bool) (*entity.Notification, error)

	// Revoke deletes every notification of the instance. Deleting nothing is not an error.
	Revoke(ctx context.Context, ref entity.InstanceRef) error

	// MarkResend flags the instance's notification for resend in place
	MarkResend(ctx context.Context, ref entity.InstanceRef) (int64, error)

	ListForInstance(ctx context.Context, ref entity.InstanceRef) ([]*entity.Notification, error)
	ListForUser(ctx context.Context, userID string) ([]*entity.Notification, error)
}

type notificationLedgerImpl struct {
	repo   port.NotificationRepository
	logger *zap.Logger
	newID  func() string
	now    func() time.Time
}

// LedgerOption configures the notification ledger
type LedgerOption func(*notificationLedgerImpl)

// WithIDGenerator replaces the notification id generator
func WithIDGenerator(fn func() string) LedgerOption {
	return func(l *notificationLedgerImpl) {
		l.newID = fn
	}
}

// WithLedgerClock replaces the clock used for created_at
func WithLedgerClock(fn func() time.Time) LedgerOption {
	return func(l *notificationLedgerImpl) {
		l.now = fn
	}
}

// NewNotificationLedger creates a new NotificationLedger
func NewNotificationLedger(repo port.NotificationRepository, logger *zap.Logger, opts ...LedgerOption) NotificationLedger {
	l := &notificationLedgerImpl{
		repo:   repo,
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Issue revokes (unless first) and inserts a fresh notification row
func (l *notificationLedgerImpl) Issue(ctx context.Context, ref entity.InstanceRef, userID string, first bool) (*entity.Notification, error) {
	if userID == "" {
		return nil, errors.Mark(
			errors.Newf("no recipient for %s %s", ref.Kind, ref.ID), domainwf.ErrNotificationFailure)
	}

	if !first {
		if err := l.Revoke(ctx, ref); err != nil {
			return nil, err
		}
	}

	n := &entity.Notification{
		ID:           l.newID(),
		TargetUserID: userID,
		InstanceID:   ref.ID,
		Kind:         ref.Kind,
		Resend:       false,
		CreatedAt:    l.now(),
	}
	if err := l.repo.Insert(ctx, n); err != nil {
		l.logger.Error("Failed to issue notification",
			zap.String("instance_kind", ref.Kind.String()),
			zap.String("instance_id", ref.ID),
			zap.String("target_user_id", userID),
			zap.Error(err))
		return nil, errors.Mark(
			errors.Wrapf(err, "issue notification for %s %s", ref.Kind, ref.ID), domainwf.ErrNotificationFailure)
	}

	l.logger.Debug("Notification issued",
		zap.String("notification_id", n.ID),
		zap.String("instance_id", ref.ID),
		zap.String("target_user_id", userID),
		zap.Bool("first", first))
	return n, nil
}

// Revoke deletes the instance's notifications
func (l *notificationLedgerImpl) Revoke(ctx context.Context, ref entity.InstanceRef) error {
	n, err := l.repo.DeleteByInstance(ctx, ref)
	if err != nil {
		l.logger.Error("Failed to revoke notification",
			zap.String("instance_kind", ref.Kind.String()),
			zap.String("instance_id", ref.ID),
			zap.Error(err))
		return errors.Mark(
			errors.Wrapf(err, "revoke notification for %s %s", ref.Kind, ref.ID), domainwf.ErrNotificationFailure)
	}
	if n > 0 {
		l.logger.Debug("Notification revoked", zap.String("instance_id", ref.ID), zap.Int64("rows", n))
	}
	return nil
}

// MarkResend sets the resend flag on the instance's live notification
func (l *notificationLedgerImpl) MarkResend(ctx context.Context, ref entity.InstanceRef) (int64, error) {
	n, err := l.repo.SetResendByInstance(ctx, ref)
	if err != nil {
		return 0, errors.Mark(
			errors.Wrapf(err, "mark resend for %s %s", ref.Kind, ref.ID), domainwf.ErrNotificationFailure)
	}
	return n, nil
}

func (l *notificationLedgerImpl) ListForInstance(ctx context.Context, ref entity.InstanceRef) ([]*entity.Notification, error) {
	out, err := l.repo.ListByInstance(ctx, ref)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "list notifications"), domainwf.ErrPersistenceFailure)
	}
	return out, nil
}

func (l *notificationLedgerImpl) ListForUser(ctx context.Context, userID string) ([]*entity.Notification, error) {
	out, err := l.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "list notifications"), domainwf.ErrPersistenceFailure)
	}
	return out, nil
}
