package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	"github.com/garyjia/portal-workflow/internal/infrastructure/persistence/sqlite"
)

// linkTable names the join table and its instance column for a kind
type linkTable struct {
	table  string
	column string
}

var linkTables = map[entity.Kind]linkTable{
	entity.KindApplication: {table: "application_notifications", column: "application_id"},
	entity.KindCertificate: {table: "certificate_notifications", column: "certificate_id"},
}

func linkFor(kind entity.Kind) (linkTable, error) {
	l, ok := linkTables[kind]
	if !ok {
		return linkTable{}, fmt.Errorf("unknown instance kind %d", int(kind))
	}
	return l, nil
}

// NotificationRepository implements port.NotificationRepository on the
// notifications table and its two per-kind link tables
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Insert writes the notification and its link row in one transaction
func (r *NotificationRepository) Insert(ctx context.Context, n *entity.Notification) error {
	link, err := linkFor(n.Kind)
	if err != nil {
		return err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	return r.inTx(ctx, func(exec sqlite.Executor) error {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO notifications (notification_id, target_user_id, instance_kind, resend_flag, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, n.ID, n.TargetUserID, int(n.Kind), n.ResendFlag(), n.CreatedAt.UTC())
		if err != nil {
			r.logger.Error("Failed to create notification",
				zap.String("instance_id", n.InstanceID),
				zap.String("target_user_id", n.TargetUserID),
				zap.Error(err))
			return fmt.Errorf("failed to create notification: %w", err)
		}

		query := fmt.Sprintf(`INSERT INTO %s (notification_id, %s) VALUES (?, ?)`, link.table, link.column)
		if _, err := exec.ExecContext(ctx, query, n.ID, n.InstanceID); err != nil {
			r.logger.Error("Failed to link notification",
				zap.String("instance_id", n.InstanceID),
				zap.Error(err))
			return fmt.Errorf("failed to link notification: %w", err)
		}
		return nil
	})
}

// DeleteByInstance removes the instance's notifications and their link rows
func (r *NotificationRepository) DeleteByInstance(ctx context.Context, ref entity.InstanceRef) (int64, error) {
	link, err := linkFor(ref.Kind)
	if err != nil {
		return 0, err
	}

	var deleted int64
	err = r.inTx(ctx, func(exec sqlite.Executor) error {
		query := fmt.Sprintf(`
			DELETE FROM notifications
			WHERE instance_kind = ?
			  AND notification_id IN (SELECT notification_id FROM %s WHERE %s = ?)
		`, link.table, link.column)
		result, err := exec.ExecContext(ctx, query, int(ref.Kind), ref.ID)
		if err != nil {
			r.logger.Error("Failed to delete notifications", zap.String("instance_id", ref.ID), zap.Error(err))
			return fmt.Errorf("failed to delete notifications: %w", err)
		}
		if deleted, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		// cascade normally clears these; stale links are removed either way
		query = fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, link.table, link.column)
		if _, err := exec.ExecContext(ctx, query, ref.ID); err != nil {
			return fmt.Errorf("failed to delete notification links: %w", err)
		}
		return nil
	})
	return deleted, err
}

// SetResendByInstance sets resend_flag on every notification of the instance
func (r *NotificationRepository) SetResendByInstance(ctx context.Context, ref entity.InstanceRef) (int64, error) {
	link, err := linkFor(ref.Kind)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		UPDATE notifications SET resend_flag = ?
		WHERE instance_kind = ?
		  AND notification_id IN (SELECT notification_id FROM %s WHERE %s = ?)
	`, link.table, link.column)

	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query, entity.ResendFlagOn, int(ref.Kind), ref.ID)
	if err != nil {
		r.logger.Error("Failed to flag notifications", zap.String("instance_id", ref.ID), zap.Error(err))
		return 0, fmt.Errorf("failed to flag notifications: %w", err)
	}
	return result.RowsAffected()
}

// ListByInstance returns the instance's live notifications
func (r *NotificationRepository) ListByInstance(ctx context.Context, ref entity.InstanceRef) ([]*entity.Notification, error) {
	link, err := linkFor(ref.Kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT n.notification_id, n.target_user_id, l.%s, n.instance_kind, n.resend_flag, n.created_at
		FROM notifications n
		JOIN %s l ON l.notification_id = n.notification_id
		WHERE n.instance_kind = ? AND l.%s = ?
		ORDER BY n.created_at, n.notification_id
	`, link.column, link.table, link.column)

	return r.query(ctx, "list notifications by instance", query, int(ref.Kind), ref.ID)
}

// ListByUser returns a user's notifications, resend-flagged first
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string) ([]*entity.Notification, error) {
	query := `
		SELECT n.notification_id, n.target_user_id,
			COALESCE(a.application_id, c.certificate_id, ''),
			n.instance_kind, n.resend_flag, n.created_at
		FROM notifications n
		LEFT JOIN application_notifications a ON a.notification_id = n.notification_id
		LEFT JOIN certificate_notifications c ON c.notification_id = n.notification_id
		WHERE n.target_user_id = ?
		ORDER BY n.resend_flag DESC, n.created_at, n.notification_id
	`
	return r.query(ctx, "list notifications by user", query, userID)
}

func (r *NotificationRepository) query(ctx context.Context, what, query string, args ...interface{}) ([]*entity.Notification, error) {
	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+what, zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", what, err)
	}
	defer rows.Close()

	var out []*entity.Notification
	for rows.Next() {
		var n entity.Notification
		var flag string
		if err := rows.Scan(&n.ID, &n.TargetUserID, &n.InstanceID, &n.Kind, &flag, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Resend = flag == entity.ResendFlagOn
		out = append(out, &n)
	}
	return out, rows.Err()
}

// inTx runs fn on the context's transaction, or on a local one when the
// caller has none
func (r *NotificationRepository) inTx(ctx context.Context, fn func(exec sqlite.Executor) error) error {
	if tx := sqlite.ExtractTx(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var _ port.NotificationRepository = (*NotificationRepository)(nil)
