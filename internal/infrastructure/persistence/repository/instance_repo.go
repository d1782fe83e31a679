package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/portal-workflow/internal/application/port"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	"github.com/garyjia/portal-workflow/internal/infrastructure/persistence/sqlite"
)

const instanceColumns = `
	instance_id, instance_kind, state_code, category, media,
	owner_user_id, supervisor_user_id, handler_user_id, school_checked,
	last_activity_at, scheduled_end_at, approved_at, created_at, updated_at`

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Create inserts a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `INSERT INTO workflow_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := r.now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}
	if instance.LastActivityAt.IsZero() {
		instance.LastActivityAt = instance.CreatedAt
	}
	instance.UpdatedAt = now

	_, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query,
		instance.ID,
		int(instance.Kind),
		instance.StateCode,
		instance.Category,
		instance.Media,
		instance.OwnerUserID,
		instance.SupervisorUserID,
		instance.HandlerUserID,
		instance.SchoolChecked,
		instance.LastActivityAt.UTC(),
		nullTime(instance.ScheduledEndAt),
		nullTime(instance.ApprovedAt),
		instance.CreatedAt.UTC(),
		instance.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create instance",
			zap.String("instance_kind", instance.Kind.String()),
			zap.String("instance_id", instance.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetByID retrieves a workflow instance, or nil when it does not exist
func (r *InstanceRepository) GetByID(ctx context.Context, ref entity.InstanceRef) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE instance_kind = ? AND instance_id = ?`

	instance, err := scanInstance(sqlite.Conn(ctx, r.db).QueryRowContext(ctx, query, int(ref.Kind), ref.ID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.String("instance_id", ref.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// UpdateState writes the new state code and stamps the activity time
func (r *InstanceRepository) UpdateState(ctx context.Context, ref entity.InstanceRef, code string, at time.Time) error {
	query := `
		UPDATE workflow_instances
		SET state_code = ?, last_activity_at = ?, updated_at = ?
		WHERE instance_kind = ? AND instance_id = ?
	`
	return r.update(ctx, "update state", ref, query, code, at.UTC(), r.now().UTC())
}

// MarkSchoolChecked records that the school check was performed
func (r *InstanceRepository) MarkSchoolChecked(ctx context.Context, ref entity.InstanceRef) error {
	query := `
		UPDATE workflow_instances
		SET school_checked = 1, updated_at = ?
		WHERE instance_kind = ? AND instance_id = ?
	`
	return r.update(ctx, "mark school checked", ref, query, r.now().UTC())
}

// SetHandler assigns the office staff member handling a request
func (r *InstanceRepository) SetHandler(ctx context.Context, ref entity.InstanceRef, userID string) error {
	query := `
		UPDATE workflow_instances
		SET handler_user_id = ?, updated_at = ?
		WHERE instance_kind = ? AND instance_id = ?
	`
	return r.update(ctx, "set handler", ref, query, userID, r.now().UTC())
}

// SetApprovedAt stamps the approval date the payment deadline runs from
func (r *InstanceRepository) SetApprovedAt(ctx context.Context, ref entity.InstanceRef, t time.Time) error {
	query := `
		UPDATE workflow_instances
		SET approved_at = ?, updated_at = ?
		WHERE instance_kind = ? AND instance_id = ?
	`
	return r.update(ctx, "set approval time", ref, query, t.UTC(), r.now().UTC())
}

// update runs a single-row UPDATE; args are followed by the instance key
func (r *InstanceRepository) update(ctx context.Context, what string, ref entity.InstanceRef, query string, args ...interface{}) error {
	args = append(args, int(ref.Kind), ref.ID)
	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+what, zap.String("instance_id", ref.ID), zap.Error(err))
		return fmt.Errorf("failed to %s: %w", what, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failed to %s: %s instance %s not found", what, ref.Kind, ref.ID)
	}
	return nil
}

// Delete removes the instance. Deleting a missing instance is not an error.
func (r *InstanceRepository) Delete(ctx context.Context, ref entity.InstanceRef) error {
	query := `DELETE FROM workflow_instances WHERE instance_kind = ? AND instance_id = ?`

	if _, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query, int(ref.Kind), ref.ID); err != nil {
		r.logger.Error("Failed to delete instance", zap.String("instance_id", ref.ID), zap.Error(err))
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return nil
}

// ListOpen returns the instances of kind whose code is not terminal
func (r *InstanceRepository) ListOpen(ctx context.Context, kind entity.Kind, terminal []string) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE instance_kind = ?`
	args := []interface{}{int(kind)}

	if len(terminal) > 0 {
		query += ` AND state_code NOT IN (` + placeholders(len(terminal)) + `)`
		for _, code := range terminal {
			args = append(args, code)
		}
	}
	query += ` ORDER BY instance_id`

	return r.list(ctx, "list open instances", query, args...)
}

// ListByState returns the instances of kind at code
func (r *InstanceRepository) ListByState(ctx context.Context, kind entity.Kind, code string) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE instance_kind = ? AND state_code = ?
		ORDER BY instance_id`

	return r.list(ctx, "list instances by state", query, int(kind), code)
}

func (r *InstanceRepository) list(ctx context.Context, what, query string, args ...interface{}) ([]*entity.WorkflowInstance, error) {
	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+what, zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", what, err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var kind int
	var scheduledEnd, approvedAt sql.NullTime

	err := row.Scan(
		&instance.ID,
		&kind,
		&instance.StateCode,
		&instance.Category,
		&instance.Media,
		&instance.OwnerUserID,
		&instance.SupervisorUserID,
		&instance.HandlerUserID,
		&instance.SchoolChecked,
		&instance.LastActivityAt,
		&scheduledEnd,
		&approvedAt,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Kind = entity.Kind(kind)
	if scheduledEnd.Valid {
		t := scheduledEnd.Time
		instance.ScheduledEndAt = &t
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		instance.ApprovedAt = &t
	}
	return &instance, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var _ port.InstanceRepository = (*InstanceRepository)(nil)
