package port

import (
	"context"
	"time"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
)

// InstanceRepository defines persistence operations for workflow instances.
// Lookups return nil, nil when the instance does not exist.
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, ref entity.InstanceRef) (*entity.WorkflowInstance, error)
	UpdateState(ctx context.Context, ref entity.InstanceRef, code string, at time.Time) error
	MarkSchoolChecked(ctx context.Context, ref entity.InstanceRef) error
	SetHandler(ctx context.Context, ref entity.InstanceRef, userID string) error
	SetApprovedAt(ctx context.Context, ref entity.InstanceRef, t time.Time) error
	Delete(ctx context.Context, ref entity.InstanceRef) error
	// ListOpen returns the instances of kind whose code is not in terminal
	ListOpen(ctx context.Context, kind entity.Kind, terminal []string) ([]*entity.WorkflowInstance, error)
	ListByState(ctx context.Context, kind entity.Kind, code string) ([]*entity.WorkflowInstance, error)
}

// NotificationRepository defines persistence operations for the notification ledger
type NotificationRepository interface {
	// Insert writes the notification row and its join row for the instance kind
	Insert(ctx context.Context, n *entity.Notification) error
	// DeleteByInstance removes every notification linked to the instance and returns the count
	DeleteByInstance(ctx context.Context, ref entity.InstanceRef) (int64, error)
	// SetResendByInstance flags every notification linked to the instance and returns the count
	SetResendByInstance(ctx context.Context, ref entity.InstanceRef) (int64, error)
	ListByInstance(ctx context.Context, ref entity.InstanceRef) ([]*entity.Notification, error)
	// ListByUser returns a user's notifications, resend-flagged first
	ListByUser(ctx context.Context, userID string) ([]*entity.Notification, error)
}

// HistoryRepository defines persistence operations for TransitionHistory
type HistoryRepository interface {
	Create(ctx context.Context, h *entity.TransitionHistory) error
	ListByInstance(ctx context.Context, ref entity.InstanceRef) ([]*entity.TransitionHistory, error)
}

// UserRepository resolves portal users
type UserRepository interface {
	Create(ctx context.Context, u *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	ListByRole(ctx context.Context, role string) ([]*entity.User, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
