package workflow

import (
	"context"
	"time"

	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
)

// WorkflowEngine drives applications and certificate requests through their state machines
type WorkflowEngine interface {
	// SubmitApplication creates an application at code 11 and notifies the supervisor
	SubmitApplication(ctx context.Context, req SubmitApplicationRequest) (*entity.WorkflowInstance, error)

	// SubmitCertificate creates a certificate request at code 0 and notifies the supervisor
	SubmitCertificate(ctx context.Context, req SubmitCertificateRequest) (*entity.WorkflowInstance, error)

	// ApplyApplication applies a user action to an application
	ApplyApplication(ctx context.Context, id string, cmd ApplicationCommand) (*TransitionResult, error)

	// ApplyIssuance applies a button press to a certificate request
	ApplyIssuance(ctx context.Context, id string, cmd IssuanceCommand) (*TransitionResult, error)

	// DeleteApplication revokes the notification and voids the application
	DeleteApplication(ctx context.Context, id, actorUserID string) error

	// DeleteCertificate revokes the notification and removes the request
	DeleteCertificate(ctx context.Context, id, actorUserID string) error

	// GetInstance returns the instance or ErrInstanceNotFound
	GetInstance(ctx context.Context, ref entity.InstanceRef) (*entity.WorkflowInstance, error)

	// History returns the transition trail of an instance
	History(ctx context.Context, ref entity.InstanceRef) ([]*entity.TransitionHistory, error)
}

// SubmitApplicationRequest carries a new job-search application
type SubmitApplicationRequest struct {
	ID               string
	OwnerUserID      string
	SupervisorUserID string
	Category         int
	ScheduledEndAt   *time.Time
}

// SubmitCertificateRequest carries a new certificate issuance request
type SubmitCertificateRequest struct {
	ID               string
	OwnerUserID      string
	SupervisorUserID string
	Category         int
	Media            string
}

// ApplicationCommand is one user action on an application
type ApplicationCommand struct {
	Action      domainwf.Action
	ActorUserID string
	SchoolCheck bool
}

// IssuanceCommand is one button press on a certificate request
type IssuanceCommand struct {
	Button      domainwf.Button
	ActorUserID string
}

// TransitionResult describes a committed transition
type TransitionResult struct {
	Ref          entity.InstanceRef `json:"ref"`
	PreviousCode string             `json:"previous_code"`
	NewCode      string             `json:"new_code"`
	Notified     []string           `json:"notified"`
}
