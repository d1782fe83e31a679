package entity

import "time"

// InstanceRef addresses one workflow instance
type InstanceRef struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

// WorkflowInstance is a job-search application or certificate issuance request
type WorkflowInstance struct {
	ID               string     `json:"id"`
	Kind             Kind       `json:"kind"`
	StateCode        string     `json:"state_code"`
	Category         int        `json:"category"`
	Media            string     `json:"media,omitempty"`
	OwnerUserID      string     `json:"owner_user_id"`
	SupervisorUserID string     `json:"supervisor_user_id"`
	HandlerUserID    string     `json:"handler_user_id,omitempty"`
	SchoolChecked    bool       `json:"school_checked"`
	LastActivityAt   time.Time  `json:"last_activity_at"`
	ScheduledEndAt   *time.Time `json:"scheduled_end_at,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Ref returns the instance's address
func (i *WorkflowInstance) Ref() InstanceRef {
	return InstanceRef{Kind: i.Kind, ID: i.ID}
}
