package entity

import "time"

// TransitionHistory is the audit trail of one state change
type TransitionHistory struct {
	ID           int64     `json:"id"`
	Kind         Kind      `json:"instance_kind"`
	InstanceID   string    `json:"instance_id"`
	ActorUserID  string    `json:"actor_user_id"`
	PreviousCode string    `json:"previous_code"`
	NewCode      string    `json:"new_code"`
	Action       string    `json:"action"`
	CreatedAt    time.Time `json:"created_at"`
}

// User is a portal account as seen by the workflow engine
type User struct {
	ID    string `json:"user_id"`
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
