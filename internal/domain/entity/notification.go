package entity

import "time"

// Notification is a live notification row linking a user to one workflow instance
type Notification struct {
	ID           string    `json:"notification_id"`
	TargetUserID string    `json:"target_user_id"`
	InstanceID   string    `json:"instance_id"`
	Kind         Kind      `json:"instance_kind"`
	Resend       bool      `json:"resend"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResendFlag returns the persisted form of Resend
func (n *Notification) ResendFlag() string {
	if n.Resend {
		return ResendFlagOn
	}
	return ResendFlagOff
}
