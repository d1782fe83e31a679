package event

// Type identifies the type of domain event
type Type string

const (
	TypeInstanceSubmitted Type = "workflow.submitted"
	TypeTransitioned      Type = "workflow.transitioned"
	TypeInstanceDeleted   Type = "workflow.deleted"
	TypeCertificateReaped Type = "certificate.reaped"
)

// Payload keys shared by producers and handlers
const (
	PayloadPreviousCode = "previous_code"
	PayloadNewCode      = "new_code"
	PayloadAction       = "action"
	PayloadActor        = "actor_user_id"
	PayloadOwner        = "owner_user_id"
	PayloadSupervisor   = "supervisor_user_id"
	PayloadApprovedAt   = "approved_at"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInstanceSubmitted,
		TypeTransitioned,
		TypeInstanceDeleted,
		TypeCertificateReaped:
		return true
	default:
		return false
	}
}
